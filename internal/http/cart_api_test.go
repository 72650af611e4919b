package handlers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGuestCartThenLoginMerges(t *testing.T) {
	ta := newTestApp(t)

	// first add creates the device cookie
	resp := ta.do(t, jsonReq("POST", "/api/v1/cart/items", map[string]any{"productId": "mug-enamel", "quantity": 2}))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("want 201, got %d", resp.StatusCode)
	}
	sid := extractCookie(resp, "sid")
	if sid == "" {
		t.Fatal("sid cookie not set")
	}
	device := &http.Cookie{Name: "sid", Value: sid}

	resp = ta.do(t, jsonReq("POST", "/api/v1/cart/items", map[string]any{"productId": "cap-canvas"}, device))
	guest := decodeCart(t, resp)
	if guest.Authenticated || guest.Count != 3 || len(guest.Items) != 2 {
		t.Fatalf("unexpected guest cart %+v", guest)
	}
	if guest.Total != "32.50" { // 2*9.00 + 14.50
		t.Fatalf("want total 32.50, got %s", guest.Total)
	}

	tok := ta.csrfToken(t)
	resp = ta.do(t, formReq("/login", "csrf="+tok+"&email=alice@storefront.test&password=Passw0rd!",
		device, &http.Cookie{Name: "csrf_", Value: tok}))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login: want redirect, got %d", resp.StatusCode)
	}

	signed := decodeCart(t, ta.do(t, jsonReq("GET", "/api/v1/cart", nil, device)))
	if !signed.Authenticated || signed.Count != 3 || len(signed.Items) != 2 {
		t.Fatalf("guest cart not merged: %+v", signed)
	}

	var rows int
	if err := ta.db.Get(&rows, `SELECT COUNT(*) FROM cart_rows WHERE user_id = 'u-alice'`); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Fatalf("want 2 persisted rows, got %d", rows)
	}
	var guests int
	if err := ta.db.Get(&guests, `SELECT COUNT(*) FROM guest_carts`); err != nil {
		t.Fatal(err)
	}
	if guests != 0 {
		t.Fatal("guest record should be cleared after merge")
	}
}

func TestAddOverStockIsConflict(t *testing.T) {
	ta := newTestApp(t)
	device := &http.Cookie{Name: "sid", Value: "dev-stock"}

	// mug-enamel has 3 in stock
	resp := ta.do(t, jsonReq("POST", "/api/v1/cart/items", map[string]any{"productId": "mug-enamel", "quantity": 2}, device))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("want 201, got %d", resp.StatusCode)
	}
	resp = ta.do(t, jsonReq("POST", "/api/v1/cart/items", map[string]any{"productId": "mug-enamel", "quantity": 2}, device))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("want 409, got %d", resp.StatusCode)
	}
	body := decodeCart(t, resp)
	if body.Available != 3 || body.Remaining != 1 || !strings.Contains(body.Error, "3 available") {
		t.Fatalf("unexpected stock error %+v", body)
	}

	cur := decodeCart(t, ta.do(t, jsonReq("GET", "/api/v1/cart", nil, device)))
	if cur.Count != 2 {
		t.Fatalf("cart changed after rejected add: %d", cur.Count)
	}
}

func TestUpdateAndRemoveThroughAPI(t *testing.T) {
	ta := newTestApp(t)
	ta.bindSession(t, "sid-bob", "u-bob")
	bob := &http.Cookie{Name: "sid", Value: "sid-bob"}

	added := decodeCart(t, ta.do(t, jsonReq("POST", "/api/v1/cart/items",
		map[string]any{"productId": "tee-classic", "variantId": "tee-classic-xl-black", "quantity": 1}, bob)))
	if !added.Authenticated || len(added.Items) != 1 {
		t.Fatalf("unexpected cart %+v", added)
	}
	if added.Total != "21.99" { // 19.99 + 2.00
		t.Fatalf("want 21.99, got %s", added.Total)
	}
	id := added.Items[0].ID

	for _, q := range []int{0, 150} {
		resp := ta.do(t, jsonReq("PATCH", "/api/v1/cart/items/"+id, map[string]any{"quantity": q}, bob))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("qty %d: want 400, got %d", q, resp.StatusCode)
		}
	}
	// xl variant has 2 in stock
	resp := ta.do(t, jsonReq("PATCH", "/api/v1/cart/items/"+id, map[string]any{"quantity": 3}, bob))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("want 409, got %d", resp.StatusCode)
	}
	upd := decodeCart(t, ta.do(t, jsonReq("PATCH", "/api/v1/cart/items/"+id, map[string]any{"quantity": 2}, bob)))
	if upd.Count != 2 {
		t.Fatalf("want count 2, got %d", upd.Count)
	}

	resp = ta.do(t, jsonReq("DELETE", "/api/v1/cart/items/"+id, nil, bob))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove: want 200, got %d", resp.StatusCode)
	}
	resp = ta.do(t, jsonReq("DELETE", "/api/v1/cart/items/"+id, nil, bob))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second remove: want 404, got %d", resp.StatusCode)
	}
}

func TestClearCart(t *testing.T) {
	ta := newTestApp(t)
	device := &http.Cookie{Name: "sid", Value: "dev-clear"}
	ta.do(t, jsonReq("POST", "/api/v1/cart/items", map[string]any{"productId": "cap-canvas", "quantity": 4}, device))

	cleared := decodeCart(t, ta.do(t, jsonReq("DELETE", "/api/v1/cart", nil, device)))
	if cleared.Count != 0 || len(cleared.Items) != 0 {
		t.Fatalf("want empty cart, got %+v", cleared)
	}
	if len(cleared.Notices) == 0 || cleared.Notices[0].Kind != "success" {
		t.Fatalf("want success notice, got %+v", cleared.Notices)
	}
}

func TestBearerTokenUsesPersistedCart(t *testing.T) {
	ta := newTestApp(t)

	resp := ta.do(t, jsonReq("POST", "/api/v1/auth/token", map[string]any{"email": "bob@storefront.test", "password": "Passw0rd!"}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token: want 200, got %d", resp.StatusCode)
	}
	var tok struct {
		Token string `json:"token"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &tok); err != nil || tok.Token == "" {
		t.Fatalf("token missing: %s", body)
	}

	req := jsonReq("POST", "/api/v1/cart/items", map[string]any{"productId": "cap-canvas", "quantity": 1})
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	cart := decodeCart(t, ta.do(t, req))
	if !cart.Authenticated || cart.Count != 1 {
		t.Fatalf("bearer cart not persisted: %+v", cart)
	}

	var rows int
	_ = ta.db.Get(&rows, `SELECT COUNT(*) FROM cart_rows WHERE user_id = 'u-bob'`)
	if rows != 1 {
		t.Fatalf("want 1 row for bob, got %d", rows)
	}

	bad := jsonReq("GET", "/api/v1/cart", nil)
	bad.Header.Set("Authorization", "Bearer not-a-token")
	if resp := ta.do(t, bad); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: want 401, got %d", resp.StatusCode)
	}
}

func TestCartEventsRequireUser(t *testing.T) {
	ta := newTestApp(t)
	resp := ta.do(t, httptest.NewRequest("GET", "/api/v1/cart/events", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401 for guest, got %d", resp.StatusCode)
	}
}

func TestCartPageFormFlow(t *testing.T) {
	ta := newTestApp(t)
	device := &http.Cookie{Name: "sid", Value: "dev-page"}

	page := ta.do(t, jsonReq("GET", "/cart", nil, device))
	tok := extractCookie(page, "csrf_")
	if page.StatusCode != http.StatusOK || tok == "" {
		t.Fatalf("cart page: status %d csrf %q", page.StatusCode, tok)
	}
	csrfCookie := &http.Cookie{Name: "csrf_", Value: tok}

	resp := ta.do(t, formReq("/cart", "csrf="+tok+"&productId=cap-canvas&qty=2", device, csrfCookie))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("add: want redirect, got %d", resp.StatusCode)
	}

	resp = ta.do(t, formReq("/cart", "csrf="+tok+"&productId=tee-classic&qty=1", device, csrfCookie))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("out of stock add: want 409, got %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "Only 0 available") || !strings.Contains(string(b), "Canvas Cap") {
		t.Fatalf("page should show the notice and the current cart; body=%s", b)
	}
}
