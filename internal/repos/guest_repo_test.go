package repos_test

import (
	"context"
	"testing"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

func TestGuestRecordRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	guests := repos.NewGuestCartRepo(db)
	rec := guests.Device("dev-1")

	lines, err := rec.Read(ctx)
	if err != nil || lines != nil {
		t.Fatalf("missing record should read as empty: %v %v", lines, err)
	}

	want := []domain.GuestLine{
		{ID: "g_1", ProductID: "cap-canvas", Quantity: 2},
		{ID: "g_2", ProductID: "tee-classic", VariantID: "tee-classic-s-black", Quantity: 1},
	}
	if err := rec.Write(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := rec.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	other, err := guests.Device("dev-2").Read(ctx)
	if err != nil || len(other) != 0 {
		t.Fatalf("devices must not share records: %+v %v", other, err)
	}

	// overwrite keeps order of the new lines
	if err := rec.Write(ctx, want[1:]); err != nil {
		t.Fatal(err)
	}
	got, _ = rec.Read(ctx)
	if len(got) != 1 || got[0].ID != "g_2" {
		t.Fatalf("overwrite mismatch: %+v", got)
	}
}

func TestGuestRecordEmptyWriteClears(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := repos.NewGuestCartRepo(db).Device("dev-clear")

	if err := rec.Write(ctx, []domain.GuestLine{{ID: "g_1", ProductID: "mug-enamel", Quantity: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := rec.Write(ctx, nil); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM guest_carts WHERE device_id = 'dev-clear'`); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatal("empty write should delete the record")
	}
	if err := rec.Clear(ctx); err != nil {
		t.Fatalf("clearing a missing record: %v", err)
	}
}

func TestGuestRecordTakeOnce(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := repos.NewGuestCartRepo(db).Device("dev-take")

	lines, err := rec.Take(ctx)
	if err != nil || lines != nil {
		t.Fatalf("taking a missing record: %v %v", lines, err)
	}

	want := []domain.GuestLine{{ID: "g_1", ProductID: "cap-canvas", Quantity: 2}}
	if err := rec.Write(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := rec.Take(ctx)
	if err != nil || len(got) != 1 || got[0] != want[0] {
		t.Fatalf("first take: %+v %v", got, err)
	}
	again, err := rec.Take(ctx)
	if err != nil || len(again) != 0 {
		t.Fatalf("second take should find nothing: %+v %v", again, err)
	}
	if left, _ := rec.Read(ctx); len(left) != 0 {
		t.Fatalf("record should be deleted, got %+v", left)
	}
}
