package repos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

// GuestCartRepo keeps anonymous carts keyed by device (the sid cookie).
// Nothing about the owner is stored.
type GuestCartRepo struct{ db *sqlx.DB }

func NewGuestCartRepo(db *sqlx.DB) *GuestCartRepo { return &GuestCartRepo{db: db} }

// Device returns the guest record of one device.
func (r *GuestCartRepo) Device(deviceID string) *GuestRecord {
	return &GuestRecord{db: r.db, deviceID: deviceID}
}

// GuestRecord is a single device's ordered guest cart.
type GuestRecord struct {
	db       *sqlx.DB
	deviceID string
}

func (g *GuestRecord) Read(ctx context.Context) ([]domain.GuestLine, error) {
	var raw string
	err := g.db.GetContext(ctx, &raw, g.db.Rebind(`SELECT lines_json FROM guest_carts WHERE device_id = ?`), g.deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeLines(raw)
}

// Take deletes the record and returns the lines it held. The delete and
// the read are one statement, so a record is only ever taken once.
func (g *GuestRecord) Take(ctx context.Context) ([]domain.GuestLine, error) {
	var raw string
	err := g.db.GetContext(ctx, &raw, g.db.Rebind(`DELETE FROM guest_carts WHERE device_id = ? RETURNING lines_json`), g.deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeLines(raw)
}

func decodeLines(raw string) ([]domain.GuestLine, error) {
	var lines []domain.GuestLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// Write replaces the whole record. Writing no lines deletes it.
func (g *GuestRecord) Write(ctx context.Context, lines []domain.GuestLine) error {
	if len(lines) == 0 {
		return g.Clear(ctx)
	}
	b, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, g.db.Rebind(`
		INSERT INTO guest_carts(device_id, lines_json, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET lines_json = excluded.lines_json, updated_at = excluded.updated_at
	`), g.deviceID, string(b), stamp())
	return err
}

func (g *GuestRecord) Clear(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, g.db.Rebind(`DELETE FROM guest_carts WHERE device_id = ?`), g.deviceID)
	return err
}
