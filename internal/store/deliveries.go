package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
)

const deliveryColumns = `id, ref, contact_id, email, dedup_key, status, provider_id, failure_reason,
	queued_at, sent_at, delivered_at, opened_at, clicked_at, bounced_at, updated_at`

func scanDelivery(row interface{ Scan(...interface{}) error }) (*domain.DeliveryRecord, error) {
	var r domain.DeliveryRecord
	var providerID, failureReason sql.NullString
	err := row.Scan(&r.ID, &r.Ref, &r.ContactID, &r.Email, &r.DedupKey, &r.Status, &providerID, &failureReason,
		&r.QueuedAt, &r.SentAt, &r.DeliveredAt, &r.OpenedAt, &r.ClickedAt, &r.BouncedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.ProviderID = providerID.String
	r.FailureReason = failureReason.String
	return &r, nil
}

// GetDeliveryByDedupKey returns the record holding the dedup key, or nil
// when no attempt has been made yet. The unique index on dedup_key means
// at most one row matches.
func (s *Store) GetDeliveryByDedupKey(ctx context.Context, dedupKey string) (*domain.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_records WHERE dedup_key = $1`, dedupKey)
	rec, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery by dedup key: %w", err)
	}
	return rec, nil
}

// CreateDelivery inserts a new delivery record.
func (s *Store) CreateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (id, ref, contact_id, email, dedup_key, status, queued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.Ref, rec.ContactID, rec.Email, rec.DedupKey, rec.Status, rec.QueuedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

// UpdateDelivery persists status, provider correlation, and milestone
// timestamps.
func (s *Store) UpdateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = $2, provider_id = NULLIF($3, ''), failure_reason = NULLIF($4, ''),
		    sent_at = $5, delivered_at = $6, opened_at = $7, clicked_at = $8, bounced_at = $9,
		    updated_at = $10
		WHERE id = $1
	`, rec.ID, rec.Status, rec.ProviderID, rec.FailureReason,
		rec.SentAt, rec.DeliveredAt, rec.OpenedAt, rec.ClickedAt, rec.BouncedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	return nil
}

// GetDeliveryByProviderID resolves a provider message ID, or nil when the
// callback doesn't match anything we sent.
func (s *Store) GetDeliveryByProviderID(ctx context.Context, providerID string) (*domain.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_records WHERE provider_id = $1`, providerID)
	rec, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery by provider id: %w", err)
	}
	return rec, nil
}

// DeliveriesByRef returns all delivery records for one send reference.
func (s *Store) DeliveriesByRef(ctx context.Context, ref string) ([]domain.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_records WHERE ref = $1 ORDER BY queued_at`, ref)
	if err != nil {
		return nil, fmt.Errorf("deliveries by ref: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeliveryForContact returns a contact's record under a ref, or nil.
func (s *Store) DeliveryForContact(ctx context.Context, ref string, contactID uuid.UUID) (*domain.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+` FROM delivery_records
		WHERE ref = $1 AND contact_id = $2
		ORDER BY queued_at DESC
		LIMIT 1
	`, ref, contactID)
	rec, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delivery for contact: %w", err)
	}
	return rec, nil
}
