package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/journey"
)

const contactColumns = `id, email, status, tags, source, version, created_at, updated_at`

func scanContact(row interface{ Scan(...interface{}) error }) (*domain.Contact, error) {
	var c domain.Contact
	var tags pq.StringArray
	err := row.Scan(&c.ID, &c.Email, &c.Status, &tags, &c.Source, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Tags = []string(tags)
	return &c, nil
}

// CreateContact inserts a contact; duplicate emails (case-insensitive)
// return the existing row unchanged.
func (s *Store) CreateContact(ctx context.Context, c *domain.Contact) (*domain.Contact, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Email = domain.NormalizeEmail(c.Email)
	if c.Status == "" {
		c.Status = domain.ContactSubscribed
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, email, status, tags, source, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET updated_at = contacts.updated_at
		RETURNING `+contactColumns,
		c.ID, c.Email, c.Status, pq.Array(c.Tags), c.Source)
	created, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return created, nil
}

// GetContact returns a contact by ID, or journey.ErrContactNotFound.
func (s *Store) GetContact(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, journey.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// GetContactByEmail returns a contact by normalized email, or nil.
func (s *Store) GetContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE email = $1`, domain.NormalizeEmail(email))
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by email: %w", err)
	}
	return c, nil
}

// GetContactForDelivery returns a contact by ID, or nil when missing.
func (s *Store) GetContactForDelivery(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	c, err := s.GetContact(ctx, id)
	if err == journey.ErrContactNotFound {
		return nil, nil
	}
	return c, err
}

// ListContacts returns contacts, newest first.
func (s *Store) ListContacts(ctx context.Context, limit, offset int) ([]domain.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ListSubscribedContactsByTags returns subscribed contacts carrying every
// given tag; an empty tag list matches all subscribed contacts.
func (s *Store) ListSubscribedContactsByTags(ctx context.Context, tags []string) ([]domain.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE status = 'subscribed'
		  AND ($1 = 0 OR tags @> $2)
		ORDER BY created_at
	`, len(tags), pq.Array(tags))
	if err != nil {
		return nil, fmt.Errorf("list contacts by tags: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// AddContactTag appends a tag if absent, bumping the version. Reports
// whether the tag was newly added.
func (s *Store) AddContactTag(ctx context.Context, contactID uuid.UUID, tag string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET tags = array_append(COALESCE(tags, '{}'), $2),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(COALESCE(tags, '{}')))
	`, contactID, tag)
	if err != nil {
		return false, fmt.Errorf("add contact tag: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM contacts WHERE id = $1)`, contactID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check contact: %w", err)
	}
	if !exists {
		return false, journey.ErrContactNotFound
	}
	return false, nil
}

// MarkContactStatus applies a one-way subscription transition: only
// subscribed contacts move, terminal statuses stay where they are.
func (s *Store) MarkContactStatus(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'subscribed'
	`, contactID, status)
	if err != nil {
		return fmt.Errorf("mark contact %s: %w", status, err)
	}
	return nil
}
