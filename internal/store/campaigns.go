package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/domain"
)

const campaignColumns = `id, name, subject, html_content, text_content, status, tags,
	total_recipients, sent_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	var c domain.Campaign
	var tags pq.StringArray
	err := row.Scan(&c.ID, &c.Name, &c.Subject, &c.HTMLContent, &c.TextContent, &c.Status, &tags,
		&c.TotalRecipients, &c.SentAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Tags = []string(tags)
	return &c, nil
}

// CreateCampaign inserts a draft campaign.
func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, subject, html_content, text_content, status, tags, total_recipients, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW(), NOW())
	`, c.ID, c.Name, c.Subject, c.HTMLContent, c.TextContent, c.Status, pq.Array(c.Tags))
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetCampaign returns a campaign, or delivery.ErrCampaignNotFound.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, delivery.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns returns all campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateCampaign persists editable content fields for draft campaigns.
func (s *Store) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $2, subject = $3, html_content = $4, text_content = $5, tags = $6, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`, c.ID, c.Name, c.Subject, c.HTMLContent, c.TextContent, pq.Array(c.Tags))
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return delivery.ErrCampaignAlreadySent
	}
	return nil
}

// UpdateCampaignSendState persists the bulk-send lifecycle fields.
func (s *Store) UpdateCampaignSendState(ctx context.Context, c *domain.Campaign) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, total_recipients = $3, sent_at = $4, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Status, c.TotalRecipients, c.SentAt)
	if err != nil {
		return fmt.Errorf("update campaign send state: %w", err)
	}
	return nil
}
