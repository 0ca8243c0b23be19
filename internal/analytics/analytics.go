// Package analytics aggregates delivery/engagement statistics from the
// delivery-record ledger. Counts are unique contacts reaching at least a
// milestone, never raw event counts — a contact opening twice counts once.
package analytics

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
)

// Repository is the read-side contract over delivery records.
type Repository interface {
	// DeliveriesByRef returns all delivery records for a send reference
	// (a campaign or a journey step).
	DeliveriesByRef(ctx context.Context, ref string) ([]domain.DeliveryRecord, error)

	// DeliveryForContact returns a contact's delivery record under a ref,
	// or nil when no record exists.
	DeliveryForContact(ctx context.Context, ref string, contactID uuid.UUID) (*domain.DeliveryRecord, error)
}

// Stats holds aggregate delivery metrics for one send reference. Rates are
// percentages of total; a total of zero yields zero rates.
type Stats struct {
	Total        int     `json:"total"`
	Delivered    int     `json:"delivered"`
	Opened       int     `json:"opened"`
	Clicked      int     `json:"clicked"`
	Bounced      int     `json:"bounced"`
	Unsubscribed int     `json:"unsubscribed"`
	Spam         int     `json:"spam"`
	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
}

// Service computes analytics on demand from the ledger.
type Service struct {
	repo Repository
}

// NewService creates an analytics service over the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CampaignAnalytics aggregates stats for a send reference.
func (s *Service) CampaignAnalytics(ctx context.Context, ref string) (*Stats, error) {
	records, err := s.repo.DeliveriesByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return Aggregate(records), nil
}

// HasContactReachedStatus reports whether the contact's delivery under the
// ref reached at least the given status. Used by the step scheduler to
// evaluate engagement conditions; a missing record is simply false.
func (s *Service) HasContactReachedStatus(ctx context.Context, contactID uuid.UUID, ref string, status domain.DeliveryStatus) (bool, error) {
	rec, err := s.repo.DeliveryForContact(ctx, ref, contactID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.ReachedStatus(status), nil
}

// Aggregate computes stats from a record set. Exported so callers holding
// records (tests, batch jobs) can aggregate without a repository round trip.
func Aggregate(records []domain.DeliveryRecord) *Stats {
	stats := &Stats{}
	seen := map[domain.DeliveryStatus]map[uuid.UUID]bool{}
	reached := func(rec *domain.DeliveryRecord, st domain.DeliveryStatus) bool {
		if !rec.ReachedStatus(st) {
			return false
		}
		if seen[st] == nil {
			seen[st] = map[uuid.UUID]bool{}
		}
		if seen[st][rec.ContactID] {
			return false
		}
		seen[st][rec.ContactID] = true
		return true
	}

	for i := range records {
		rec := &records[i]
		stats.Total++
		if reached(rec, domain.DeliveryDelivered) {
			stats.Delivered++
		}
		if reached(rec, domain.DeliveryOpened) {
			stats.Opened++
		}
		if reached(rec, domain.DeliveryClicked) {
			stats.Clicked++
		}
		if reached(rec, domain.DeliveryBounced) {
			stats.Bounced++
		}
		if reached(rec, domain.DeliveryUnsubscribed) {
			stats.Unsubscribed++
		}
		if reached(rec, domain.DeliveryComplained) {
			stats.Spam++
		}
	}

	if stats.Total > 0 {
		total := float64(stats.Total)
		stats.DeliveryRate = float64(stats.Delivered) / total * 100
		stats.OpenRate = float64(stats.Opened) / total * 100
		stats.ClickRate = float64(stats.Clicked) / total * 100
	}
	return stats
}

// StepStats pairs a journey step with its aggregated delivery stats.
type StepStats struct {
	StepNumber int    `json:"step_number"`
	Ref        string `json:"ref"`
	Stats      *Stats `json:"stats"`
}

// JourneyStepAnalytics returns per-step funnel stats for a journey's send
// steps. Tag and wait steps produce no deliveries and are skipped.
func (s *Service) JourneyStepAnalytics(ctx context.Context, j *domain.Journey) ([]StepStats, error) {
	var out []StepStats
	for _, step := range j.Steps {
		if step.Action.Type != domain.ActionSend {
			continue
		}
		ref := domain.RefJourneyStep(j.ID, step.Number)
		stats, err := s.CampaignAnalytics(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, StepStats{StepNumber: step.Number, Ref: ref, Stats: stats})
	}
	return out, nil
}
