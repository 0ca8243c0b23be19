package delivery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/pkg/logger"
)

// Store defines the persistence contract for the delivery pipeline.
type Store interface {
	// GetDeliveryByDedupKey returns the record holding the dedup key, or
	// nil when no attempt has been made yet.
	GetDeliveryByDedupKey(ctx context.Context, dedupKey string) (*domain.DeliveryRecord, error)

	// CreateDelivery inserts a new delivery record.
	CreateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error

	// UpdateDelivery persists status, provider ID, failure reason, and the
	// per-status timestamps of an existing record.
	UpdateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error

	// GetDeliveryByProviderID resolves a callback's provider message ID to
	// a record, or nil when unknown.
	GetDeliveryByProviderID(ctx context.Context, providerID string) (*domain.DeliveryRecord, error)

	// GetCampaign returns a campaign, or ErrCampaignNotFound.
	GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)

	// UpdateCampaignSendState persists campaign status plus recipient count
	// and sent time for the bulk-send lifecycle.
	UpdateCampaignSendState(ctx context.Context, c *domain.Campaign) error

	// ListSubscribedContactsByTags resolves the recipient segment at send
	// time: subscribed contacts carrying all given tags (all subscribed
	// contacts when tags is empty).
	ListSubscribedContactsByTags(ctx context.Context, tags []string) ([]domain.Contact, error)

	// GetContactForDelivery returns a contact by ID, or nil when missing.
	GetContactForDelivery(ctx context.Context, id uuid.UUID) (*domain.Contact, error)

	// MarkContactStatus applies a one-way subscription transition. It must
	// be a no-op for contacts already in a terminal status.
	MarkContactStatus(ctx context.Context, contactID uuid.UUID, status domain.ContactStatus) error
}

// EnrollmentExiter exits a contact's active enrollments across journeys.
// Implemented by the journey service; injected to avoid a package cycle.
type EnrollmentExiter interface {
	ExitContact(ctx context.Context, contactID uuid.UUID, reason string) (int, error)
}

// Pipeline is the delivery pipeline. Safe for concurrent use; the step
// scheduler calls it from many workers.
type Pipeline struct {
	store    Store
	mailer   Mailer
	renderer *Renderer
	exiter   EnrollmentExiter
	log      *logger.Logger
	now      func() time.Time

	sendTimeout time.Duration

	totalSent    int64
	totalFailed  int64
	totalSkipped int64
}

// NewPipeline creates a delivery pipeline.
func NewPipeline(store Store, mailer Mailer, renderer *Renderer, sendTimeout time.Duration) *Pipeline {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Pipeline{
		store:       store,
		mailer:      mailer,
		renderer:    renderer,
		log:         logger.New("delivery"),
		now:         time.Now,
		sendTimeout: sendTimeout,
	}
}

// SetEnrollmentExiter wires the journey service in after construction.
func (p *Pipeline) SetEnrollmentExiter(exiter EnrollmentExiter) { p.exiter = exiter }

// WithClock overrides the pipeline clock. Used by tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Stats returns send counters for health reporting.
func (p *Pipeline) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":    atomic.LoadInt64(&p.totalSent),
		"total_failed":  atomic.LoadInt64(&p.totalFailed),
		"total_skipped": atomic.LoadInt64(&p.totalSkipped),
	}
}

// SendStep executes one journey step's send for one contact. The dedup key
// is (enrollment, step): a re-run after a crashed or concurrent tick is a
// success-no-op, but a record stuck in failed is a retry and goes back
// through the mailer on the same row. Transient mailer failures come back
// as plain errors for the scheduler's retry logic; permanent rejections
// come back wrapped in *PermanentError after the contact has been marked
// bounced.
func (p *Pipeline) SendStep(ctx context.Context, enrollment *domain.Enrollment, stepNumber int, campaignID uuid.UUID) error {
	dedupKey := domain.DedupKeyStep(enrollment.ID, stepNumber)
	prev, err := p.store.GetDeliveryByDedupKey(ctx, dedupKey)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if prev != nil && prev.Status != domain.DeliveryFailed {
		atomic.AddInt64(&p.totalSkipped, 1)
		return nil
	}

	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load step campaign: %w", err)
	}
	contact, err := p.store.GetContactForDelivery(ctx, enrollment.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if contact == nil || contact.Status != domain.ContactSubscribed {
		atomic.AddInt64(&p.totalSkipped, 1)
		return nil
	}

	ref := domain.RefJourneyStep(enrollment.JourneyID, stepNumber)
	return p.dispatchOne(ctx, ref, dedupKey, campaign, contact, prev)
}

// SendCampaign performs the one-shot bulk send: the recipient segment is
// resolved at send time, then fanned out through the same per-recipient
// dedup path journey steps use.
func (p *Pipeline) SendCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignDraft {
		return nil, ErrCampaignAlreadySent
	}

	recipients, err := p.store.ListSubscribedContactsByTags(ctx, campaign.Tags)
	if err != nil {
		return nil, fmt.Errorf("resolve segment: %w", err)
	}

	campaign.Status = domain.CampaignSending
	campaign.TotalRecipients = len(recipients)
	if err := p.store.UpdateCampaignSendState(ctx, campaign); err != nil {
		return nil, err
	}

	ref := domain.RefCampaign(campaign.ID)
	for i := range recipients {
		contact := &recipients[i]
		dedupKey := domain.DedupKeyCampaign(campaign.ID, contact.ID)
		prev, err := p.store.GetDeliveryByDedupKey(ctx, dedupKey)
		if err != nil {
			return nil, fmt.Errorf("dedup check: %w", err)
		}
		if prev != nil && prev.Status != domain.DeliveryFailed {
			atomic.AddInt64(&p.totalSkipped, 1)
			continue
		}
		if err := p.dispatchOne(ctx, ref, dedupKey, campaign, contact, prev); err != nil {
			if IsPermanent(err) {
				continue // recorded as failed; keep fanning out
			}
			if ctx.Err() != nil {
				return nil, err
			}
			// Transient per-recipient failure: already recorded on the
			// delivery record; bulk sends do not retry individual rows.
			p.log.Warn("bulk send recipient failed", "campaign_id", campaign.ID,
				"email", contact.Email, "error", err)
		}
	}

	now := p.now()
	campaign.Status = domain.CampaignSent
	campaign.SentAt = &now
	if err := p.store.UpdateCampaignSendState(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// dispatchOne renders, validates, and hands the message to the mailer.
// A fresh send inserts a queued record; a retry of a failed attempt
// re-queues the existing row, since the dedup key allows only one record
// per (ref, contact). The record ends in sent or failed.
func (p *Pipeline) dispatchOne(ctx context.Context, ref, dedupKey string, campaign *domain.Campaign, contact *domain.Contact, prev *domain.DeliveryRecord) error {
	subject, html, text, err := p.renderer.Render(ref, campaign, contact)
	if err != nil {
		// Validation errors (missing unsubscribe link, bad template) block
		// the send before any record is written.
		return err
	}

	now := p.now()
	rec := prev
	if rec == nil {
		rec = &domain.DeliveryRecord{
			ID:        uuid.New(),
			Ref:       ref,
			ContactID: contact.ID,
			Email:     contact.Email,
			DedupKey:  dedupKey,
			Status:    domain.DeliveryQueued,
			QueuedAt:  now,
			UpdatedAt: now,
		}
		if err := p.store.CreateDelivery(ctx, rec); err != nil {
			return fmt.Errorf("create delivery record: %w", err)
		}
	} else {
		rec.Status = domain.DeliveryQueued
		rec.FailureReason = ""
		rec.QueuedAt = now
		rec.UpdatedAt = now
		if err := p.store.UpdateDelivery(ctx, rec); err != nil {
			return fmt.Errorf("requeue delivery record: %w", err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	providerID, sendErr := p.mailer.Send(sendCtx, &Message{
		To:      contact.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
		Headers: map[string]string{
			"List-Unsubscribe":      fmt.Sprintf("<%s>", p.renderer.UnsubscribeURL(contact.ID.String())),
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
	})
	if sendErr != nil {
		atomic.AddInt64(&p.totalFailed, 1)
		rec.FailureReason = sendErr.Error()
		rec.ApplyTransition(domain.DeliveryFailed, p.now())
		if err := p.store.UpdateDelivery(ctx, rec); err != nil {
			p.log.Error("mark delivery failed", "dedup_key", dedupKey, "error", err)
		}
		if IsPermanent(sendErr) {
			// Invalid address: remove the contact from all future sends.
			if err := p.store.MarkContactStatus(ctx, contact.ID, domain.ContactBounced); err != nil {
				p.log.Error("mark contact bounced", "contact_id", contact.ID, "error", err)
			}
		}
		return sendErr
	}

	atomic.AddInt64(&p.totalSent, 1)
	rec.ProviderID = providerID
	rec.ApplyTransition(domain.DeliverySent, p.now())
	if err := p.store.UpdateDelivery(ctx, rec); err != nil {
		return fmt.Errorf("mark delivery sent: %w", err)
	}
	return nil
}
