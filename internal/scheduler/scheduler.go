package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/domain"
	"github.com/ignite/marketing-engine/internal/pkg/distlock"
	"github.com/ignite/marketing-engine/internal/pkg/logger"
)

// Store is the scheduler's persistence contract.
type Store interface {
	// ClaimDueEnrollments atomically claims up to limit enrollments whose
	// next step is due at or before now. The claim only succeeds for
	// enrollments that are active, belong to an active journey, and whose
	// contact is still subscribed; rows claimed by a concurrent tick are
	// skipped, not waited on.
	ClaimDueEnrollments(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error)

	// GetJourneyDefinition loads a journey with its steps.
	GetJourneyDefinition(ctx context.Context, id uuid.UUID) (*domain.Journey, error)

	// SaveEnrollmentProgress persists the enrollment's step position,
	// status, attempts, due time, and exit bookkeeping, and clears the
	// claim.
	SaveEnrollmentProgress(ctx context.Context, enr *domain.Enrollment) error

	// ReleaseClaim clears the claim without changing anything else, so a
	// later tick can pick the enrollment up again.
	ReleaseClaim(ctx context.Context, enrollmentID uuid.UUID) error

	// AddContactTag appends a tag to a contact if not already present and
	// reports whether the tag was newly added.
	AddContactTag(ctx context.Context, contactID uuid.UUID, tag string) (bool, error)
}

// Dispatcher sends one journey step's email. Implemented by the delivery
// pipeline.
type Dispatcher interface {
	SendStep(ctx context.Context, enrollment *domain.Enrollment, stepNumber int, campaignID uuid.UUID) error
}

// Engagement answers step-condition queries. Implemented by the analytics
// service.
type Engagement interface {
	HasContactReachedStatus(ctx context.Context, contactID uuid.UUID, ref string, status domain.DeliveryStatus) (bool, error)
}

// TriggerSink receives trigger events emitted by tag actions. Implemented by
// the journey service.
type TriggerSink interface {
	HandleEvent(ctx context.Context, ev domain.TriggerEvent) error
}

// Config tunes tick cadence, batch size, parallelism, and retry policy.
type Config struct {
	TickInterval time.Duration
	WorkerCount  int
	BatchSize    int
	MaxAttempts  int
	RetryBase    time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Minute
	}
}

// Scheduler advances due enrollments through their journey steps.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	engagement Engagement
	triggers   TriggerSink
	cfg        Config
	lock       distlock.Lock
	log        *logger.Logger
	now        func() time.Time

	totalProcessed int64
	totalAdvanced  int64
	totalExited    int64
	totalRetried   int64
	totalErrors    int64

	wg sync.WaitGroup
}

// New creates a scheduler.
func New(store Store, dispatcher Dispatcher, engagement Engagement, triggers TriggerSink, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		engagement: engagement,
		triggers:   triggers,
		cfg:        cfg,
		log:        logger.New("scheduler"),
		now:        time.Now,
	}
}

// WithLock guards ticks with a distributed lock so only one process ticks at
// a time. Optional: the claim query alone is already safe under concurrent
// ticks, the lock just avoids redundant polling.
func (s *Scheduler) WithLock(lock distlock.Lock) *Scheduler {
	s.lock = lock
	return s
}

// WithClock overrides the scheduler clock. Used by tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Stats returns processing counters for health reporting.
func (s *Scheduler) Stats() map[string]int64 {
	return map[string]int64{
		"total_processed": atomic.LoadInt64(&s.totalProcessed),
		"total_advanced":  atomic.LoadInt64(&s.totalAdvanced),
		"total_exited":    atomic.LoadInt64(&s.totalExited),
		"total_retried":   atomic.LoadInt64(&s.totalRetried),
		"total_errors":    atomic.LoadInt64(&s.totalErrors),
	}
}

// Run ticks on the configured interval until ctx is cancelled. Each tick
// drains claimed batches until no due enrollments remain.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler running", "tick_interval", s.cfg.TickInterval.String(),
		"workers", s.cfg.WorkerCount, "batch_size", s.cfg.BatchSize)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped",
				"total_processed", atomic.LoadInt64(&s.totalProcessed),
				"total_errors", atomic.LoadInt64(&s.totalErrors))
			return
		case <-ticker.C:
			if s.lock != nil {
				ok, err := s.lock.TryAcquire(ctx)
				if err != nil {
					s.log.Error("tick lock", "error", err)
					continue
				}
				if !ok {
					continue
				}
			}
			s.drain(ctx)
			if s.lock != nil {
				if err := s.lock.Release(ctx); err != nil {
					s.log.Error("release tick lock", "error", err)
				}
			}
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		n, err := s.Tick(ctx, s.now())
		if err != nil {
			s.log.Error("tick", "error", err)
			return
		}
		if n < s.cfg.BatchSize {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Tick claims one batch of due enrollments and processes them in parallel.
// It returns the number of enrollments claimed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	claimed, err := s.store.ClaimDueEnrollments(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due enrollments: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	jobs := make(chan *domain.Enrollment)
	workers := s.cfg.WorkerCount
	if workers > len(claimed) {
		workers = len(claimed)
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for enr := range jobs {
				s.process(ctx, enr, now)
			}
		}()
	}
	for i := range claimed {
		jobs <- &claimed[i]
	}
	close(jobs)
	s.wg.Wait()
	return len(claimed), nil
}

// process executes the next step of one claimed enrollment.
func (s *Scheduler) process(ctx context.Context, enr *domain.Enrollment, now time.Time) {
	atomic.AddInt64(&s.totalProcessed, 1)

	journey, err := s.store.GetJourneyDefinition(ctx, enr.JourneyID)
	if err != nil {
		atomic.AddInt64(&s.totalErrors, 1)
		s.log.Error("load journey", "enrollment_id", enr.ID, "journey_id", enr.JourneyID, "error", err)
		s.releaseClaim(ctx, enr.ID)
		return
	}
	if journey.Status != domain.JourneyActive {
		// Paused between claim and processing. Leave the enrollment due;
		// it stays frozen until the journey resumes.
		s.releaseClaim(ctx, enr.ID)
		return
	}

	stepNumber := enr.CurrentStep + 1
	step := journey.Step(stepNumber)
	if step == nil {
		s.complete(ctx, enr, now)
		return
	}

	met, err := s.conditionMet(ctx, journey, enr, step)
	if err != nil {
		atomic.AddInt64(&s.totalErrors, 1)
		s.log.Error("evaluate condition", "enrollment_id", enr.ID, "step", stepNumber, "error", err)
		s.releaseClaim(ctx, enr.ID)
		return
	}
	if !met {
		s.exit(ctx, enr, now, domain.ExitReasonCondition)
		return
	}

	switch step.Action.Type {
	case domain.ActionSend:
		if err := s.dispatcher.SendStep(ctx, enr, stepNumber, step.Action.CampaignID); err != nil {
			if delivery.IsPermanent(err) {
				s.exit(ctx, enr, now, domain.ExitReasonBounced)
				return
			}
			s.retry(ctx, enr, now, stepNumber, err)
			return
		}
	case domain.ActionAddTag:
		added, err := s.store.AddContactTag(ctx, enr.ContactID, step.Action.Tag)
		if err != nil {
			s.retry(ctx, enr, now, stepNumber, err)
			return
		}
		if added && s.triggers != nil {
			ev := domain.TriggerEvent{
				Type:            domain.TriggerTagAdded,
				ContactID:       enr.ContactID,
				Payload:         map[string]string{"tag": step.Action.Tag},
				OccurredAt:      now,
				Depth:           enr.TriggerDepth + 1,
				SourceJourneyID: enr.JourneyID,
			}
			if err := s.triggers.HandleEvent(ctx, ev); err != nil {
				s.log.Error("emit tag trigger", "enrollment_id", enr.ID, "tag", step.Action.Tag, "error", err)
			}
		}
	case domain.ActionWait:
		// The delay itself is the action.
	default:
		s.exit(ctx, enr, now, domain.ExitReasonUnknownAction)
		return
	}

	s.advance(ctx, journey, enr, stepNumber, now)
}

// conditionMet evaluates the step's gate against the contact's engagement
// with the previous step's send. The first step has no previous send, so its
// conditions pass vacuously.
func (s *Scheduler) conditionMet(ctx context.Context, journey *domain.Journey, enr *domain.Enrollment, step *domain.Step) (bool, error) {
	if step.Condition == domain.CondAlways || step.Condition == "" {
		return true, nil
	}
	if enr.CurrentStep < 1 {
		return true, nil
	}
	prevRef := domain.RefJourneyStep(journey.ID, enr.CurrentStep)
	switch step.Condition {
	case domain.CondIfOpenedPrevious:
		return s.engagement.HasContactReachedStatus(ctx, enr.ContactID, prevRef, domain.DeliveryOpened)
	case domain.CondIfClickedPrevious:
		return s.engagement.HasContactReachedStatus(ctx, enr.ContactID, prevRef, domain.DeliveryClicked)
	case domain.CondIfNotOpenedPrev:
		opened, err := s.engagement.HasContactReachedStatus(ctx, enr.ContactID, prevRef, domain.DeliveryOpened)
		return !opened, err
	default:
		return false, fmt.Errorf("unknown step condition %q", step.Condition)
	}
}

// advance records the executed step and either schedules the next one or
// completes the enrollment.
func (s *Scheduler) advance(ctx context.Context, journey *domain.Journey, enr *domain.Enrollment, executed int, now time.Time) {
	enr.CurrentStep = executed
	enr.Attempts = 0
	enr.ClaimedAt = nil
	enr.UpdatedAt = now

	if next := journey.Step(executed + 1); next != nil {
		due := now.Add(time.Duration(next.DelayDays) * 24 * time.Hour)
		enr.NextStepDueAt = &due
	} else {
		enr.Status = domain.EnrollmentCompleted
		enr.CompletedAt = &now
		enr.NextStepDueAt = nil
	}

	if err := s.store.SaveEnrollmentProgress(ctx, enr); err != nil {
		atomic.AddInt64(&s.totalErrors, 1)
		s.log.Error("save progress", "enrollment_id", enr.ID, "error", err)
		return
	}
	atomic.AddInt64(&s.totalAdvanced, 1)
}

func (s *Scheduler) complete(ctx context.Context, enr *domain.Enrollment, now time.Time) {
	enr.Status = domain.EnrollmentCompleted
	enr.CompletedAt = &now
	enr.NextStepDueAt = nil
	enr.ClaimedAt = nil
	enr.UpdatedAt = now
	if err := s.store.SaveEnrollmentProgress(ctx, enr); err != nil {
		atomic.AddInt64(&s.totalErrors, 1)
		s.log.Error("complete enrollment", "enrollment_id", enr.ID, "error", err)
	}
}

func (s *Scheduler) exit(ctx context.Context, enr *domain.Enrollment, now time.Time, reason string) {
	enr.Status = domain.EnrollmentExited
	enr.ExitReason = reason
	enr.NextStepDueAt = nil
	enr.ClaimedAt = nil
	enr.UpdatedAt = now
	if err := s.store.SaveEnrollmentProgress(ctx, enr); err != nil {
		atomic.AddInt64(&s.totalErrors, 1)
		s.log.Error("exit enrollment", "enrollment_id", enr.ID, "reason", reason, "error", err)
		return
	}
	atomic.AddInt64(&s.totalExited, 1)
	s.log.Info("enrollment exited", "enrollment_id", enr.ID, "journey_id", enr.JourneyID,
		"step", enr.CurrentStep+1, "reason", reason)
}

// retry backs the enrollment off exponentially, exiting once attempts are
// exhausted.
func (s *Scheduler) retry(ctx context.Context, enr *domain.Enrollment, now time.Time, stepNumber int, cause error) {
	enr.Attempts++
	if enr.Attempts >= s.cfg.MaxAttempts {
		s.log.Warn("send retries exhausted", "enrollment_id", enr.ID, "step", stepNumber,
			"attempts", enr.Attempts, "error", cause)
		s.exit(ctx, enr, now, domain.ExitReasonRetryExhaust)
		return
	}

	backoff := s.cfg.RetryBase * (1 << (enr.Attempts - 1))
	due := now.Add(backoff)
	enr.NextStepDueAt = &due
	enr.ClaimedAt = nil
	enr.UpdatedAt = now
	if err := s.store.SaveEnrollmentProgress(ctx, enr); err != nil {
		atomic.AddInt64(&s.totalErrors, 1)
		s.log.Error("schedule retry", "enrollment_id", enr.ID, "error", err)
		return
	}
	atomic.AddInt64(&s.totalRetried, 1)
	s.log.Warn("step send failed, retrying", "enrollment_id", enr.ID, "step", stepNumber,
		"attempt", enr.Attempts, "retry_at", due.Format(time.RFC3339), "error", cause)
}

func (s *Scheduler) releaseClaim(ctx context.Context, id uuid.UUID) {
	if err := s.store.ReleaseClaim(ctx, id); err != nil {
		s.log.Error("release claim", "enrollment_id", id, "error", err)
	}
}
