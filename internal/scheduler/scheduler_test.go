package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/domain"
)

type fakeStore struct {
	mu          sync.Mutex
	due         []domain.Enrollment
	journeys    map[uuid.UUID]*domain.Journey
	saved       []domain.Enrollment
	released    []uuid.UUID
	tags        map[uuid.UUID][]string
	tagAddedNew bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		journeys:    make(map[uuid.UUID]*domain.Journey),
		tags:        make(map[uuid.UUID][]string),
		tagAddedNew: true,
	}
}

func (f *fakeStore) ClaimDueEnrollments(_ context.Context, _ time.Time, limit int) ([]domain.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.due) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.due) {
		n = len(f.due)
	}
	batch := f.due[:n]
	f.due = f.due[n:]
	return batch, nil
}

func (f *fakeStore) GetJourneyDefinition(_ context.Context, id uuid.UUID) (*domain.Journey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.journeys[id]
	if !ok {
		return nil, errors.New("journey not found")
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) SaveEnrollmentProgress(_ context.Context, enr *domain.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *enr)
	return nil
}

func (f *fakeStore) ReleaseClaim(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

func (f *fakeStore) AddContactTag(_ context.Context, contactID uuid.UUID, tag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[contactID] = append(f.tags[contactID], tag)
	return f.tagAddedNew, nil
}

func (f *fakeStore) lastSaved(t *testing.T) domain.Enrollment {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		t.Fatal("no enrollment progress was saved")
	}
	return f.saved[len(f.saved)-1]
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sends []uuid.UUID
	err   error
}

func (f *fakeDispatcher) SendStep(_ context.Context, _ *domain.Enrollment, _ int, campaignID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, campaignID)
	return nil
}

type fakeEngagement struct {
	reached map[string]bool
}

func (f *fakeEngagement) HasContactReachedStatus(_ context.Context, _ uuid.UUID, ref string, status domain.DeliveryStatus) (bool, error) {
	return f.reached[ref+"/"+string(status)], nil
}

type fakeTriggerSink struct {
	mu     sync.Mutex
	events []domain.TriggerEvent
}

func (f *fakeTriggerSink) HandleEvent(_ context.Context, ev domain.TriggerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func testScheduler(store *fakeStore, d *fakeDispatcher, e *fakeEngagement, tr TriggerSink) *Scheduler {
	return New(store, d, e, tr, Config{MaxAttempts: 3, RetryBase: time.Minute})
}

func activeJourney(store *fakeStore, steps ...domain.Step) *domain.Journey {
	j := &domain.Journey{
		ID:      uuid.New(),
		Name:    "Onboarding",
		Status:  domain.JourneyActive,
		Trigger: domain.TriggerContactCreated,
		Steps:   steps,
	}
	store.journeys[j.ID] = j
	return j
}

func dueEnrollment(store *fakeStore, journeyID uuid.UUID, currentStep int) domain.Enrollment {
	due := time.Now().Add(-time.Minute)
	enr := domain.Enrollment{
		ID:            uuid.New(),
		JourneyID:     journeyID,
		ContactID:     uuid.New(),
		CurrentStep:   currentStep,
		Status:        domain.EnrollmentActive,
		NextStepDueAt: &due,
	}
	store.due = append(store.due, enr)
	return enr
}

func step(number, delayDays int, cond domain.StepCondition, action domain.StepAction) domain.Step {
	return domain.Step{Number: number, DelayDays: delayDays, Condition: cond, Action: action}
}

func sendAction() domain.StepAction {
	return domain.StepAction{Type: domain.ActionSend, CampaignID: uuid.New()}
}

func TestTick_SendsStepAndSchedulesNext(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	sched := testScheduler(store, d, &fakeEngagement{}, nil)

	j := activeJourney(store,
		step(1, 0, domain.CondAlways, sendAction()),
		step(2, 3, domain.CondAlways, sendAction()),
	)
	dueEnrollment(store, j.ID, 0)

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	n, err := sched.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 claimed, got %d", n)
	}
	if len(d.sends) != 1 || d.sends[0] != j.Steps[0].Action.CampaignID {
		t.Fatalf("expected step 1 campaign to be sent, got %v", d.sends)
	}

	saved := store.lastSaved(t)
	if saved.CurrentStep != 1 {
		t.Errorf("expected current step 1, got %d", saved.CurrentStep)
	}
	if saved.Status != domain.EnrollmentActive {
		t.Errorf("expected active, got %s", saved.Status)
	}
	want := now.Add(72 * time.Hour)
	if saved.NextStepDueAt == nil || !saved.NextStepDueAt.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, saved.NextStepDueAt)
	}
}

func TestTick_CompletesAfterLastStep(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	sched := testScheduler(store, d, &fakeEngagement{}, nil)

	j := activeJourney(store, step(1, 0, domain.CondAlways, sendAction()))
	dueEnrollment(store, j.ID, 0)

	now := time.Now().UTC()
	if _, err := sched.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	saved := store.lastSaved(t)
	if saved.Status != domain.EnrollmentCompleted {
		t.Errorf("expected completed, got %s", saved.Status)
	}
	if saved.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if saved.NextStepDueAt != nil {
		t.Error("completed enrollments must have no due time")
	}
}

func TestTick_PausedJourneyReleasesClaim(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	sched := testScheduler(store, d, &fakeEngagement{}, nil)

	j := activeJourney(store, step(1, 0, domain.CondAlways, sendAction()))
	j.Status = domain.JourneyPaused
	enr := dueEnrollment(store, j.ID, 0)

	if _, err := sched.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(d.sends) != 0 {
		t.Error("paused journey steps must not send")
	}
	if len(store.saved) != 0 {
		t.Error("paused journey enrollments must not be modified")
	}
	if len(store.released) != 1 || store.released[0] != enr.ID {
		t.Errorf("expected claim released for %s, got %v", enr.ID, store.released)
	}
}

func TestTick_ConditionFailureExits(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	eng := &fakeEngagement{reached: map[string]bool{}}
	sched := testScheduler(store, d, eng, nil)

	j := activeJourney(store,
		step(1, 0, domain.CondAlways, sendAction()),
		step(2, 0, domain.CondIfOpenedPrevious, sendAction()),
	)
	dueEnrollment(store, j.ID, 1) // step 1 already executed, never opened

	if _, err := sched.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(d.sends) != 0 {
		t.Error("gated step must not send when the condition fails")
	}
	saved := store.lastSaved(t)
	if saved.Status != domain.EnrollmentExited {
		t.Errorf("expected exited, got %s", saved.Status)
	}
	if saved.ExitReason != domain.ExitReasonCondition {
		t.Errorf("unexpected exit reason: %q", saved.ExitReason)
	}
}

func TestTick_OpenedConditionGatesSend(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	j := activeJourney(store,
		step(1, 0, domain.CondAlways, sendAction()),
		step(2, 0, domain.CondIfOpenedPrevious, sendAction()),
	)
	enr := dueEnrollment(store, j.ID, 1)

	prevRef := domain.RefJourneyStep(j.ID, 1)
	eng := &fakeEngagement{reached: map[string]bool{
		prevRef + "/" + string(domain.DeliveryOpened): true,
	}}
	sched := testScheduler(store, d, eng, nil)

	if _, err := sched.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(d.sends) != 1 {
		t.Fatalf("expected gated step to send for opener, got %d sends", len(d.sends))
	}
	saved := store.lastSaved(t)
	if saved.CurrentStep != 2 || saved.Status != domain.EnrollmentCompleted {
		t.Errorf("expected enrollment %s to complete step 2, got step=%d status=%s",
			enr.ID, saved.CurrentStep, saved.Status)
	}
}

func TestTick_FirstStepConditionPassesVacuously(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	eng := &fakeEngagement{reached: map[string]bool{}}
	sched := testScheduler(store, d, eng, nil)

	j := activeJourney(store, step(1, 0, domain.CondIfOpenedPrevious, sendAction()))
	dueEnrollment(store, j.ID, 0)

	if _, err := sched.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(d.sends) != 1 {
		t.Error("step 1 has no previous send, its condition must pass")
	}
}

func TestTick_TagActionEmitsTrigger(t *testing.T) {
	store := newFakeStore()
	sink := &fakeTriggerSink{}
	sched := testScheduler(store, &fakeDispatcher{}, &fakeEngagement{}, sink)

	j := activeJourney(store, step(1, 0, domain.CondAlways,
		domain.StepAction{Type: domain.ActionAddTag, Tag: "engaged"}))
	enr := dueEnrollment(store, j.ID, 0)

	if _, err := sched.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if got := store.tags[enr.ContactID]; len(got) != 1 || got[0] != "engaged" {
		t.Fatalf("expected tag applied, got %v", got)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 trigger event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Type != domain.TriggerTagAdded || ev.Payload["tag"] != "engaged" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Depth != enr.TriggerDepth+1 {
		t.Errorf("expected depth %d, got %d", enr.TriggerDepth+1, ev.Depth)
	}
	if ev.SourceJourneyID != j.ID {
		t.Error("tag trigger must carry the source journey")
	}
}

func TestTick_TagAlreadyPresentEmitsNothing(t *testing.T) {
	store := newFakeStore()
	store.tagAddedNew = false
	sink := &fakeTriggerSink{}
	sched := testScheduler(store, &fakeDispatcher{}, &fakeEngagement{}, sink)

	j := activeJourney(store, step(1, 0, domain.CondAlways,
		domain.StepAction{Type: domain.ActionAddTag, Tag: "engaged"}))
	dueEnrollment(store, j.ID, 0)

	if _, err := sched.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("no trigger expected for an already-present tag, got %d", len(sink.events))
	}
}

func TestTick_TransientSendErrorBacksOff(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{err: errors.New("provider timeout")}
	sched := testScheduler(store, d, &fakeEngagement{}, nil)

	j := activeJourney(store, step(1, 0, domain.CondAlways, sendAction()))
	dueEnrollment(store, j.ID, 0)

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if _, err := sched.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	saved := store.lastSaved(t)
	if saved.Status != domain.EnrollmentActive {
		t.Fatalf("expected active after first failure, got %s", saved.Status)
	}
	if saved.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", saved.Attempts)
	}
	want := now.Add(time.Minute)
	if saved.NextStepDueAt == nil || !saved.NextStepDueAt.Equal(want) {
		t.Errorf("expected retry at %v, got %v", want, saved.NextStepDueAt)
	}

	// Second failure doubles the backoff.
	store.due = append(store.due, saved)
	if _, err := sched.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	saved = store.lastSaved(t)
	want = now.Add(2 * time.Minute)
	if saved.NextStepDueAt == nil || !saved.NextStepDueAt.Equal(want) {
		t.Errorf("expected retry at %v, got %v", want, saved.NextStepDueAt)
	}
}

func TestTick_RetriesExhaustedExits(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{err: errors.New("provider down")}
	sched := testScheduler(store, d, &fakeEngagement{}, nil)

	j := activeJourney(store, step(1, 0, domain.CondAlways, sendAction()))
	enr := dueEnrollment(store, j.ID, 0)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if _, err := sched.Tick(context.Background(), now); err != nil {
			t.Fatalf("Tick #%d: %v", i, err)
		}
		store.due = append(store.due, store.lastSaved(t))
	}

	saved := store.lastSaved(t)
	if saved.Status != domain.EnrollmentExited {
		t.Fatalf("expected enrollment %s exited after max attempts, got %s", enr.ID, saved.Status)
	}
	if saved.ExitReason != domain.ExitReasonRetryExhaust {
		t.Errorf("unexpected exit reason: %q", saved.ExitReason)
	}
}

func TestTick_PermanentSendErrorExitsImmediately(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{err: &delivery.PermanentError{Reason: "550 mailbox does not exist"}}
	sched := testScheduler(store, d, &fakeEngagement{}, nil)

	j := activeJourney(store, step(1, 0, domain.CondAlways, sendAction()))
	dueEnrollment(store, j.ID, 0)

	if _, err := sched.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	saved := store.lastSaved(t)
	if saved.Status != domain.EnrollmentExited {
		t.Fatalf("expected exited, got %s", saved.Status)
	}
	if saved.ExitReason != domain.ExitReasonBounced {
		t.Errorf("unexpected exit reason: %q", saved.ExitReason)
	}
	if saved.Attempts != 0 {
		t.Errorf("permanent failures must not burn retry attempts, got %d", saved.Attempts)
	}
}

func TestTick_UnknownActionExits(t *testing.T) {
	store := newFakeStore()
	sched := testScheduler(store, &fakeDispatcher{}, &fakeEngagement{}, nil)

	j := activeJourney(store, step(1, 0, domain.CondAlways, domain.StepAction{Type: "launch_rocket"}))
	dueEnrollment(store, j.ID, 0)

	if _, err := sched.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	saved := store.lastSaved(t)
	if saved.Status != domain.EnrollmentExited || saved.ExitReason != domain.ExitReasonUnknownAction {
		t.Errorf("expected unknown-action exit, got status=%s reason=%q", saved.Status, saved.ExitReason)
	}
}

func TestTick_WaitActionJustAdvances(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	sched := testScheduler(store, d, &fakeEngagement{}, nil)

	j := activeJourney(store,
		step(1, 0, domain.CondAlways, domain.StepAction{Type: domain.ActionWait}),
		step(2, 1, domain.CondAlways, sendAction()),
	)
	dueEnrollment(store, j.ID, 0)

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if _, err := sched.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(d.sends) != 0 {
		t.Error("wait steps must not send")
	}
	saved := store.lastSaved(t)
	if saved.CurrentStep != 1 {
		t.Errorf("expected step advanced to 1, got %d", saved.CurrentStep)
	}
	want := now.Add(24 * time.Hour)
	if saved.NextStepDueAt == nil || !saved.NextStepDueAt.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, saved.NextStepDueAt)
	}
}

func TestTick_ProcessesFullBatch(t *testing.T) {
	store := newFakeStore()
	d := &fakeDispatcher{}
	sched := testScheduler(store, d, &fakeEngagement{}, nil)

	j := activeJourney(store, step(1, 0, domain.CondAlways, sendAction()))
	for i := 0; i < 25; i++ {
		dueEnrollment(store, j.ID, 0)
	}

	n, err := sched.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 25 {
		t.Fatalf("expected 25 claimed, got %d", n)
	}
	if len(d.sends) != 25 {
		t.Errorf("expected 25 sends, got %d", len(d.sends))
	}
	if len(store.saved) != 25 {
		t.Errorf("expected 25 progress saves, got %d", len(store.saved))
	}
}
