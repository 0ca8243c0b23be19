package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/marketing-engine/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	records    map[string]*domain.DeliveryRecord // by dedup key
	byProvider map[string]*domain.DeliveryRecord
	campaigns  map[uuid.UUID]*domain.Campaign
	contacts   map[uuid.UUID]*domain.Contact
	statuses   map[uuid.UUID]domain.ContactStatus
	sendStates []domain.Campaign
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    make(map[string]*domain.DeliveryRecord),
		byProvider: make(map[string]*domain.DeliveryRecord),
		campaigns:  make(map[uuid.UUID]*domain.Campaign),
		contacts:   make(map[uuid.UUID]*domain.Contact),
		statuses:   make(map[uuid.UUID]domain.ContactStatus),
	}
}

func (f *fakeStore) GetDeliveryByDedupKey(_ context.Context, dedupKey string) (*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[dedupKey]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) CreateDelivery(_ context.Context, rec *domain.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.DedupKey] = &cp
	return nil
}

func (f *fakeStore) UpdateDelivery(_ context.Context, rec *domain.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.DedupKey] = &cp
	if rec.ProviderID != "" {
		f.byProvider[rec.ProviderID] = &cp
	}
	return nil
}

func (f *fakeStore) GetDeliveryByProviderID(_ context.Context, providerID string) (*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byProvider[providerID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) GetCampaign(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateCampaignSendState(_ context.Context, c *domain.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.campaigns[c.ID] = &cp
	f.sendStates = append(f.sendStates, cp)
	return nil
}

func (f *fakeStore) ListSubscribedContactsByTags(_ context.Context, tags []string) ([]domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Contact
	for _, c := range f.contacts {
		if c.Status != domain.ContactSubscribed {
			continue
		}
		match := true
		for _, tag := range tags {
			if !c.HasTag(tag) {
				match = false
				break
			}
		}
		if match {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetContactForDelivery(_ context.Context, id uuid.UUID) (*domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) MarkContactStatus(_ context.Context, contactID uuid.UUID, status domain.ContactStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[contactID] = status
	if c, ok := f.contacts[contactID]; ok {
		c.Status = status
	}
	return nil
}

func (f *fakeStore) record(t *testing.T, dedupKey string) *domain.DeliveryRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[dedupKey]
	if !ok {
		t.Fatalf("no delivery record for %s", dedupKey)
	}
	return rec
}

func (f *fakeStore) addContact(status domain.ContactStatus, tags ...string) *domain.Contact {
	c := &domain.Contact{
		ID:     uuid.New(),
		Email:  "test+" + uuid.New().String()[:8] + "@example.com",
		Status: status,
		Tags:   tags,
	}
	f.mu.Lock()
	f.contacts[c.ID] = c
	f.mu.Unlock()
	return c
}

func (f *fakeStore) addCampaign(status domain.CampaignStatus, tags ...string) *domain.Campaign {
	c := &domain.Campaign{
		ID:          uuid.New(),
		Name:        "Spring Sale",
		Subject:     "Hello {{ email }}",
		HTMLContent: `<p>Big savings.</p><a href="{{ unsubscribe_url }}">Unsubscribe</a>`,
		TextContent: "Big savings.",
		Status:      status,
		Tags:        tags,
	}
	f.mu.Lock()
	f.campaigns[c.ID] = c
	f.mu.Unlock()
	return c
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []*Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg *Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-" + uuid.New().String()[:8], nil
}

type fakeExiter struct {
	mu    sync.Mutex
	exits map[uuid.UUID]string
}

func (f *fakeExiter) ExitContact(_ context.Context, contactID uuid.UUID, reason string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exits == nil {
		f.exits = make(map[uuid.UUID]string)
	}
	f.exits[contactID] = reason
	return 1, nil
}

func testPipeline(store *fakeStore, m *fakeMailer) (*Pipeline, *fakeExiter) {
	exiter := &fakeExiter{}
	p := NewPipeline(store, m, NewRenderer("https://track.example.com"), 0)
	p.SetEnrollmentExiter(exiter)
	return p, exiter
}

func testEnrollment(contactID uuid.UUID) *domain.Enrollment {
	return &domain.Enrollment{
		ID:        uuid.New(),
		JourneyID: uuid.New(),
		ContactID: contactID,
		Status:    domain.EnrollmentActive,
	}
}

func TestSendStep_DeliversAndRecords(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	contact := store.addContact(domain.ContactSubscribed)
	enr := testEnrollment(contact.ID)

	if err := p.SendStep(context.Background(), enr, 1, campaign.ID); err != nil {
		t.Fatalf("SendStep: %v", err)
	}

	if len(m.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(m.sent))
	}
	msg := m.sent[0]
	if msg.To != contact.Email {
		t.Errorf("sent to %s, want %s", msg.To, contact.Email)
	}
	if msg.Subject != "Hello "+contact.Email {
		t.Errorf("merge fields not rendered: %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, contact.ID.String()) {
		t.Error("html missing per-recipient unsubscribe link")
	}
	if _, ok := msg.Headers["List-Unsubscribe"]; !ok {
		t.Error("missing List-Unsubscribe header")
	}

	rec := store.record(t, domain.DedupKeyStep(enr.ID, 1))
	if rec.Status != domain.DeliverySent {
		t.Errorf("expected sent record, got %s", rec.Status)
	}
	if rec.ProviderID == "" {
		t.Error("expected provider ID on the record")
	}
	if rec.Ref != domain.RefJourneyStep(enr.JourneyID, 1) {
		t.Errorf("unexpected ref %q", rec.Ref)
	}
}

func TestSendStep_DuplicateIsNoOp(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	contact := store.addContact(domain.ContactSubscribed)
	enr := testEnrollment(contact.ID)

	for i := 0; i < 2; i++ {
		if err := p.SendStep(context.Background(), enr, 1, campaign.ID); err != nil {
			t.Fatalf("SendStep #%d: %v", i, err)
		}
	}
	if len(m.sent) != 1 {
		t.Errorf("expected exactly 1 send, got %d", len(m.sent))
	}
	if got := p.Stats()["total_skipped"]; got != 1 {
		t.Errorf("expected 1 skip counted, got %d", got)
	}
}

func TestSendStep_SkipsSuppressedContact(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	contact := store.addContact(domain.ContactUnsubscribed)
	enr := testEnrollment(contact.ID)

	if err := p.SendStep(context.Background(), enr, 1, campaign.ID); err != nil {
		t.Fatalf("SendStep: %v", err)
	}
	if len(m.sent) != 0 {
		t.Error("suppressed contacts must not receive mail")
	}
	if len(store.records) != 0 {
		t.Error("no record expected for a skipped send")
	}
}

func TestSendStep_MissingUnsubscribeLinkBlocksSend(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	campaign.HTMLContent = "<p>No way out.</p>"
	store.campaigns[campaign.ID] = campaign
	contact := store.addContact(domain.ContactSubscribed)
	enr := testEnrollment(contact.ID)

	err := p.SendStep(context.Background(), enr, 1, campaign.ID)
	if !errors.Is(err, ErrMissingUnsubscribeLink) {
		t.Fatalf("expected ErrMissingUnsubscribeLink, got %v", err)
	}
	if len(m.sent) != 0 {
		t.Error("invalid content must not be sent")
	}
	if len(store.records) != 0 {
		t.Error("validation failures must not write a record")
	}
}

func TestSendStep_PermanentRejectionBouncesContact(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{err: &PermanentError{Reason: "550 no such user"}}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	contact := store.addContact(domain.ContactSubscribed)
	enr := testEnrollment(contact.ID)

	err := p.SendStep(context.Background(), enr, 1, campaign.ID)
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}

	rec := store.record(t, domain.DedupKeyStep(enr.ID, 1))
	if rec.Status != domain.DeliveryFailed {
		t.Errorf("expected failed record, got %s", rec.Status)
	}
	if rec.FailureReason == "" {
		t.Error("expected failure reason on the record")
	}
	if store.statuses[contact.ID] != domain.ContactBounced {
		t.Error("contact should be marked bounced after a permanent rejection")
	}
}

func TestSendStep_TransientFailureKeepsContactSubscribed(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{err: errors.New("429 slow down")}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	contact := store.addContact(domain.ContactSubscribed)
	enr := testEnrollment(contact.ID)

	err := p.SendStep(context.Background(), enr, 1, campaign.ID)
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, marked := store.statuses[contact.ID]; marked {
		t.Error("transient failures must not suppress the contact")
	}
}

func TestSendStep_RetriesAfterTransientFailure(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{err: errors.New("429 slow down")}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	contact := store.addContact(domain.ContactSubscribed)
	enr := testEnrollment(contact.ID)

	if err := p.SendStep(context.Background(), enr, 1, campaign.ID); err == nil {
		t.Fatal("expected the first attempt to fail")
	}
	rec := store.record(t, domain.DedupKeyStep(enr.ID, 1))
	if rec.Status != domain.DeliveryFailed {
		t.Fatalf("expected failed record after the first attempt, got %s", rec.Status)
	}
	firstID := rec.ID

	// Provider recovers; the retry must go back through the mailer instead
	// of treating the failed record as an already-done send.
	m.err = nil
	if err := p.SendStep(context.Background(), enr, 1, campaign.ID); err != nil {
		t.Fatalf("retry SendStep: %v", err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected the retry to send 1 mail, got %d", len(m.sent))
	}

	rec = store.record(t, domain.DedupKeyStep(enr.ID, 1))
	if rec.Status != domain.DeliverySent {
		t.Errorf("expected sent record after retry, got %s", rec.Status)
	}
	if rec.ID != firstID {
		t.Error("retry must reuse the existing record, not create a second")
	}
	if rec.FailureReason != "" {
		t.Errorf("failure reason must be cleared on retry, got %q", rec.FailureReason)
	}
	if rec.ProviderID == "" {
		t.Error("expected provider ID on the retried record")
	}
	if got := p.Stats()["total_skipped"]; got != 0 {
		t.Errorf("a retry is not a dedup skip, got %d skips", got)
	}
}

func TestSendCampaign_Lifecycle(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft, "vip")
	store.addContact(domain.ContactSubscribed, "vip")
	store.addContact(domain.ContactSubscribed, "vip")
	store.addContact(domain.ContactSubscribed)               // wrong segment
	store.addContact(domain.ContactUnsubscribed, "vip")      // suppressed
	store.addContact(domain.ContactBounced, "vip", "extras") // suppressed

	sent, err := p.SendCampaign(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("SendCampaign: %v", err)
	}

	if sent.Status != domain.CampaignSent {
		t.Errorf("expected sent, got %s", sent.Status)
	}
	if sent.TotalRecipients != 2 {
		t.Errorf("expected 2 recipients, got %d", sent.TotalRecipients)
	}
	if sent.SentAt == nil {
		t.Error("expected sent_at set")
	}
	if len(m.sent) != 2 {
		t.Errorf("expected 2 sends, got %d", len(m.sent))
	}

	// The campaign passed through sending before finishing.
	if len(store.sendStates) != 2 || store.sendStates[0].Status != domain.CampaignSending {
		t.Errorf("expected sending then sent states, got %+v", store.sendStates)
	}
}

func TestSendCampaign_OnlyOnce(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	store.addContact(domain.ContactSubscribed)

	if _, err := p.SendCampaign(context.Background(), campaign.ID); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := p.SendCampaign(context.Background(), campaign.ID); !errors.Is(err, ErrCampaignAlreadySent) {
		t.Fatalf("expected ErrCampaignAlreadySent, got %v", err)
	}
	if len(m.sent) != 1 {
		t.Errorf("expected 1 send total, got %d", len(m.sent))
	}
}

func TestSendCampaign_PermanentFailuresDoNotAbortFanout(t *testing.T) {
	store := newFakeStore()
	m := &fakeMailer{err: &PermanentError{Reason: "550 no such user"}}
	p, _ := testPipeline(store, m)

	campaign := store.addCampaign(domain.CampaignDraft)
	store.addContact(domain.ContactSubscribed)
	store.addContact(domain.ContactSubscribed)

	sent, err := p.SendCampaign(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("SendCampaign: %v", err)
	}
	if sent.Status != domain.CampaignSent {
		t.Errorf("campaign should finish despite rejections, got %s", sent.Status)
	}

	failed := 0
	for _, rec := range store.records {
		if rec.Status == domain.DeliveryFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("expected 2 failed records, got %d", failed)
	}
}

func sendOne(t *testing.T, p *Pipeline, store *fakeStore, contact *domain.Contact) *domain.DeliveryRecord {
	t.Helper()
	campaign := store.addCampaign(domain.CampaignDraft)
	enr := testEnrollment(contact.ID)
	if err := p.SendStep(context.Background(), enr, 1, campaign.ID); err != nil {
		t.Fatalf("SendStep: %v", err)
	}
	return store.record(t, domain.DedupKeyStep(enr.ID, 1))
}

func TestHandleProviderEvent_AdvancesRecord(t *testing.T) {
	store := newFakeStore()
	p, _ := testPipeline(store, &fakeMailer{})
	contact := store.addContact(domain.ContactSubscribed)
	rec := sendOne(t, p, store, contact)

	at := time.Now().UTC().Truncate(time.Second)
	err := p.HandleProviderEvent(context.Background(), ProviderEvent{
		Type: "delivered", ProviderID: rec.ProviderID, OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("HandleProviderEvent: %v", err)
	}

	got := store.record(t, rec.DedupKey)
	if got.Status != domain.DeliveryDelivered {
		t.Errorf("expected delivered, got %s", got.Status)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(at) {
		t.Errorf("expected delivered_at %v, got %v", at, got.DeliveredAt)
	}
}

func TestHandleProviderEvent_LateEventNeverRegresses(t *testing.T) {
	store := newFakeStore()
	p, _ := testPipeline(store, &fakeMailer{})
	contact := store.addContact(domain.ContactSubscribed)
	rec := sendOne(t, p, store, contact)

	ctx := context.Background()
	if err := p.HandleProviderEvent(ctx, ProviderEvent{Type: "open", ProviderID: rec.ProviderID}); err != nil {
		t.Fatalf("open: %v", err)
	}
	// Out-of-order delivery callback arrives after the open.
	if err := p.HandleProviderEvent(ctx, ProviderEvent{Type: "delivery", ProviderID: rec.ProviderID}); err != nil {
		t.Fatalf("late delivery: %v", err)
	}

	got := store.record(t, rec.DedupKey)
	if got.Status != domain.DeliveryOpened {
		t.Errorf("late delivery must not regress the record, got %s", got.Status)
	}
	if got.OpenedAt == nil {
		t.Error("opened_at should survive the late delivery event")
	}
}

func TestHandleProviderEvent_UnknownMessageDropped(t *testing.T) {
	store := newFakeStore()
	p, _ := testPipeline(store, &fakeMailer{})

	err := p.HandleProviderEvent(context.Background(), ProviderEvent{Type: "open", ProviderID: "never-sent"})
	if err != nil {
		t.Fatalf("unknown provider IDs must be dropped silently, got %v", err)
	}
}

func TestHandleProviderEvent_HardBounceSuppressesContact(t *testing.T) {
	store := newFakeStore()
	p, exiter := testPipeline(store, &fakeMailer{})
	contact := store.addContact(domain.ContactSubscribed)
	rec := sendOne(t, p, store, contact)

	err := p.HandleProviderEvent(context.Background(), ProviderEvent{
		Type: "bounce", ProviderID: rec.ProviderID, Hard: true,
	})
	if err != nil {
		t.Fatalf("HandleProviderEvent: %v", err)
	}

	if store.statuses[contact.ID] != domain.ContactBounced {
		t.Error("hard bounce must mark the contact bounced")
	}
	if exiter.exits[contact.ID] != domain.ExitReasonBounced {
		t.Errorf("expected enrollments exited for bounce, got %q", exiter.exits[contact.ID])
	}
}

func TestHandleProviderEvent_SoftBounceLeavesContact(t *testing.T) {
	store := newFakeStore()
	p, exiter := testPipeline(store, &fakeMailer{})
	contact := store.addContact(domain.ContactSubscribed)
	rec := sendOne(t, p, store, contact)

	err := p.HandleProviderEvent(context.Background(), ProviderEvent{
		Type: "bounce", ProviderID: rec.ProviderID, Hard: false,
	})
	if err != nil {
		t.Fatalf("HandleProviderEvent: %v", err)
	}

	if _, marked := store.statuses[contact.ID]; marked {
		t.Error("soft bounce must leave the contact subscribed")
	}
	if len(exiter.exits) != 0 {
		t.Error("soft bounce must not exit enrollments")
	}
	got := store.record(t, rec.DedupKey)
	if got.Status != domain.DeliveryBounced {
		t.Errorf("record should still show the bounce, got %s", got.Status)
	}
}

func TestHandleProviderEvent_ComplaintUnsubscribes(t *testing.T) {
	store := newFakeStore()
	p, exiter := testPipeline(store, &fakeMailer{})
	contact := store.addContact(domain.ContactSubscribed)
	rec := sendOne(t, p, store, contact)

	err := p.HandleProviderEvent(context.Background(), ProviderEvent{
		Type: "spam_complaint", ProviderID: rec.ProviderID,
	})
	if err != nil {
		t.Fatalf("HandleProviderEvent: %v", err)
	}

	if store.statuses[contact.ID] != domain.ContactUnsubscribed {
		t.Error("complaints must unsubscribe the contact")
	}
	if exiter.exits[contact.ID] != domain.ExitReasonUnsubscribed {
		t.Errorf("expected unsubscribe exit, got %q", exiter.exits[contact.ID])
	}
}

func TestUnsubscribe_DirectLink(t *testing.T) {
	store := newFakeStore()
	p, exiter := testPipeline(store, &fakeMailer{})
	contact := store.addContact(domain.ContactSubscribed)

	if err := p.Unsubscribe(context.Background(), contact.ID.String()); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if store.statuses[contact.ID] != domain.ContactUnsubscribed {
		t.Error("contact should be unsubscribed")
	}
	if exiter.exits[contact.ID] != domain.ExitReasonUnsubscribed {
		t.Error("active enrollments should be exited")
	}

	if err := p.Unsubscribe(context.Background(), "not-a-uuid"); err == nil {
		t.Error("expected error for a malformed contact id")
	}
}
