package outcome

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"adoptnotify/internal/notifications/email"
	"adoptnotify/internal/types"
)

// ============================================================
// In-memory collaborators
// ============================================================

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memEvents struct {
	rows      map[string]types.AdoptionEvent
	ingestErr error
	listErr   error
	listCalls []listCall
}

type listCall struct {
	Cutoff time.Time
	Limit  int
}

func newMemEvents() *memEvents {
	return &memEvents{rows: make(map[string]types.AdoptionEvent)}
}

func (m *memEvents) Ingest(_ context.Context, e *types.AdoptionEvent) (bool, error) {
	if m.ingestErr != nil {
		return false, m.ingestErr
	}
	if _, ok := m.rows[e.AdoptionKey]; ok {
		return false, nil
	}
	m.rows[e.AdoptionKey] = *e
	return true, nil
}

func (m *memEvents) ListMatured(_ context.Context, cutoff time.Time, limit int) ([]types.AdoptionEvent, error) {
	m.listCalls = append(m.listCalls, listCall{Cutoff: cutoff, Limit: limit})
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []types.AdoptionEvent
	for _, e := range m.rows {
		if !e.AdoptionDate.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdoptionDate.After(out[j].AdoptionDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memCursor struct {
	ts       map[string]time.Time
	fallback time.Time
	readErr  error
	advances int
}

func (m *memCursor) Read(_ context.Context, nt string) (time.Time, error) {
	if m.readErr != nil {
		return time.Time{}, m.readErr
	}
	if t, ok := m.ts[nt]; ok {
		return t, nil
	}
	return m.fallback, nil
}

func (m *memCursor) Advance(_ context.Context, nt string, ts time.Time, _ bool) (bool, error) {
	m.advances++
	if cur, ok := m.ts[nt]; ok && !ts.After(cur) {
		return false, nil
	}
	m.ts[nt] = ts
	return true, nil
}

type memSuppressions struct {
	// key: animal id; value: notification type, "" for all types
	rows map[string]string
	err  error
}

func (m *memSuppressions) IsSuppressed(_ context.Context, animalID, nt string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	scope, ok := m.rows[animalID]
	return ok && (scope == "" || scope == nt), nil
}

type memApplication struct {
	AnimalID   string
	Email      string
	CreatedAt  time.Time
	Superseded bool
}

type memApplicants struct {
	apps []memApplication
	err  error
}

func (m *memApplicants) FetchEligibleApplicants(_ context.Context, animalID string, notBefore time.Time) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []string{}
	for _, a := range m.apps {
		if a.AnimalID == animalID && !a.Superseded && !a.CreatedAt.After(notBefore) {
			out = append(out, a.Email)
		}
	}
	return out, nil
}

type memConfigs struct {
	configs []types.NotificationConfig
	err     error
}

func (m *memConfigs) ListEnabled(context.Context) ([]types.NotificationConfig, error) {
	return m.configs, m.err
}

type fakeUpstream struct {
	events      []types.RawEvent
	animals     []types.RawEvent
	err         error
	methods     []string
	animalCalls int
}

func (f *fakeUpstream) FetchEventsSince(_ context.Context, method string, _ time.Time) ([]types.RawEvent, error) {
	f.methods = append(f.methods, method)
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeUpstream) FetchAdoptableAnimals(context.Context) ([]types.RawEvent, error) {
	f.animalCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.animals, nil
}

type ledgerKey struct {
	animal, applicant string
	kind              types.NotificationKind
	testMode          bool
}

// memLedger enforces the unique tuple the way the database index does.
type memLedger struct {
	mu         sync.Mutex
	rows       map[ledgerKey]*types.LedgerEntry
	nextID     int64
	reserveErr error
	handledErr error
	reserves   int
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[ledgerKey]*types.LedgerEntry)}
}

func (m *memLedger) HasHandled(_ context.Context, animalID, applicant string, kind types.NotificationKind, testMode bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handledErr != nil {
		return false, m.handledErr
	}
	_, ok := m.rows[ledgerKey{animalID, applicant, kind, testMode}]
	return ok, nil
}

func (m *memLedger) Reserve(_ context.Context, e *types.LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves++
	if m.reserveErr != nil {
		return false, m.reserveErr
	}
	k := ledgerKey{e.AnimalID, e.ApplicantEmail, e.Kind, e.TestMode}
	if _, ok := m.rows[k]; ok {
		return false, nil
	}
	m.nextID++
	e.ID = m.nextID
	e.Status = types.StatusPending
	row := *e
	m.rows[k] = &row
	return true, nil
}

func (m *memLedger) Complete(_ context.Context, id int64, status types.DeliveryStatus, msgID string, sendErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && r.Status == types.StatusPending {
			r.Status = status
			r.ProviderMessageID = msgID
			if sendErr != nil {
				r.Error = sendErr.Error()
			}
			return nil
		}
	}
	return errors.New("pending row not found")
}

func (m *memLedger) get(animal, applicant string, kind types.NotificationKind, testMode bool) *types.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[ledgerKey{animal, applicant, kind, testMode}]
}

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type fakeSender struct {
	mu     sync.Mutex
	inputs []types.SendInput
	err    error
	// failFor makes sends to these recipients fail.
	failFor map[string]error
}

func (f *fakeSender) Send(_ context.Context, in types.SendInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if err, ok := f.failFor[in.To]; ok {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return "msg-" + in.To, nil
}

func (f *fakeSender) sent() []types.SendInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.SendInput(nil), f.inputs...)
}

type fakeMetrics struct {
	cycles           []TypeStats
	upstreamFailures int
}

func (f *fakeMetrics) RecordCycle(_ context.Context, _ string, _ bool, stats TypeStats, _ time.Duration) {
	f.cycles = append(f.cycles, stats)
}

func (f *fakeMetrics) RecordUpstreamFailure(context.Context, string) { f.upstreamFailures++ }

type lockCall struct {
	LockID string
	TTL    time.Duration
}

type fakeLock struct {
	held     map[string]bool
	err      error
	acquired []lockCall
	released []string
}

func (f *fakeLock) Acquire(_ context.Context, lockID, _ string, ttl time.Duration) (bool, error) {
	f.acquired = append(f.acquired, lockCall{LockID: lockID, TTL: ttl})
	if f.err != nil {
		return false, f.err
	}
	return !f.held[lockID], nil
}

func (f *fakeLock) Release(_ context.Context, lockID, _ string) error {
	f.released = append(f.released, lockID)
	return nil
}

// ============================================================
// Harness
// ============================================================

type harness struct {
	clock        *fixedClock
	events       *memEvents
	cursor       *memCursor
	suppressions *memSuppressions
	applicants   *memApplicants
	configs      *memConfigs
	upstream     *fakeUpstream
	ledger       *memLedger
	sender       *fakeSender
	metrics      *fakeMetrics
	lock         *fakeLock
	mode         types.NotificationMode
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	return &harness{
		clock:        &fixedClock{t: now},
		events:       newMemEvents(),
		cursor:       &memCursor{ts: map[string]time.Time{}, fallback: now.Add(-24 * time.Hour)},
		suppressions: &memSuppressions{rows: map[string]string{}},
		applicants:   &memApplicants{},
		configs: &memConfigs{configs: []types.NotificationConfig{{
			NotificationType: types.NotificationTypeAdoptionOutcome,
			Enabled:          true,
			DelayHours:       12,
			ASMTriggerField:  "ADDITIONALFLAGS",
			ASMAPIMethod:     "json_recent_adoptions",
		}}},
		upstream: &fakeUpstream{},
		ledger:   newMemLedger(),
		sender:   &fakeSender{},
		metrics:  &fakeMetrics{},
		mode:     types.ModeProduction,
	}
}

func (h *harness) dispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	renderer, err := email.NewRenderer(email.RendererConfig{SiteBaseURL: "https://homelesshounds.com.au"})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return NewDispatcher(DispatcherConfig{
		Ledger:        h.ledger,
		Renderer:      renderer,
		Sender:        h.sender,
		From:          types.SenderIdentity{Name: "Homeless Hounds", Address: "adopt@homelesshounds.com.au"},
		ReplyTo:       types.SenderIdentity{Name: "Homeless Hounds", Address: "web@homelesshounds.com.au"},
		TestRecipient: "test@y.com",
		PhotoURL: func(id string) string {
			return "https://service.sheltermanager.com/asmservice?animalid=" + id + "&method=animal_image"
		},
		Logger: discardLogger(),
	})
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	cfg := PipelineConfig{
		Events:           h.events,
		Cursor:           h.cursor,
		Suppressions:     h.suppressions,
		Applicants:       h.applicants,
		Configs:          h.configs,
		Upstream:         h.upstream,
		Notifier:         h.dispatcher(t),
		Metrics:          h.metrics,
		Clock:            h.clock,
		Mode:             h.mode,
		TestTriggerValue: "TEST_ADOPTION_NOTIFICATION",
		WorkerID:         "worker-1",
		Logger:           discardLogger(),
	}
	if h.lock != nil {
		cfg.Lock = h.lock
	}
	return NewPipeline(cfg)
}

// racingLedger reports a tuple as unhandled and then loses the reservation,
// as when another run inserts the row between the check and the insert.
type racingLedger struct {
	*memLedger
}

func (racingLedger) HasHandled(context.Context, string, string, types.NotificationKind, bool) (bool, error) {
	return false, nil
}
