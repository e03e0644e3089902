package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"adoptnotify/internal/core"
	"adoptnotify/internal/notifications/email"
	"adoptnotify/internal/types"
)

var testNow = time.Date(2024, 1, 10, 21, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type suppressCall struct {
	AnimalID         string
	NotificationType *string
	Reason           string
}

type mockSuppressions struct {
	suppressed   []suppressCall
	unsuppressed []suppressCall
	removed      int64
	err          error
}

func (m *mockSuppressions) Suppress(_ context.Context, animalID string, nt *string, reason string) error {
	m.suppressed = append(m.suppressed, suppressCall{animalID, nt, reason})
	return m.err
}

func (m *mockSuppressions) Unsuppress(_ context.Context, animalID string, nt *string) (int64, error) {
	m.unsuppressed = append(m.unsuppressed, suppressCall{AnimalID: animalID, NotificationType: nt})
	return m.removed, m.err
}

type mockConfigs struct {
	configs   map[string]types.NotificationConfig
	updates   []types.ConfigUpdate
	listErr   error
	updateErr error
}

func (m *mockConfigs) List(context.Context) ([]types.NotificationConfig, error) {
	out := make([]types.NotificationConfig, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, c)
	}
	return out, m.listErr
}

func (m *mockConfigs) Get(_ context.Context, nt string) (*types.NotificationConfig, error) {
	c, ok := m.configs[nt]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotificationType, "notification type not found", nil)
	}
	return &c, nil
}

func (m *mockConfigs) Update(_ context.Context, nt string, upd types.ConfigUpdate) ([]string, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if _, ok := m.configs[nt]; !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotificationType, "notification type not found", nil)
	}
	m.updates = append(m.updates, upd)
	var fields []string
	if upd.Enabled != nil {
		fields = append(fields, "enabled")
	}
	if upd.TestMode != nil {
		fields = append(fields, "test_mode")
	}
	if upd.DelayHours != nil {
		fields = append(fields, "delay_hours")
	}
	return fields, nil
}

type mockPollStates struct{ states []types.PollState }

func (m *mockPollStates) List(context.Context) ([]types.PollState, error) { return m.states, nil }

type mockLedger struct {
	summary    []types.ActivitySummary
	stats      []types.NotificationStat
	statsSince time.Time
}

func (m *mockLedger) ActivitySummary(_ context.Context, since time.Time) ([]types.ActivitySummary, error) {
	return m.summary, nil
}

func (m *mockLedger) Stats(_ context.Context, since time.Time) ([]types.NotificationStat, error) {
	m.statsSince = since
	return m.stats, nil
}

type mockEvents struct {
	ingested []types.AdoptionEvent
	overview []types.AdoptionOverview
	err      error
}

func (m *mockEvents) Ingest(_ context.Context, e *types.AdoptionEvent) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.ingested = append(m.ingested, *e)
	return true, nil
}

func (m *mockEvents) ListOverview(_ context.Context, limit int) ([]types.AdoptionOverview, error) {
	return m.overview, m.err
}

type mockApplications struct {
	count     int
	forms     []types.FormStat
	formSince time.Time
}

func (m *mockApplications) CountActive(context.Context, string) (int, error) { return m.count, nil }

func (m *mockApplications) FormStats(_ context.Context, since time.Time) ([]types.FormStat, error) {
	m.formSince = since
	return m.forms, nil
}

type mockPoller struct {
	enabled  bool
	requests []string
	err      error
}

func (m *mockPoller) Enabled() bool { return m.enabled }

func (m *mockPoller) RequestPoll(_ context.Context, nt, reason string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.requests = append(m.requests, nt)
	return "req-1", nil
}

type adminFixture struct {
	suppressions *mockSuppressions
	configs      *mockConfigs
	ledger       *mockLedger
	events       *mockEvents
	applications *mockApplications
	poller       *mockPoller
	router       chi.Router
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	f := &adminFixture{
		suppressions: &mockSuppressions{},
		configs: &mockConfigs{configs: map[string]types.NotificationConfig{
			types.NotificationTypeAdoptionOutcome: {
				NotificationType: types.NotificationTypeAdoptionOutcome,
				DisplayName:      "Adoption Outcome",
				Enabled:          true,
				DelayHours:       12,
				ASMTriggerField:  "ADDITIONALFIELD1",
				ASMAPIMethod:     "json_recent_adoptions",
			},
		}},
		ledger:       &mockLedger{},
		events:       &mockEvents{},
		applications: &mockApplications{},
		poller:       &mockPoller{enabled: true},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAdminHandler(AdminDeps{
		Suppressions: f.suppressions,
		Configs:      f.configs,
		PollStates:   &mockPollStates{states: []types.PollState{{NotificationType: types.NotificationTypeAdoptionOutcome, LastSeenTS: testNow}}},
		Ledger:       f.ledger,
		Events:       f.events,
		Applications: f.applications,
		Poller:       f.poller,
		Settings: AdminSettings{
			Mode:             types.ModeTesting,
			TestRecipient:    "web@homelesshounds.com.au",
			TestTriggerValue: "TEST_ADOPTION_NOTIFICATION",
		},
		Validator: core.NewValidator(logger),
		Clock:     fixedClock{testNow},
		Logger:    logger,
	})

	r := chi.NewRouter()
	r.Route("/v1/admin", h.RegisterRoutes)
	f.router = r
	return f
}

func (f *adminFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// decodeData unwraps the {"data": ...} envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

type mockVerifier struct {
	ok    bool
	err   error
	calls int
}

func (m *mockVerifier) Verify(payload []byte, signature, timestamp string) (bool, error) {
	m.calls++
	return m.ok, m.err
}

type mockProcessor struct {
	batches [][]email.FeedbackEvent
}

func (m *mockProcessor) Process(_ context.Context, events []email.FeedbackEvent) email.FeedbackResult {
	m.batches = append(m.batches, events)
	return email.FeedbackResult{Received: len(events)}
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }
