// Package outcome implements the adoption-outcome notification pipeline:
// ingest upstream adoption records, wait for them to mature, resolve the
// winning applicant and email everyone exactly once.
package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"adoptnotify/internal/types"
)

// LockPrefix prefixes the per-type job lock id.
const LockPrefix = "outcome_poll:"

// Defaults applied when PipelineConfig leaves a field zero.
const (
	DefaultDelayHours      = 12
	DefaultProductionLimit = 50
	DefaultTestLimit       = 10
	DefaultLockTTL         = 9 * time.Minute
)

// EventStore persists adoption events.
type EventStore interface {
	Ingest(ctx context.Context, e *types.AdoptionEvent) (bool, error)
	ListMatured(ctx context.Context, cutoff time.Time, limit int) ([]types.AdoptionEvent, error)
}

// CursorStore holds the per-type high-water mark.
type CursorStore interface {
	Read(ctx context.Context, notificationType string) (time.Time, error)
	Advance(ctx context.Context, notificationType string, ts time.Time, testMode bool) (bool, error)
}

// SuppressionGate reports administrative opt-outs.
type SuppressionGate interface {
	IsSuppressed(ctx context.Context, animalID, notificationType string) (bool, error)
}

// ConfigSource lists the notification types to process.
type ConfigSource interface {
	ListEnabled(ctx context.Context) ([]types.NotificationConfig, error)
}

// Upstream reads adoption records from the shelter system.
type Upstream interface {
	FetchEventsSince(ctx context.Context, method string, since time.Time) ([]types.RawEvent, error)
	FetchAdoptableAnimals(ctx context.Context) ([]types.RawEvent, error)
}

// Notifier sends outcome emails. *Dispatcher implements it.
type Notifier interface {
	NotifyWinner(ctx context.Context, scope Scope, event *types.AdoptionEvent, applicant string) DispatchStats
	NotifyLosers(ctx context.Context, scope Scope, event *types.AdoptionEvent, applicants []string) DispatchStats
}

// TypeLock is a TTL lease keyed by lock id and owned by a worker.
type TypeLock interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// PipelineConfig holds the collaborators and tuning of a Pipeline.
type PipelineConfig struct {
	Events       EventStore
	Cursor       CursorStore
	Suppressions SuppressionGate
	Applicants   ApplicantSource
	Configs      ConfigSource
	Upstream     Upstream
	Notifier     Notifier
	Metrics      Metrics
	Clock        types.Clock

	// Lock is optional. When set, each type is processed under the lease
	// LockPrefix+type and skipped if another worker holds it.
	Lock     TypeLock
	WorkerID string
	LockTTL  time.Duration

	// Mode forces test mode for every type when set to testing.
	Mode             types.NotificationMode
	TestTriggerValue string

	DefaultDelayHours int
	ProductionLimit   int
	TestLimit         int

	// Location is the zone naive upstream dates are interpreted in.
	Location *time.Location

	Logger *slog.Logger
}

// TypeStats counts what one ProcessType call did.
type TypeStats struct {
	Fetched        int
	Ingested       int
	Duplicates     int
	Malformed      int
	StoreErrors    int
	CursorAdvanced bool

	Matured      int
	Suppressed   int
	NoApplicants int
	Dispatch     DispatchStats
}

// TypeResult is the outcome of one type within a cycle.
type TypeResult struct {
	NotificationType string
	TestMode         bool
	Stats            TypeStats
	// LockHeld is set when the type was skipped because another worker
	// holds its lock.
	LockHeld bool
	Err      error
}

// CycleResult summarises a RunCycle call.
type CycleResult struct {
	Types []TypeResult
}

// Failed counts types that ended in error.
func (r *CycleResult) Failed() int {
	n := 0
	for _, t := range r.Types {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// Pipeline runs polling cycles.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger
}

// NewPipeline applies defaults and returns a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultDelayHours <= 0 {
		cfg.DefaultDelayHours = DefaultDelayHours
	}
	if cfg.ProductionLimit <= 0 {
		cfg.ProductionLimit = DefaultProductionLimit
	}
	if cfg.TestLimit <= 0 {
		cfg.TestLimit = DefaultTestLimit
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// RunCycle processes every enabled type in turn. A failing type is logged
// and recorded in the result; only failing to load the configs is returned.
func (p *Pipeline) RunCycle(ctx context.Context) (*CycleResult, error) {
	return p.run(ctx, "")
}

// RunType processes a single enabled type.
func (p *Pipeline) RunType(ctx context.Context, notificationType string) (*CycleResult, error) {
	res, err := p.run(ctx, notificationType)
	if err != nil {
		return nil, err
	}
	if len(res.Types) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotificationType,
			fmt.Sprintf("notification type %q is not enabled", notificationType), nil)
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, only string) (*CycleResult, error) {
	configs, err := p.cfg.Configs.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading notification configs: %w", err)
	}

	p.logger.InfoContext(ctx, "starting notification cycle", "enabled_types", len(configs))

	res := &CycleResult{}
	for _, nc := range configs {
		if only != "" && nc.NotificationType != only {
			continue
		}
		res.Types = append(res.Types, p.runLocked(ctx, nc))
	}

	p.logger.InfoContext(ctx, "notification cycle complete",
		"types", len(res.Types),
		"failed", res.Failed(),
	)
	return res, nil
}

func (p *Pipeline) runLocked(ctx context.Context, nc types.NotificationConfig) TypeResult {
	tr := TypeResult{NotificationType: nc.NotificationType, TestMode: p.testMode(nc)}
	log := p.logger.With("notification_type", nc.NotificationType)

	if p.cfg.Lock != nil {
		lockID := LockPrefix + nc.NotificationType
		acquired, err := p.cfg.Lock.Acquire(ctx, lockID, p.cfg.WorkerID, p.cfg.LockTTL)
		if err != nil {
			log.ErrorContext(ctx, "failed to acquire type lock", "lock_id", lockID, "error", err)
			tr.Err = err
			return tr
		}
		if !acquired {
			log.InfoContext(ctx, "type lock held by another worker, skipping", "lock_id", lockID)
			tr.LockHeld = true
			return tr
		}
		defer func() {
			if err := p.cfg.Lock.Release(ctx, lockID, p.cfg.WorkerID); err != nil {
				log.WarnContext(ctx, "failed to release type lock", "lock_id", lockID, "error", err)
			}
		}()
	}

	start := p.cfg.Clock.Now()
	stats, err := p.ProcessType(ctx, nc)
	p.cfg.Metrics.RecordCycle(ctx, nc.NotificationType, tr.TestMode, stats, p.cfg.Clock.Now().Sub(start))

	tr.Stats = stats
	if err != nil {
		log.ErrorContext(ctx, "failed to process notification type", "error", err)
		tr.Err = err
	}
	return tr
}

func (p *Pipeline) testMode(nc types.NotificationConfig) bool {
	return p.cfg.Mode == types.ModeTesting || nc.TestMode
}

// ProcessType runs ingestion, cursor advance and dispatch for one type.
func (p *Pipeline) ProcessType(ctx context.Context, nc types.NotificationConfig) (TypeStats, error) {
	var stats TypeStats
	testMode := p.testMode(nc)
	log := p.logger.With("notification_type", nc.NotificationType, "test_mode", testMode)

	since, err := p.cfg.Cursor.Read(ctx, nc.NotificationType)
	if err != nil {
		return stats, fmt.Errorf("reading poll cursor: %w", err)
	}

	var maxSeen time.Time
	if testMode && nc.ASMTriggerField != "" {
		maxSeen, err = p.ingestTriggers(ctx, nc, &stats, log)
	} else {
		maxSeen, err = p.ingestUpstream(ctx, nc, since, &stats, log)
	}
	if err != nil {
		p.cfg.Metrics.RecordUpstreamFailure(ctx, nc.NotificationType)
		return stats, err
	}

	if maxSeen.After(since) {
		advanced, err := p.cfg.Cursor.Advance(ctx, nc.NotificationType, maxSeen, testMode)
		if err != nil {
			log.ErrorContext(ctx, "failed to advance poll cursor", "error", err)
		}
		stats.CursorAdvanced = advanced
	}

	now := p.cfg.Clock.Now()
	cutoff, limit := now, p.cfg.TestLimit
	if !testMode {
		delay := nc.DelayHours
		if delay <= 0 {
			delay = p.cfg.DefaultDelayHours
		}
		cutoff = now.Add(-time.Duration(delay) * time.Hour)
		limit = p.cfg.ProductionLimit
	}

	events, err := p.cfg.Events.ListMatured(ctx, cutoff, limit)
	if err != nil {
		return stats, fmt.Errorf("listing matured events: %w", err)
	}
	stats.Matured = len(events)
	log.InfoContext(ctx, "matured events selected",
		"count", len(events),
		"cutoff", cutoff.Format(time.RFC3339),
		"limit", limit,
	)

	scope := Scope{NotificationType: nc.NotificationType, TestMode: testMode}
	for i := range events {
		p.processEvent(ctx, scope, &events[i], &stats, log)
	}

	log.InfoContext(ctx, "notification type processed",
		"ingested", stats.Ingested,
		"malformed", stats.Malformed,
		"matured", stats.Matured,
		"suppressed", stats.Suppressed,
		"sent", stats.Dispatch.Sent,
		"failed", stats.Dispatch.Failed,
		"skipped", stats.Dispatch.Skipped,
	)
	return stats, nil
}

func (p *Pipeline) ingestUpstream(ctx context.Context, nc types.NotificationConfig, since time.Time, stats *TypeStats, log *slog.Logger) (time.Time, error) {
	records, err := p.cfg.Upstream.FetchEventsSince(ctx, nc.ASMAPIMethod, since)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching %s: %w", nc.ASMAPIMethod, err)
	}
	stats.Fetched = len(records)

	var maxSeen time.Time
	for _, raw := range records {
		event, err := ParseEvent(raw, p.cfg.Location)
		if err != nil {
			stats.Malformed++
			log.WarnContext(ctx, "dropping malformed adoption record", "error", err)
			continue
		}
		if p.store(ctx, event, stats, log) && event.AdoptionDate.After(maxSeen) {
			maxSeen = event.AdoptionDate
		}
	}
	return maxSeen, nil
}

func (p *Pipeline) ingestTriggers(ctx context.Context, nc types.NotificationConfig, stats *TypeStats, log *slog.Logger) (time.Time, error) {
	animals, err := p.cfg.Upstream.FetchAdoptableAnimals(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching adoptable animals: %w", err)
	}
	stats.Fetched = len(animals)

	var maxSeen time.Time
	now := p.cfg.Clock.Now()
	for _, animal := range animals {
		if scalarString(animal[nc.ASMTriggerField]) != p.cfg.TestTriggerValue {
			continue
		}
		event, err := TriggerEvent(animal, now)
		if err != nil {
			stats.Malformed++
			log.WarnContext(ctx, "dropping trigger record", "error", err)
			continue
		}
		log.InfoContext(ctx, "test trigger found", "animal_id", event.AnimalID)
		if p.store(ctx, event, stats, log) {
			maxSeen = now
		}
	}
	return maxSeen, nil
}

// store ingests one event and reports whether it is now present.
func (p *Pipeline) store(ctx context.Context, event *types.AdoptionEvent, stats *TypeStats, log *slog.Logger) bool {
	inserted, err := p.cfg.Events.Ingest(ctx, event)
	if err != nil {
		stats.StoreErrors++
		log.ErrorContext(ctx, "failed to store adoption event",
			"animal_id", event.AnimalID,
			"adoption_key", event.AdoptionKey,
			"error", err,
		)
		return false
	}
	if inserted {
		stats.Ingested++
	} else {
		stats.Duplicates++
	}
	return true
}

func (p *Pipeline) processEvent(ctx context.Context, scope Scope, event *types.AdoptionEvent, stats *TypeStats, log *slog.Logger) {
	log = log.With("animal_id", event.AnimalID, "adoption_key", event.AdoptionKey)

	suppressed, err := p.cfg.Suppressions.IsSuppressed(ctx, event.AnimalID, scope.NotificationType)
	if err != nil {
		stats.Dispatch.Errors++
		log.ErrorContext(ctx, "failed to check suppression, skipping event", "error", err)
		return
	}
	if suppressed {
		stats.Suppressed++
		log.InfoContext(ctx, "skipping suppressed animal")
		return
	}

	applicants, err := p.cfg.Applicants.FetchEligibleApplicants(ctx, event.AnimalID, event.AdoptionDate)
	if err != nil {
		stats.Dispatch.Errors++
		log.ErrorContext(ctx, "failed to load applicants, skipping event", "error", err)
		return
	}

	res := Resolve(event, applicants)
	if res.Skipped > 0 {
		stats.Dispatch.Skipped += res.Skipped
		log.WarnContext(ctx, "skipped applicants without email", "count", res.Skipped)
	}
	if res.Kind == NoApplicants {
		stats.NoApplicants++
		log.InfoContext(ctx, "no applicants found")
		return
	}

	log.InfoContext(ctx, "resolved adoption outcome",
		"has_winner", res.Winner != "",
		"losers", len(res.Losers),
	)
	if res.Winner != "" {
		stats.Dispatch.add(p.cfg.Notifier.NotifyWinner(ctx, scope, event, res.Winner))
	}
	if len(res.Losers) > 0 {
		stats.Dispatch.add(p.cfg.Notifier.NotifyLosers(ctx, scope, event, res.Losers))
	}
}
