// Package pipeline runs one fetch, validate, transform, load and verify cycle
// and always ships the run's own log when it is over.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"time"

	"github.com/telhawk-systems/telhawk-etl/common/logging"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/ledger"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/metrics"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/models"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/notify"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/quarantine"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/runctx"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/runlock"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/storage"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/transformer"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/validator"
)

// DefaultPrimaryKey is where the latest batch lands, relative to the prefix.
const DefaultPrimaryKey = "dev/data_engineering_task.json"

// Fetcher retrieves the raw users payload.
type Fetcher interface {
	FetchUsers(ctx context.Context, quantity int) (json.RawMessage, error)
}

// Validator turns a raw payload into a Valid or Invalid result.
type Validator interface {
	Validate(raw []byte) validator.Result
}

// Store is the part of the storage gateway the pipeline uses.
type Store interface {
	Put(ctx context.Context, key string, p storage.Payload) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config holds the per-run settings.
type Config struct {
	// Quantity is how many users to request. Must be positive.
	Quantity int

	// PrimaryKey is the prefix-relative key of the primary output.
	PrimaryKey string

	// LockName names the single-writer lock taken around the load.
	LockName string

	// PushgatewayURL and MetricsJob enable the end-of-run metrics push.
	// MetricsInstance, usually the bucket, separates jobs sharing a gateway.
	PushgatewayURL  string
	MetricsJob      string
	MetricsInstance string
}

// HistoryKey returns the per-run copy of the primary output.
func HistoryKey(runID string) string {
	return fmt.Sprintf("history/%s.json", runID)
}

// LogKey returns where the run log is uploaded.
func LogKey(runID string) string {
	return fmt.Sprintf("logs/%s.txt", runID)
}

// Report describes how a run went.
type Report struct {
	RunID         string
	State         State
	Reason        string
	Records       int
	PrimaryKey    string
	HistoryKey    string
	QuarantineKey string
	LogKey        string
	Transitions   []State
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Pipeline sequences the stages of one run. A Pipeline runs once.
type Pipeline struct {
	cfg        Config
	rc         runctx.RunContext
	fetcher    Fetcher
	validator  Validator
	store      Store
	quarantine *quarantine.Queue
	locker     runlock.Locker
	ledger     ledger.Ledger
	notifier   *notify.Notifier
	runLog     *logging.RunLog
	logger     *slog.Logger
	now        func() time.Time

	state State
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithValidator replaces the default user validator.
func WithValidator(v Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// WithLocker guards the load with a single-writer lock.
func WithLocker(l runlock.Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

// WithLedger records the run outcome.
func WithLedger(l ledger.Ledger) Option {
	return func(p *Pipeline) { p.ledger = l }
}

// WithNotifier publishes the run outcome.
func WithNotifier(n *notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithLogger sets the logger. When no RunLog is given the pipeline captures
// this logger's output itself.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRunLog sets the capture buffer that is uploaded as the run log. The
// logger must already write into it.
func WithRunLog(r *logging.RunLog) Option {
	return func(p *Pipeline) { p.runLog = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New returns a Pipeline for the run rc.
func New(cfg Config, rc runctx.RunContext, fetcher Fetcher, store Store, opts ...Option) *Pipeline {
	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = DefaultPrimaryKey
	}
	p := &Pipeline{
		cfg:       cfg,
		rc:        rc,
		fetcher:   fetcher,
		validator: validator.New(),
		store:     store,
		locker:    runlock.Nop{},
		logger:    slog.Default(),
		now:       time.Now,
		state:     StateStart,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.runLog == nil {
		p.runLog = &logging.RunLog{}
		p.logger = slog.New(logging.Fanout(
			p.logger.Handler(),
			logging.NewHandler(p.runLog, slog.LevelInfo, "text"),
		))
	}
	p.logger = p.logger.With(logging.RunID(rc.ID()))
	p.quarantine = quarantine.NewQueue(store, p.logger)
	return p
}

// Run executes the pipeline. It returns an *AbortError when the run ends in
// ABORTED. The run log is uploaded on every path, including panics.
func (p *Pipeline) Run(ctx context.Context) (report *Report, err error) {
	runID := p.rc.ID()
	report = &Report{
		RunID:       runID,
		State:       p.state,
		PrimaryKey:  p.cfg.PrimaryKey,
		HistoryKey:  HistoryKey(runID),
		Transitions: []State{StateStart},
		StartedAt:   p.now(),
	}
	defer p.finish(ctx, report, &err)

	p.logger.Info("Pipeline started",
		slog.Int("quantity", p.cfg.Quantity),
		logging.Key(p.cfg.PrimaryKey),
	)

	// START → FETCHED
	raw, err := p.fetcher.FetchUsers(ctx, p.cfg.Quantity)
	if err != nil {
		return report, p.abort(report, "fetch failed", err)
	}
	if len(raw) == 0 {
		return report, p.abort(report, "fetch returned no payload", nil)
	}
	p.transition(report, StateFetched)

	// FETCHED → VALIDATED
	var batch models.Batch
	switch res := p.validator.Validate(raw).(type) {
	case validator.Valid:
		batch = res.Batch
	case validator.Invalid:
		verr := validationError(res)
		key, qerr := p.quarantine.Write(ctx, runID, raw, res.Messages())
		report.QuarantineKey = key
		if qerr != nil {
			return report, p.abort(report, "validation failed and quarantine write failed", errors.Join(verr, qerr))
		}
		return report, p.abort(report, "validation failed", verr)
	default:
		return report, p.abort(report, "validator returned no result", nil)
	}
	report.Records = len(batch)
	p.transition(report, StateValidated)

	// VALIDATED → TRANSFORMED
	stamped := transformer.ForRun(batch, p.rc)
	p.transition(report, StateTransformed)

	// TRANSFORMED → LOADED
	if err := p.load(ctx, report, stamped); err != nil {
		return report, err
	}
	p.transition(report, StateLoaded)

	// LOADED → VERIFIED
	if err := p.verify(ctx, report); err != nil {
		return report, err
	}
	p.transition(report, StateVerified)

	p.transition(report, StateDone)
	return report, nil
}

func (p *Pipeline) load(ctx context.Context, report *Report, batch models.Batch) error {
	release, err := p.locker.Acquire(ctx, p.cfg.LockName, report.RunID)
	if err != nil {
		return p.abort(report, "could not acquire output lock", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("Failed to release output lock", logging.Error(err))
		}
	}()

	payload := storage.NDJSON(batch)
	if err := p.store.Put(ctx, report.PrimaryKey, payload); err != nil {
		return p.abort(report, "primary write failed", err)
	}
	if err := p.store.Put(ctx, report.HistoryKey, payload); err != nil {
		return p.abort(report, "history write failed", err)
	}
	p.logger.Info("Batch written",
		logging.Count(len(batch)),
		slog.String("primary", report.PrimaryKey),
		slog.String("history", report.HistoryKey),
	)
	return nil
}

func (p *Pipeline) verify(ctx context.Context, report *Report) error {
	key := report.PrimaryKey

	ok, err := p.store.Exists(ctx, key)
	if err != nil {
		return p.abort(report, "verification failed", err)
	}
	if !ok {
		return p.abort(report, "primary object missing after load", nil)
	}

	dir := path.Dir(key)
	if dir == "." {
		dir = ""
	} else {
		dir += "/"
	}
	keys, err := p.store.List(ctx, dir)
	if err != nil {
		return p.abort(report, "verification listing failed", err)
	}
	if !slices.Contains(keys, key) {
		return p.abort(report, "primary object not listed after load", nil)
	}

	p.logger.Info("Primary object verified", logging.Key(key))
	return nil
}

func (p *Pipeline) transition(report *Report, to State) {
	from := p.state
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("illegal transition %s → %s", from, to))
	}
	p.state = to
	report.State = to
	report.Transitions = append(report.Transitions, to)
	p.logger.Info("State transition", slog.String("from", from.String()), logging.State(to.String()))
}

// abort logs the reason, moves to ABORTED and returns the error for Run.
func (p *Pipeline) abort(report *Report, reason string, err error) error {
	abortErr := &AbortError{State: p.state, Reason: reason, Err: err}
	report.Reason = reason
	p.logger.Error("Pipeline aborting",
		logging.State(p.state.String()),
		slog.String("reason", reason),
		logging.Error(err),
	)
	p.transition(report, StateAborted)
	return abortErr
}

// finish is the deferred end of every run. Optional sinks are best effort.
// The run log upload comes last so it holds everything before it.
func (p *Pipeline) finish(ctx context.Context, report *Report, errp *error) {
	if r := recover(); r != nil {
		reason := fmt.Sprintf("panic: %v", r)
		if p.state.Terminal() {
			report.Reason = reason
			*errp = &AbortError{State: p.state, Reason: reason}
		} else {
			*errp = p.abort(report, reason, nil)
		}
	}

	ctx = context.WithoutCancel(ctx)
	report.FinishedAt = p.now()
	report.LogKey = LogKey(report.RunID)
	elapsed := report.FinishedAt.Sub(report.StartedAt)

	metrics.Runs.WithLabelValues(report.State.String()).Inc()
	metrics.RunDuration.Observe(elapsed.Seconds())
	metrics.LastRunTimestamp.Set(float64(report.FinishedAt.Unix()))
	if report.State == StateDone {
		metrics.RecordsLoaded.Add(float64(report.Records))
		p.logger.Info("Pipeline finished",
			logging.State(report.State.String()),
			logging.Count(report.Records),
			logging.Duration(elapsed.Milliseconds()),
		)
	} else {
		p.logger.Error("Pipeline failed",
			logging.State(report.State.String()),
			slog.String("reason", report.Reason),
			logging.Duration(elapsed.Milliseconds()),
		)
	}

	if p.ledger != nil {
		err := p.ledger.Record(ctx, ledger.Run{
			RunID:       report.RunID,
			State:       report.State.String(),
			Reason:      report.Reason,
			RecordCount: report.Records,
			PrimaryKey:  report.PrimaryKey,
			StartedAt:   report.StartedAt,
			FinishedAt:  report.FinishedAt,
		})
		if err != nil {
			p.logger.Warn("Failed to record run in ledger", logging.Error(err))
		}
	}

	ev := notify.Event{
		RunID:         report.RunID,
		State:         report.State.String(),
		Reason:        report.Reason,
		Records:       report.Records,
		QuarantineKey: report.QuarantineKey,
		LogKey:        report.LogKey,
		Timestamp:     report.FinishedAt,
	}
	if report.State == StateDone {
		ev.PrimaryKey = report.PrimaryKey
		ev.HistoryKey = report.HistoryKey
	}
	if err := p.notifier.Notify(ctx, ev, report.State == StateAborted); err != nil {
		p.logger.Warn("Failed to publish run event", logging.Error(err))
	}

	if err := metrics.Push(ctx, p.cfg.PushgatewayURL, p.cfg.MetricsJob, p.cfg.MetricsInstance); err != nil {
		p.logger.Warn("Failed to push metrics", logging.Error(err))
	}

	p.logger.Info("Uploading run log", logging.Key(report.LogKey))
	if err := p.store.Put(ctx, report.LogKey, storage.Text(p.runLog.Bytes())); err != nil {
		report.LogKey = ""
		p.logger.Error("Failed to upload run log", logging.Error(err))
	}
}

// validationError joins the rejected payload's errors so callers can use
// errors.As to tell schema problems from field problems.
func validationError(res validator.Invalid) error {
	errs := make([]error, len(res.Errors))
	for i, e := range res.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}
