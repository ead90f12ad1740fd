// Package monitor runs the periodic monitoring cycle: query every
// enabled source for every active topic, store what is new, then fan
// out notifications.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/listing"
	"github.com/ihabontop/jobwatch/internal/metrics"
	"github.com/ihabontop/jobwatch/internal/notify"
	"github.com/ihabontop/jobwatch/internal/ratelimit"
)

// Config bounds one monitoring cycle.
type Config struct {
	// MaxConcurrent caps in-flight topic searches per source.
	MaxConcurrent int
	// AdapterTimeout bounds one adapter search call.
	AdapterTimeout time.Duration
	// RequestDelay paces successive topic searches against one source.
	RequestDelay time.Duration
	// SourceDelay separates successive sources within a cycle.
	SourceDelay time.Duration
	// DefaultLocation is passed to adapters as the search location.
	DefaultLocation string
}

func (c Config) validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be > 0")
	}
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter timeout must be > 0")
	}
	return nil
}

// Source binds a source name to its adapter factory. The adapter is
// opened fresh each cycle, so a source that fails to build (missing
// credentials, bad config) is skipped for that cycle only and comes
// back on its own once the problem is fixed.
type Source struct {
	Name string
	Open func() (listing.Adapter, error)
}

// Orchestrator drives monitoring cycles. Sources run sequentially;
// within a source, topics run concurrently under a semaphore. At most
// one cycle is in flight at a time.
type Orchestrator struct {
	store     listing.Store
	sources   []Source
	notifier  *notify.Notifier
	transport listing.Transport
	limiter   *ratelimit.Limiter
	clock     listing.Clock
	cfg       Config
	logger    *zap.Logger

	running atomic.Bool

	mu   sync.Mutex
	last *listing.CycleStats
}

// New builds an Orchestrator. Sources run in the order given.
func New(
	store listing.Store,
	sources []Source,
	notifier *notify.Notifier,
	transport listing.Transport,
	limiter *ratelimit.Limiter,
	clock listing.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		sources:   sources,
		notifier:  notifier,
		transport: transport,
		limiter:   limiter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Running reports whether a cycle is currently in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastCycle returns a snapshot of the most recently finished cycle, or
// nil when none has completed yet.
func (o *Orchestrator) LastCycle() *listing.CycleStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	snapshot := *o.last
	return &snapshot
}

// RunCycle executes one full monitoring cycle. A second call while one
// is in flight returns listing.ErrCycleRunning immediately.
func (o *Orchestrator) RunCycle(ctx context.Context) (listing.CycleStats, error) {
	if !o.running.CompareAndSwap(false, true) {
		return listing.CycleStats{}, listing.ErrCycleRunning
	}
	defer o.running.Store(false)
	return o.cycle(ctx)
}

// StartCycle launches a cycle in the background. It reserves the
// overlap guard before returning, so a nil result means the cycle is
// genuinely in flight.
func (o *Orchestrator) StartCycle(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return listing.ErrCycleRunning
	}
	go func() {
		defer o.running.Store(false)
		if _, err := o.cycle(ctx); err != nil {
			o.logger.Error("background cycle failed", zap.Error(err))
		}
	}()
	return nil
}

func (o *Orchestrator) cycle(ctx context.Context) (listing.CycleStats, error) {
	metrics.SetCycleRunning(true)
	defer metrics.SetCycleRunning(false)

	stats := listing.CycleStats{
		CycleID:   uuid.Must(uuid.NewV7()).String(),
		StartedAt: o.clock.Now(),
		Sources:   make(map[string]listing.SourceStats),
	}
	log := o.logger.With(zap.String("cycle_id", stats.CycleID))
	log.Info("cycle started", zap.Int("sources", len(o.sources)))

	topics, err := o.store.ActiveTopics(ctx)
	if err != nil {
		err = fmt.Errorf("load active topics: %w", err)
		log.Error("cycle aborted", zap.Error(err))
		if derr := o.transport.DeliverError(ctx, "chargement des sujets", err); derr != nil {
			log.Warn("error notice delivery failed", zap.Error(derr))
		}
		stats.Errors = append(stats.Errors, err.Error())
		o.finish(&stats, "error", log)
		return stats, err
	}

	if len(topics) == 0 {
		log.Info("no active topics, nothing to monitor")
		o.finish(&stats, "ok", log)
		return stats, nil
	}

	for i, src := range o.sources {
		if err := ctx.Err(); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			break
		}
		if i > 0 && o.cfg.SourceDelay > 0 {
			if err := sleep(ctx, o.cfg.SourceDelay); err != nil {
				stats.Errors = append(stats.Errors, err.Error())
				break
			}
		}

		adapter, err := src.Open()
		if err != nil {
			// skipped for this cycle only; the next cycle retries
			log.Warn("source unavailable", zap.String("source", src.Name), zap.Error(err))
			metrics.IncSourceError(src.Name)
			stats.Sources[src.Name] = listing.SourceStats{Errors: []string{err.Error()}}
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}

		srcStats := o.runSource(ctx, adapter, topics, log)
		adapter.Close()
		stats.Sources[src.Name] = srcStats
		stats.TotalSeen += srcStats.Seen
		stats.TotalNew += srcStats.New
		stats.Errors = append(stats.Errors, srcStats.Errors...)
	}

	notifStats, err := o.notifier.NotifyPending(ctx)
	if err != nil {
		log.Error("notification sweep failed", zap.Error(err))
		stats.Errors = append(stats.Errors, err.Error())
	}
	stats.Notifications = notifStats

	if stats.TotalNew > 0 {
		if err := o.transport.DeliverSummary(ctx, stats); err != nil {
			log.Warn("summary delivery failed", zap.Error(err))
		}
	}

	status := "ok"
	if len(stats.Errors) > 0 {
		status = "partial"
	}
	o.finish(&stats, status, log)
	return stats, nil
}

// taskResult folds one topic search into counters; no shared state
// between topic goroutines.
type taskResult struct {
	seen    int
	created int
	invalid int
	err     error
}

func (o *Orchestrator) runSource(ctx context.Context, adapter listing.Adapter, topics []listing.Topic, log *zap.Logger) listing.SourceStats {
	source := adapter.Name()
	log = log.With(zap.String("source", source))
	log.Info("source started", zap.Int("topics", len(topics)))

	sem := make(chan struct{}, o.cfg.MaxConcurrent)
	results := make(chan taskResult, len(topics))
	var wg sync.WaitGroup

	for _, topic := range topics {
		wg.Add(1)
		go func(topic listing.Topic) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- taskResult{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			result := o.searchTopic(ctx, adapter, topic)
			results <- result

			// hold the slot through the delay so pacing caps the
			// effective request rate against the source
			if o.cfg.RequestDelay > 0 && ctx.Err() == nil {
				_ = sleep(ctx, o.cfg.RequestDelay)
			}
		}(topic)
	}
	wg.Wait()
	close(results)

	var stats listing.SourceStats
	for result := range results {
		stats.Seen += result.seen
		stats.New += result.created
		stats.Invalid += result.invalid
		if result.err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", source, result.err))
			metrics.IncSourceError(source)
		}
	}

	metrics.AddListingsSeen(source, stats.Seen)
	metrics.AddListingsNew(source, stats.New)
	log.Info("source finished",
		zap.Int("seen", stats.Seen),
		zap.Int("new", stats.New),
		zap.Int("invalid", stats.Invalid),
		zap.Int("errors", len(stats.Errors)),
	)
	return stats
}

// searchTopic queries one (source, topic) pair and stores what is new.
// Failures stay inside the returned result so one bad pair never stops
// the others.
func (o *Orchestrator) searchTopic(ctx context.Context, adapter listing.Adapter, topic listing.Topic) taskResult {
	source := adapter.Name()

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, source); err != nil {
			return taskResult{err: err}
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()

	candidates, err := adapter.Search(searchCtx, topic, o.cfg.DefaultLocation)
	if err != nil {
		return taskResult{err: fmt.Errorf("topic %q: %w", topic.Name, err)}
	}

	result := taskResult{seen: len(candidates)}
	for _, candidate := range candidates {
		normalized, err := listing.Normalize(candidate, topic.ID, source, o.clock.Now())
		if err != nil {
			var invalid *listing.InvalidListingError
			if errors.As(err, &invalid) {
				result.invalid++
				continue
			}
			result.err = errors.Join(result.err, err)
			continue
		}

		stored, err := o.store.InsertListing(ctx, normalized)
		if err != nil {
			result.err = errors.Join(result.err, fmt.Errorf("insert %q: %w", normalized.URL, err))
			continue
		}
		if stored != nil {
			result.created++
		}
	}
	return result
}

func (o *Orchestrator) finish(stats *listing.CycleStats, status string, log *zap.Logger) {
	stats.FinishedAt = o.clock.Now()
	stats.Duration = stats.FinishedAt.Sub(stats.StartedAt)
	metrics.ObserveCycle(status, stats.Duration)

	o.mu.Lock()
	snapshot := *stats
	o.last = &snapshot
	o.mu.Unlock()

	log.Info("cycle finished",
		zap.String("status", status),
		zap.Duration("duration", stats.Duration),
		zap.Int("total_seen", stats.TotalSeen),
		zap.Int("total_new", stats.TotalNew),
		zap.Int("notifications_sent", stats.Notifications.Sent),
		zap.Int("errors", len(stats.Errors)),
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
