package gateway

import (
	"context"
	"sync"
	"time"

	"execution_gateway/internal/core"
)

// Janitor periodically reaps terminal orders past the retention window,
// dropping their dedup entries in the same pass so a reaped decision id can
// be resubmitted.
type Janitor struct {
	gateway   *ExecutionGateway
	logger    core.ILogger
	interval  time.Duration
	retention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a janitor for the given gateway.
func NewJanitor(g *ExecutionGateway, interval, retention time.Duration, logger core.ILogger) *Janitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Janitor{
		gateway:   g,
		logger:    logger.WithField("component", "janitor"),
		interval:  interval,
		retention: retention,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the reaping loop. The loop exits when ctx is cancelled or
// Stop is called, whichever comes first.
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.Info("Starting janitor", "interval", j.interval, "retention", j.retention)
	j.wg.Add(1)
	go j.runLoop(ctx)
	return nil
}

// Stop stops the janitor
func (j *Janitor) Stop() error {
	j.logger.Info("Stopping janitor")
	j.cancel()
	j.wg.Wait()
	return nil
}

func (j *Janitor) runLoop(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.Reap()
		}
	}
}

// Reap performs a single pass. The dedup lock is held across the reap so a
// duplicate submission cannot observe the order gone while its dedup entry
// still exists.
func (j *Janitor) Reap() int {
	cutoff := time.Now().Add(-j.retention)

	g := j.gateway
	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	reaped := g.manager.ReapTerminal(cutoff)
	for _, lc := range reaped {
		delete(g.dedup, lc.ClientDecisionID)
	}

	if len(reaped) > 0 {
		j.logger.Info("Janitor pass complete", "reaped", len(reaped), "cutoff", cutoff)
	}

	// Expired-but-live orders are never reaped; flag them for follow-up.
	if expired := g.manager.ListExpired(); len(expired) > 0 {
		j.logger.Warn("Orders past expiry still awaiting completion", "count", len(expired))
	}
	return len(reaped)
}
