package unread

import (
	"context"
	"time"

	"github.com/weiawesome/wes-chat/internal/metrics"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// ReconcilerConfig controls the background reconciliation loop.
type ReconcilerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Reconciler periodically rebuilds recently modified counters from the
// database so a counter that drifted (lost update, crashed instance) heals.
type Reconciler struct {
	counter *Counter
	store   Store
	cfg     ReconcilerConfig
	quit    chan struct{}
	doneCh  chan struct{}
}

func NewReconciler(counter *Counter, store Store, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		counter: counter,
		store:   store,
		cfg:     cfg,
		quit:    make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the loop in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the loop to exit; Done is closed once it has.
func (r *Reconciler) Stop() {
	close(r.quit)
}

func (r *Reconciler) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	interval := r.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles one batch of touched counters and returns how many
// were rebuilt.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	l := log.L()

	batch := r.cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}

	keys, err := r.store.Touched(ctx, batch)
	if err != nil {
		l.Error().Err(err).Msg("reconciler: failed to fetch touched counters")
		return 0
	}

	done := 0
	for _, k := range keys {
		if _, err := r.counter.Reconcile(ctx, k.UserID, k.ChannelID); err != nil {
			l.Warn().Err(err).Str(log.FieldUserID, k.UserID).Str(log.FieldChannelID, k.ChannelID).Msg("reconciler: counter not rebuilt")
			continue
		}
		done++
	}

	if done > 0 {
		metrics.Reconciled.Add(float64(done))
		l.Debug().Int("count", done).Msg("reconciler: unread counters rebuilt")
	}
	return done
}
