package geo

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guard-x/console/console/models"
)

// Provider produces position fixes. Implementations must be safe for use
// from the tracker's watch goroutine.
type Provider interface {
	Fix(ctx context.Context) (*models.GeoFix, error)
}

// Tracker watches a Provider on a fixed interval and keeps the most recent
// fix. Its lifecycle is independent of the streaming connection: detections
// read the latest fix at processing time, and a provider failure leaves the
// previous fix in place rather than surfacing an error.
type Tracker struct {
	provider Provider
	interval time.Duration
	logger   *zap.Logger

	mutex  sync.RWMutex
	latest *models.GeoFix

	cancel context.CancelFunc
	done   chan struct{}
}

func NewTracker(provider Provider, interval time.Duration, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Tracker{
		provider: provider,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the watch loop. Calling Start on a tracker without a provider
// is a no-op; Latest then always returns nil and detections are recorded
// without a location.
func (t *Tracker) Start() {
	if t.provider == nil || t.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.watch(ctx)
}

func (t *Tracker) watch(ctx context.Context) {
	defer close(t.done)

	t.refresh(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) refresh(ctx context.Context) {
	fix, err := t.provider.Fix(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("Position fix failed", zap.Error(err))
		}
		return
	}
	if fix == nil {
		return
	}

	t.mutex.Lock()
	t.latest = fix
	t.mutex.Unlock()

	t.logger.Debug("Position updated",
		zap.Float64("latitude", fix.Latitude),
		zap.Float64("longitude", fix.Longitude),
		zap.Float64("accuracy_m", fix.Accuracy))
}

// Latest returns the most recent fix, or nil when none has been obtained.
func (t *Tracker) Latest() *models.GeoFix {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.latest
}

// Stop cancels the watch loop and waits for it to exit.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}
