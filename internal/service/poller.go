package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/models"
)

// ErrRefreshInProgress is returned by RefreshNow while another refresh runs.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Refresher produces snapshots.
type Refresher interface {
	Refresh(ctx context.Context, intervals []pumpspy.Interval) (*models.Snapshot, error)
	GetDeviceInfo() models.DeviceInfo
}

// SnapshotStore persists the latest snapshot.
type SnapshotStore interface {
	SaveLatest(ctx context.Context, snap *models.Snapshot) error
}

// PollerStatus describes the last refresh.
type PollerStatus struct {
	LastRefresh time.Time `json:"last_refresh"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Refreshing  bool      `json:"refreshing"`
	Subscribers int       `json:"subscribers"`
}

// Poller runs refreshes on a schedule and fans snapshots out to subscribers.
type Poller struct {
	refresher Refresher
	store     SnapshotStore
	logger    *zap.Logger
	intervals []pumpspy.Interval
	every     time.Duration
	cron      *cron.Cron

	refreshMu sync.Mutex

	mu          sync.RWMutex
	ctx         context.Context
	running     bool
	refreshing  bool
	latest      *models.Snapshot
	lastRefresh time.Time
	lastSuccess time.Time
	lastErr     error
	subscribers []chan *models.Snapshot
}

// NewPoller creates a poller. store may be nil.
func NewPoller(refresher Refresher, store SnapshotStore, intervals []pumpspy.Interval, every time.Duration, logger *zap.Logger) *Poller {
	cl := cronLogger{logger.Sugar()}
	return &Poller{
		refresher: refresher,
		store:     store,
		logger:    logger,
		intervals: intervals,
		every:     every,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start schedules refreshes and runs the first one immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Info("Poller already running, skipping start")
		return
	}
	p.ctx = ctx
	p.running = true
	p.mu.Unlock()

	p.cron.Schedule(cron.Every(p.every), cron.FuncJob(p.scheduledRefresh))
	p.cron.Start()

	go p.scheduledRefresh()

	p.logger.Info("Poller started",
		zap.String("device_id", p.refresher.GetDeviceInfo().DeviceID),
		zap.Duration("every", p.every),
	)
}

// Stop waits for a running refresh and closes all subscriptions.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	<-p.cron.Stop().Done()

	// wait for an in-flight manual refresh
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.mu.Unlock()

	p.logger.Info("Poller stopped")
}

// Subscribe returns a channel receiving every new snapshot.
func (p *Poller) Subscribe() <-chan *models.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *models.Snapshot, 10)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (p *Poller) Unsubscribe(sub <-chan *models.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, ch := range p.subscribers {
		if ch == sub {
			close(ch)
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

// Latest returns the most recent successful snapshot.
func (p *Poller) Latest() (*models.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.latest != nil
}

// SetLatest seeds the poller, e.g. with a persisted snapshot.
func (p *Poller) SetLatest(snap *models.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		p.latest = snap
	}
}

// Status returns the refresh bookkeeping.
func (p *Poller) Status() PollerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := PollerStatus{
		LastRefresh: p.lastRefresh,
		LastSuccess: p.lastSuccess,
		Refreshing:  p.refreshing,
		Subscribers: len(p.subscribers),
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

// RefreshNow runs a refresh outside the schedule.
func (p *Poller) RefreshNow(ctx context.Context) (*models.Snapshot, error) {
	if !p.refreshMu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer p.refreshMu.Unlock()
	return p.refresh(ctx)
}

// scheduledRefresh is the cron job. Nothing is fetched while nobody listens.
func (p *Poller) scheduledRefresh() {
	p.mu.RLock()
	ctx := p.ctx
	consumers := len(p.subscribers)
	p.mu.RUnlock()

	if consumers == 0 {
		p.logger.Debug("No subscribers, skipping refresh")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	if !p.refreshMu.TryLock() {
		p.logger.Debug("Refresh still running, skipping tick")
		return
	}
	defer p.refreshMu.Unlock()

	if _, err := p.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Scheduled refresh failed", zap.Error(err))
	}
}

// refresh must be called with refreshMu held.
func (p *Poller) refresh(ctx context.Context) (*models.Snapshot, error) {
	p.mu.Lock()
	p.refreshing = true
	p.mu.Unlock()

	start := time.Now()
	snap, err := p.refresher.Refresh(ctx, p.intervals)

	p.mu.Lock()
	p.refreshing = false
	p.lastRefresh = start
	p.lastErr = err
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.latest = snap
	p.lastSuccess = start
	p.mu.Unlock()

	p.logger.Debug("Refresh complete",
		zap.String("device_id", snap.DeviceID),
		zap.Duration("took", time.Since(start)),
		zap.Int("motors", len(snap.Motors)),
	)

	if p.store != nil {
		if err := p.store.SaveLatest(ctx, snap); err != nil {
			p.logger.Error("Failed to save snapshot", zap.Error(err))
		}
	}

	// subscribers are closed under p.mu, so sends happen under the read lock
	p.mu.RLock()
	for _, ch := range p.subscribers {
		select {
		case ch <- snap:
		default:
			p.logger.Warn("Subscriber channel full, dropping snapshot")
		}
	}
	p.mu.RUnlock()

	return snap, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
