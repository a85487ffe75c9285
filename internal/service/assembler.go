package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/models"
	"github.com/langchou/pumpspy/internal/state"
)

var (
	// ErrAuthenticationFailed is returned when no token could be obtained.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNotSetUp is returned by Refresh before Setup completed with a device.
	ErrNotSetUp = errors.New("assembler not set up")
)

// Client is the subset of the vendor API the services use.
type Client interface {
	Username() string
	GetToken() *pumpspy.Token
	Authenticate(ctx context.Context) error
	ResolveUserID(ctx context.Context, username string) (string, error)
	ListLocations(ctx context.Context) ([]pumpspy.Location, error)
	ListDevices(ctx context.Context, locationID string) ([]pumpspy.Device, error)
	ResolveDeviceInfo(ctx context.Context, deviceID string) (*pumpspy.Device, error)
	FetchCurrent(ctx context.Context, deviceID string, dt pumpspy.DeviceTypeInfo) ([]pumpspy.StatusRecord, error)
	FetchInterval(ctx context.Context, deviceID string, dt pumpspy.DeviceTypeInfo, motor pumpspy.Motor, interval pumpspy.Interval) ([]pumpspy.IntervalRecord, error)
}

// Assembler turns vendor API calls into snapshots for one device.
type Assembler struct {
	client      Client
	logger      *zap.Logger
	machine     *state.Machine
	deviceID    string
	callTimeout time.Duration

	mu         sync.RWMutex
	typeInfo   pumpspy.DeviceTypeInfo
	deviceName string
	userID     string
	ready      bool
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithCallTimeout bounds every individual API call. Zero means no deadline.
func WithCallTimeout(d time.Duration) AssemblerOption {
	return func(a *Assembler) {
		a.callTimeout = d
	}
}

// NewAssembler creates an assembler for deviceID.
func NewAssembler(client Client, deviceID string, logger *zap.Logger, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		client:   client,
		logger:   logger,
		deviceID: deviceID,
	}
	a.machine = state.NewMachine(deviceID, a.onStateChange)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// onStateChange logs session transitions.
func (a *Assembler) onStateChange(deviceID, from, to string) {
	a.logger.Info("Session state changed",
		zap.String("device_id", deviceID),
		zap.String("from", from),
		zap.String("to", to),
	)
}

// Setup authenticates, resolves the user and, when a device is configured, its type.
func (a *Assembler) Setup(ctx context.Context) error {
	if err := a.authenticate(ctx); err != nil {
		return err
	}

	callCtx, cancel := a.callContext(ctx)
	uid, err := a.client.ResolveUserID(callCtx, a.client.Username())
	cancel()
	if err != nil {
		return fmt.Errorf("resolve user id: %w", err)
	}

	if a.deviceID == "" {
		a.mu.Lock()
		a.userID = uid
		a.mu.Unlock()
		a.logger.Info("Setup complete without device", zap.String("uid", uid))
		return nil
	}

	callCtx, cancel = a.callContext(ctx)
	device, err := a.client.ResolveDeviceInfo(callCtx, a.deviceID)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve device info: %w", err)
	}

	info, err := pumpspy.LookupDeviceType(device.DeviceType)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.userID = uid
	a.typeInfo = info
	a.deviceName = device.DisplayName()
	a.ready = true
	a.mu.Unlock()

	a.logger.Info("Setup complete",
		zap.String("device_id", a.deviceID),
		zap.String("device_name", device.DisplayName()),
		zap.Int("device_type", info.Code),
		zap.Bool("has_backup", info.HasBackup),
	)
	return nil
}

// Refresh fetches current status and the requested interval rollups.
// A rejected token triggers one re-authentication and a full restart.
func (a *Assembler) Refresh(ctx context.Context, intervals []pumpspy.Interval) (*models.Snapshot, error) {
	a.mu.RLock()
	ready := a.ready
	a.mu.RUnlock()
	if !ready {
		return nil, ErrNotSetUp
	}

	intervals = lo.Uniq(intervals)

	if !a.machine.IsAuthenticated() {
		if err := a.authenticate(ctx); err != nil {
			return nil, err
		}
	}

	snap, err := a.refreshOnce(ctx, intervals)
	if !errors.Is(err, pumpspy.ErrInvalidAccessToken) {
		return snap, err
	}

	a.logger.Info("Access token rejected, re-authenticating", zap.String("device_id", a.deviceID))
	if err := a.machine.Trigger(state.EventTokenRejected); err != nil {
		a.logger.Warn("Failed to record token rejection", zap.Error(err))
	}
	if err := a.authenticate(ctx); err != nil {
		return nil, err
	}

	snap, err = a.refreshOnce(ctx, intervals)
	if errors.Is(err, pumpspy.ErrInvalidAccessToken) {
		if trigErr := a.machine.Trigger(state.EventTokenRejected); trigErr != nil {
			a.logger.Warn("Failed to record token rejection", zap.Error(trigErr))
		}
		return nil, fmt.Errorf("refresh after re-authentication: %w", err)
	}
	return snap, err
}

func (a *Assembler) refreshOnce(ctx context.Context, intervals []pumpspy.Interval) (*models.Snapshot, error) {
	a.mu.RLock()
	info := a.typeInfo
	a.mu.RUnlock()

	snap := models.NewSnapshot(a.deviceID)

	callCtx, cancel := a.callContext(ctx)
	current, err := a.client.FetchCurrent(callCtx, a.deviceID, info)
	cancel()
	switch {
	case err == nil:
		snap.Current = current
	case pumpspy.IsSoftFailure(err):
		a.logger.Warn("Current status unavailable this cycle", zap.String("device_id", a.deviceID), zap.Error(err))
	default:
		return nil, err
	}

	for _, interval := range intervals {
		for _, motor := range motorsFor(info) {
			callCtx, cancel := a.callContext(ctx)
			records, err := a.client.FetchInterval(callCtx, a.deviceID, info, motor, interval)
			cancel()
			switch {
			case err == nil:
				snap.SetInterval(motor, interval, records)
			case pumpspy.IsSoftFailure(err):
				a.logger.Warn("Interval unavailable this cycle",
					zap.String("device_id", a.deviceID),
					zap.String("motor", string(motor)),
					zap.String("interval", string(interval)),
					zap.Error(err),
				)
			default:
				return nil, err
			}
		}
	}

	return snap, nil
}

func (a *Assembler) authenticate(ctx context.Context) error {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()

	if err := a.client.Authenticate(callCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if a.client.GetToken() == nil {
		return ErrAuthenticationFailed
	}
	if err := a.machine.Trigger(state.EventAuthenticated); err != nil {
		return err
	}
	return nil
}

func (a *Assembler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.callTimeout)
}

func motorsFor(info pumpspy.DeviceTypeInfo) []pumpspy.Motor {
	if info.HasBackup {
		return []pumpspy.Motor{pumpspy.MotorMain, pumpspy.MotorBackup}
	}
	return []pumpspy.Motor{pumpspy.MotorMain}
}

// GetDeviceInfo returns the configured device's identity.
func (a *Assembler) GetDeviceInfo() models.DeviceInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return models.DeviceInfo{
		DeviceID:   a.deviceID,
		DeviceName: a.deviceName,
		DeviceType: a.typeInfo.Code,
		HasBackup:  a.typeInfo.HasBackup,
	}
}

// HasBackup reports whether the device has a backup motor.
func (a *Assembler) HasBackup() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.typeInfo.HasBackup
}

// SessionState returns the auth state of the session.
func (a *Assembler) SessionState() *state.SessionState {
	return a.machine.GetState()
}

// ParseIntervals validates interval names, keeping the first occurrence of each.
func ParseIntervals(names []string) ([]pumpspy.Interval, error) {
	intervals := make([]pumpspy.Interval, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		interval, err := pumpspy.ParseInterval(strings.ToLower(name))
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, interval)
	}
	return lo.Uniq(intervals), nil
}
