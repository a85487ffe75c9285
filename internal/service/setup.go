package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/models"
)

// Setup steps
const (
	StepLocation = "location"
	StepDevice   = "device"
	StepDone     = "done"
)

var (
	ErrNoLocations     = errors.New("account has no locations")
	ErrNoDevices       = errors.New("location has no devices")
	ErrUnknownLocation = errors.New("unknown location")
	ErrUnknownDevice   = errors.New("unknown device")
	ErrStepOutOfOrder  = errors.New("setup step out of order")
)

// SetupStep is what the flow needs next, or the finished entry.
type SetupStep struct {
	Step      string              `json:"step"`
	Locations []pumpspy.Location  `json:"locations,omitempty"`
	Devices   []pumpspy.Device    `json:"devices,omitempty"`
	Entry     *models.ConfigEntry `json:"entry,omitempty"`
}

// ClientFactory builds an API client for a set of credentials.
type ClientFactory func(username, password string) Client

// SetupFlow walks a user from credentials to one device.
// Steps with a single option are selected automatically.
type SetupFlow struct {
	newClient ClientFactory
	logger    *zap.Logger

	mu         sync.Mutex
	client     Client
	username   string
	password   string
	locationID string
	locations  []pumpspy.Location
	devices    []pumpspy.Device
}

// NewSetupFlow creates a flow.
func NewSetupFlow(newClient ClientFactory, logger *zap.Logger) *SetupFlow {
	return &SetupFlow{
		newClient: newClient,
		logger:    logger,
	}
}

// Begin logs in and lists the user's locations.
func (f *SetupFlow) Begin(ctx context.Context, username, password string) (*SetupStep, error) {
	client := f.newClient(username, password)

	if err := client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if client.GetToken() == nil {
		return nil, ErrAuthenticationFailed
	}
	if _, err := client.ResolveUserID(ctx, username); err != nil {
		return nil, fmt.Errorf("resolve user id: %w", err)
	}

	locations, err := client.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	if len(locations) == 0 {
		return nil, ErrNoLocations
	}

	f.mu.Lock()
	f.client = client
	f.username = username
	f.password = password
	f.locations = locations
	f.devices = nil
	f.locationID = ""
	f.mu.Unlock()

	f.logger.Info("Setup: logged in", zap.String("username", username), zap.Int("locations", len(locations)))

	if len(locations) == 1 {
		return f.SelectLocation(ctx, locations[0].LID.String())
	}
	return &SetupStep{Step: StepLocation, Locations: locations}, nil
}

// SelectLocation lists the devices of a location.
func (f *SetupFlow) SelectLocation(ctx context.Context, locationID string) (*SetupStep, error) {
	f.mu.Lock()
	client := f.client
	locations := f.locations
	f.mu.Unlock()

	if client == nil {
		return nil, ErrStepOutOfOrder
	}
	if _, ok := lo.Find(locations, func(l pumpspy.Location) bool { return l.LID.String() == locationID }); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
	}

	devices, err := client.ListDevices(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	f.mu.Lock()
	f.locationID = locationID
	f.devices = devices
	f.mu.Unlock()

	if len(devices) == 1 {
		return f.SelectDevice(ctx, devices[0].DeviceID.String())
	}
	return &SetupStep{Step: StepDevice, Devices: devices}, nil
}

// SelectDevice finishes the flow.
func (f *SetupFlow) SelectDevice(_ context.Context, deviceID string) (*SetupStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.locationID == "" {
		return nil, ErrStepOutOfOrder
	}
	device, ok := lo.Find(f.devices, func(d pumpspy.Device) bool { return d.DeviceID.String() == deviceID })
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if _, err := pumpspy.LookupDeviceType(device.DeviceType); err != nil {
		return nil, err
	}

	entry := &models.ConfigEntry{
		Title:      EntryTitle(device),
		Username:   f.username,
		Password:   f.password,
		LocationID: f.locationID,
		DeviceID:   deviceID,
		DeviceName: device.DisplayName(),
		DeviceType: device.DeviceType,
	}

	f.logger.Info("Setup: device selected", zap.String("device_id", deviceID), zap.String("title", entry.Title))
	return &SetupStep{Step: StepDone, Entry: entry}, nil
}

// EntryTitle is the display title of a configured device.
func EntryTitle(device pumpspy.Device) string {
	return fmt.Sprintf("Pumpspy (%s)", device.DeviceTypesName)
}
