package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/langchou/pumpspy/internal/adapter"
	"github.com/langchou/pumpspy/internal/models"
)

const statePrefix = "pumpspy"

// Publisher is the part of paho_mqtt.Client the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token
}

// DeviceSource reports which device snapshots belong to.
type DeviceSource interface {
	GetDeviceInfo() models.DeviceInfo
}

// RegisterDevice is the device block of a discovery message.
type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer"`
	HWVersion    string   `json:"hw_version,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// RegisterMessage is a Home Assistant discovery config.
type RegisterMessage struct {
	Name                   string         `json:"name"`
	ID                     string         `json:"unique_id"`
	StateTopic             string         `json:"state_topic"`
	ValueTemplate          string         `json:"value_template"`
	JSONAttributesTopic    string         `json:"json_attributes_topic"`
	JSONAttributesTemplate string         `json:"json_attributes_template"`
	AvailabilityTopic      string         `json:"availability_topic"`
	AvailabilityTemplate   string         `json:"availability_template"`
	PayloadAvailable       string         `json:"payload_available"`
	PayloadNotAvailable    string         `json:"payload_not_available"`
	DeviceClass            string         `json:"device_class,omitempty"`
	StateClass             string         `json:"state_class,omitempty"`
	Unit                   string         `json:"unit_of_measurement,omitempty"`
	EntityCategory         string         `json:"entity_category,omitempty"`
	Device                 RegisterDevice `json:"device"`
}

// StateMessage is published on an entity's state topic.
type StateMessage struct {
	Value      any            `json:"value"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Bridge publishes snapshots to Home Assistant over MQTT discovery.
type Bridge struct {
	client          Publisher
	logger          *zap.Logger
	discoveryPrefix string
	timeout         time.Duration

	// topic -> last payload
	published sync.Map
}

// NewBridge creates a bridge publishing discovery configs under discoveryPrefix.
func NewBridge(client Publisher, discoveryPrefix string, logger *zap.Logger) *Bridge {
	if discoveryPrefix == "" {
		discoveryPrefix = "homeassistant"
	}
	return &Bridge{
		client:          client,
		logger:          logger,
		discoveryPrefix: discoveryPrefix,
		timeout:         10 * time.Second,
	}
}

// Run publishes every snapshot received on snaps until ctx is done or snaps is closed.
func (b *Bridge) Run(ctx context.Context, source DeviceSource, snaps <-chan *models.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if err := b.Publish(source.GetDeviceInfo(), snap, time.Now()); err != nil {
				b.logger.Error("Failed to publish snapshot to mqtt", zap.Error(err))
			}
		}
	}
}

// Publish registers every entity and publishes the ones whose state changed.
func (b *Bridge) Publish(info models.DeviceInfo, snap *models.Snapshot, now time.Time) error {
	device := adapter.DeviceMeta(info, snap)
	readings := adapter.Readings(info, snap, now)

	sent := 0
	for _, r := range readings {
		if err := b.register(device, r); err != nil {
			return fmt.Errorf("register %s: %w", r.UniqueID, err)
		}
		changed, err := b.publishState(info.DeviceID, r)
		if err != nil {
			return fmt.Errorf("publish %s: %w", r.UniqueID, err)
		}
		if changed {
			sent++
		}
	}

	b.logger.Debug("Published snapshot to mqtt",
		zap.String("device_id", info.DeviceID),
		zap.Int("entities", len(readings)),
		zap.Int("changed", sent),
	)
	return nil
}

// StateTopic is where the state of key is published.
func StateTopic(deviceID, key string) string {
	return fmt.Sprintf("%s/%s/%s/state", statePrefix, deviceID, key)
}

// DiscoveryTopic is where the config of a reading is published.
func (b *Bridge) DiscoveryTopic(platform adapter.Platform, deviceID, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", b.discoveryPrefix, platform, deviceID, key)
}

func (b *Bridge) register(device adapter.Device, r adapter.Reading) error {
	stateTopic := StateTopic(device.Identifier, r.Key)
	valueTemplate := "{{ value_json.value }}"
	if r.Platform == adapter.PlatformBinarySensor {
		valueTemplate = "{{ 'ON' if value_json.value else 'OFF' }}"
	}

	msg := RegisterMessage{
		Name:                   r.Name,
		ID:                     r.UniqueID,
		StateTopic:             stateTopic,
		ValueTemplate:          valueTemplate,
		JSONAttributesTopic:    stateTopic,
		JSONAttributesTemplate: "{{ value_json.attributes | tojson }}",
		AvailabilityTopic:      stateTopic,
		AvailabilityTemplate:   "{{ 'online' if value_json.available else 'offline' }}",
		PayloadAvailable:       "online",
		PayloadNotAvailable:    "offline",
		DeviceClass:            r.DeviceClass,
		StateClass:             r.StateClass,
		Unit:                   r.Unit,
		EntityCategory:         r.EntityCategory,
		Device: RegisterDevice{
			Name:         device.Name,
			Identifiers:  []string{adapter.UniqueID(device.Identifier, "device")},
			Model:        device.Model,
			Manufacturer: device.Manufacturer,
			HWVersion:    device.HWVersion,
			SWVersion:    device.SWVersion,
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = b.publish(b.DiscoveryTopic(r.Platform, device.Identifier, r.Key), 1, true, payload)
	return err
}

func (b *Bridge) publishState(deviceID string, r adapter.Reading) (bool, error) {
	payload, err := json.Marshal(StateMessage{
		Value:      r.Value,
		Available:  r.Available,
		Attributes: r.Attributes,
	})
	if err != nil {
		return false, err
	}
	return b.publish(StateTopic(deviceID, r.Key), 0, true, payload)
}

// publish skips payloads identical to the last one sent on topic.
func (b *Bridge) publish(topic string, qos byte, retained bool, payload []byte) (bool, error) {
	if prev, ok := b.published.Load(topic); ok && prev.(string) == string(payload) {
		return false, nil
	}

	token := b.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(b.timeout) {
		return false, ErrTimeout
	}
	if err := token.Error(); err != nil {
		return false, err
	}

	b.published.Store(topic, string(payload))
	return true, nil
}
