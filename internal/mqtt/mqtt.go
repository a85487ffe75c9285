package mqtt

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt: timed out waiting for broker")

// Config holds broker settings.
type Config struct {
	Host     string
	Username string
	Password string
	ClientID string
}

// NewClient builds a paho client for cfg. Host may omit the scheme and port.
func NewClient(cfg Config) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Host)).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second)
	return paho_mqtt.NewClient(opts)
}

func brokerURL(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "1883")
	}
	return "tcp://" + host
}

// Connect connects client and waits up to timeout.
func Connect(client paho_mqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return ErrTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}
