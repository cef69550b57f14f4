package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the monitor configuration.
const (
	DefaultBroker            = "localhost:1883"
	DefaultTopic             = "automotive/battery/telemetry"
	DefaultClientID          = "celltwin-monitor"
	DefaultHTTPPort          = 8080
	DefaultAlertThreshold    = 0.80
	DefaultReferenceCapacity = 1.85 // Ah, nominal capacity of a fresh cell
	DefaultPredictTimeout    = 5 * time.Second
	DefaultQueueSize         = 256
	DefaultMaxDevices        = 1024
	DefaultHistoryLimit      = 500
	DefaultDeviceTTL         = time.Hour
	DefaultBroadcastInterval = 5 * time.Second
)

// Config holds the monitor-side configuration parsed from the `monitor:`
// section of config.yaml. The `simulator:` key in the same file is ignored.
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
}

// MonitorConfig holds all monitor settings.
type MonitorConfig struct {
	// MQTT configures the telemetry subscription.
	MQTT MQTTConfig `yaml:"mqtt"`

	// HTTPPort is the port the REST API, /metrics, and the websocket feed
	// listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Alert holds the maintenance threshold and webhook delivery targets.
	Alert AlertConfig `yaml:"alert"`

	// Predictor configures the SoH scoring collaborator.
	Predictor PredictorConfig `yaml:"predictor"`

	// History controls in-memory SoH history retention.
	History HistoryConfig `yaml:"history"`

	// QueueSize is the per-device sample queue depth (default 256).
	QueueSize int `yaml:"queue_size"`

	// MaxDevices bounds how many devices are tracked concurrently.
	// Samples for devices beyond the limit are dropped and counted, so a
	// misbehaving fleet cannot grow the accumulator map without bound.
	MaxDevices int `yaml:"max_devices"`

	// BroadcastInterval is how often the websocket hub pushes the fleet
	// snapshot to connected clients (default 5s).
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// MQTTConfig holds the broker connection settings for telemetry ingest.
type MQTTConfig struct {
	// Broker is the host:port of the MQTT broker (default localhost:1883).
	Broker string `yaml:"broker"`

	// Topic is the telemetry topic to subscribe to
	// (default automotive/battery/telemetry).
	Topic string `yaml:"topic"`

	// ClientID is the MQTT client identifier (default celltwin-monitor).
	ClientID string `yaml:"client_id"`

	// QoS is the subscription quality of service, 0 or 1 (default 1 —
	// at-least-once, matching the delivery contract the aggregator assumes).
	QoS byte `yaml:"qos"`

	// Username and PasswordEnv configure optional broker authentication.
	// The password is resolved from the named environment variable.
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// AlertConfig holds the maintenance threshold and webhook targets.
type AlertConfig struct {
	// Threshold is the SoH fraction below which a cycle's decision
	// escalates to warning severity (default 0.80). Strict comparison:
	// SoH exactly equal to the threshold does not escalate.
	Threshold float64 `yaml:"threshold"`

	// Webhooks are the notification targets for warning decisions.
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// PredictorConfig selects and configures the SoH scoring backend.
type PredictorConfig struct {
	// Mode is one of: linear | http.
	// "linear" evaluates a coefficient file produced by offline training.
	// "http" POSTs cycle features to a remote scoring service.
	Mode string `yaml:"mode"`

	// ModelPath is the coefficient file for linear mode.
	ModelPath string `yaml:"model_path"`

	// Endpoint is the scoring service URL for http mode.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds one prediction call; on expiry the cycle is reported
	// as predictor-unavailable rather than blocking ingestion (default 5s).
	Timeout time.Duration `yaml:"timeout"`

	// ReferenceCapacityAh converts predicted capacity to SoH
	// (SoH = capacity / reference). Default 1.85 Ah.
	ReferenceCapacityAh float64 `yaml:"reference_capacity_ah"`
}

// HistoryConfig controls in-memory SoH history retention.
type HistoryConfig struct {
	// MaxCycles caps the per-device history length (default 500). The
	// oldest records are discarded once the cap is reached.
	MaxCycles int `yaml:"max_cycles"`

	// DeviceTTL evicts a device's history after this long without a new
	// completed cycle (default 1h). Zero disables eviction.
	DeviceTTL time.Duration `yaml:"device_ttl"`
}

// Load reads and parses the config file at path, returning the monitor
// configuration. Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("monitor config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("monitor config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("monitor config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Monitor: MonitorConfig{
			MQTT: MQTTConfig{
				Broker:   DefaultBroker,
				Topic:    DefaultTopic,
				ClientID: DefaultClientID,
				QoS:      1,
			},
			HTTPPort: DefaultHTTPPort,
			Alert: AlertConfig{
				Threshold: DefaultAlertThreshold,
			},
			Predictor: PredictorConfig{
				Mode:                "linear",
				Timeout:             DefaultPredictTimeout,
				ReferenceCapacityAh: DefaultReferenceCapacity,
			},
			History: HistoryConfig{
				MaxCycles: DefaultHistoryLimit,
				DeviceTTL: DefaultDeviceTTL,
			},
			QueueSize:         DefaultQueueSize,
			MaxDevices:        DefaultMaxDevices,
			BroadcastInterval: DefaultBroadcastInterval,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	m := cfg.Monitor
	if m.HTTPPort <= 0 || m.HTTPPort > 65535 {
		return fmt.Errorf("monitor.http_port %d is out of range [1, 65535]", m.HTTPPort)
	}
	if m.MQTT.Broker == "" {
		return fmt.Errorf("monitor.mqtt.broker must not be empty")
	}
	if m.MQTT.Topic == "" {
		return fmt.Errorf("monitor.mqtt.topic must not be empty")
	}
	if m.MQTT.QoS > 1 {
		return fmt.Errorf("monitor.mqtt.qos %d unsupported: want 0 or 1", m.MQTT.QoS)
	}
	if m.Alert.Threshold < 0 || m.Alert.Threshold > 1 {
		return fmt.Errorf("monitor.alert.threshold %g is out of range [0, 1]", m.Alert.Threshold)
	}
	switch m.Predictor.Mode {
	case "linear", "http":
	default:
		return fmt.Errorf("monitor.predictor.mode %q unknown: want linear|http", m.Predictor.Mode)
	}
	if m.Predictor.Mode == "http" && m.Predictor.Endpoint == "" {
		return fmt.Errorf("monitor.predictor.endpoint is required in http mode")
	}
	if m.Predictor.Timeout <= 0 {
		return fmt.Errorf("monitor.predictor.timeout must be positive")
	}
	if m.Predictor.ReferenceCapacityAh <= 0 {
		return fmt.Errorf("monitor.predictor.reference_capacity_ah must be positive")
	}
	if m.History.MaxCycles <= 0 {
		return fmt.Errorf("monitor.history.max_cycles must be positive")
	}
	if m.History.DeviceTTL < 0 {
		return fmt.Errorf("monitor.history.device_ttl must not be negative")
	}
	if m.QueueSize <= 0 {
		return fmt.Errorf("monitor.queue_size must be positive")
	}
	if m.MaxDevices <= 0 {
		return fmt.Errorf("monitor.max_devices must be positive")
	}
	return nil
}
