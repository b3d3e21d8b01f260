package config

import (
	"os"
	"time"

	"PassengerCounter/pipeline"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete counter configuration, read from config.yaml.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Door     DoorConfig     `yaml:"door"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type CameraConfig struct {
	Device         string `yaml:"device"` // device index ("0") or file/stream URL
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
	FPS            int    `yaml:"fps"`
	Rotate         bool   `yaml:"rotate"` // 90° clockwise
	IdleIntervalMs int    `yaml:"idleIntervalMs"`
}

type DetectorConfig struct {
	Prototxt   string   `yaml:"prototxt"`
	Model      string   `yaml:"model"`
	Names      []string `yaml:"names"`
	Class      string   `yaml:"class"`
	Confidence float32  `yaml:"confidence"`
	SkipFrames int      `yaml:"skipFrames"`
}

type TrackerConfig struct {
	MaxDistance float64              `yaml:"maxDistance"`
	MaxMissing  int                  `yaml:"maxMissing"`
	HistoryLen  int                  `yaml:"historyLen"`
	LinePos     float64              `yaml:"linePos"` // 0 means half the frame width
	Invert      bool                 `yaml:"invertDirection"`
	ResetPolicy pipeline.ResetPolicy `yaml:"resetPolicy"` // keep, on_close, on_open
}

type GatewayConfig struct {
	BaseURL  string `yaml:"baseURL"` // empty runs against an in-memory store
	AuthEnv  string `yaml:"authEnv"`
	HomePath string `yaml:"homePath"`
	LogsPath string `yaml:"logsPath"`
	TimeoutS int    `yaml:"timeoutS"`
}

type DoorConfig struct {
	Source string     `yaml:"source"` // gateway or mqtt
	Field  string     `yaml:"field"`
	MQTT   MQTTConfig `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Topic       string `yaml:"topic"`
	ClientID    string `yaml:"clientID"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"passwordEnv"`
	QoS         byte   `yaml:"qos"`
}

type ServerConfig struct {
	HTTPPort    int `yaml:"HTTPPort"`
	RPCPort     int `yaml:"RPCPort"`
	MetricsPort int `yaml:"MetricsPort"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

const (
	DoorSourceGateway = "gateway"
	DoorSourceMQTT    = "mqtt"
)

// Default returns the configuration used for every field left empty.
func Default() Config {
	return Config{
		Camera: CameraConfig{
			Device:         "0",
			Width:          300,
			Height:         225,
			FPS:            30,
			IdleIntervalMs: 500,
		},
		Detector: DetectorConfig{
			Prototxt:   "MobileNetSSD_deploy.prototxt",
			Model:      "MobileNetSSD_deploy.caffemodel",
			Names:      append([]string(nil), MobileNetSSDNames...),
			Class:      "person",
			Confidence: 0.4,
			SkipFrames: 2,
		},
		Tracker: TrackerConfig{
			MaxDistance: 60,
			MaxMissing:  5,
			HistoryLen:  10,
			ResetPolicy: pipeline.ResetKeep,
		},
		Gateway: GatewayConfig{
			AuthEnv:  "FIREBASE_AUTH",
			HomePath: "home",
			LogsPath: "logs",
			TimeoutS: 5,
		},
		Door: DoorConfig{
			Source: DoorSourceGateway,
			Field:  "door_status",
			MQTT: MQTTConfig{
				Topic:       "bus/door",
				ClientID:    "passenger-counter",
				PasswordEnv: "MQTT_PASSWORD",
			},
		},
		Server: ServerConfig{
			HTTPPort:    5000,
			RPCPort:     50051,
			MetricsPort: 50053,
		},
		Log: LogConfig{Level: "info"},
	}
}

// MobileNetSSDNames are the VOC classes of the MobileNet-SSD Caffe model.
var MobileNetSSDNames = []string{
	"background", "aeroplane", "bicycle", "bird", "boat",
	"bottle", "bus", "car", "cat", "chair", "cow", "diningtable",
	"dog", "horse", "motorbike", "person", "pottedplant", "sheep",
	"sofa", "train", "tvmonitor",
}

// Load reads the yaml file at path on top of Default. A .env file next to the
// process is loaded first when present so secrets can live outside the yaml.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "can't load .env")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "can't read config %s", path)
	}
	return Parse(data)
}

// Parse decodes yaml on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "can't parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	switch {
	case cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0:
		return errors.Errorf("camera size must be positive, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	case cfg.Detector.Confidence < 0 || cfg.Detector.Confidence > 1:
		return errors.Errorf("confidence must be between 0.0 and 1.0, got %f", cfg.Detector.Confidence)
	case cfg.Detector.SkipFrames <= 0:
		return errors.Errorf("skipFrames must be at least 1, got %d", cfg.Detector.SkipFrames)
	case cfg.Tracker.MaxDistance <= 0:
		return errors.Errorf("maxDistance must be positive, got %f", cfg.Tracker.MaxDistance)
	case cfg.Tracker.MaxMissing <= 0:
		return errors.Errorf("maxMissing must be at least 1, got %d", cfg.Tracker.MaxMissing)
	case cfg.Tracker.HistoryLen < 2:
		return errors.Errorf("historyLen must be at least 2, got %d", cfg.Tracker.HistoryLen)
	case cfg.Tracker.LinePos < 0:
		return errors.Errorf("linePos can't be negative, got %f", cfg.Tracker.LinePos)
	case cfg.Gateway.TimeoutS <= 0:
		return errors.Errorf("gateway timeoutS must be positive, got %d", cfg.Gateway.TimeoutS)
	}
	if !cfg.Tracker.ResetPolicy.Valid() {
		return errors.Errorf("unknown resetPolicy %q", cfg.Tracker.ResetPolicy)
	}
	switch cfg.Door.Source {
	case DoorSourceGateway:
	case DoorSourceMQTT:
		if cfg.Door.MQTT.Broker == "" {
			return errors.Errorf("door source mqtt needs mqtt.broker")
		}
	default:
		return errors.Errorf("unknown door source %q", cfg.Door.Source)
	}
	return nil
}

func (cfg Config) GatewayTimeout() time.Duration {
	return time.Duration(cfg.Gateway.TimeoutS) * time.Second
}

func (cfg Config) IdleInterval() time.Duration {
	return time.Duration(cfg.Camera.IdleIntervalMs) * time.Millisecond
}

// GatewayAuth returns the auth token from the configured environment variable.
func (cfg Config) GatewayAuth() string {
	if cfg.Gateway.AuthEnv == "" {
		return ""
	}
	return os.Getenv(cfg.Gateway.AuthEnv)
}

func (cfg Config) MQTTPassword() string {
	if cfg.Door.MQTT.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(cfg.Door.MQTT.PasswordEnv)
}
