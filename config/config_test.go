package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PassengerCounter/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Camera.Width)
	assert.Equal(t, 225, cfg.Camera.Height)
	assert.Equal(t, float32(0.4), cfg.Detector.Confidence)
	assert.Equal(t, 2, cfg.Detector.SkipFrames)
	assert.Equal(t, "person", cfg.Detector.Class)
	assert.Equal(t, 60.0, cfg.Tracker.MaxDistance)
	assert.Equal(t, 5, cfg.Tracker.MaxMissing)
	assert.Equal(t, 10, cfg.Tracker.HistoryLen)
	assert.Equal(t, pipeline.ResetKeep, cfg.Tracker.ResetPolicy)
	assert.False(t, cfg.Tracker.Invert)
	assert.Equal(t, DoorSourceGateway, cfg.Door.Source)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.IdleInterval())
	assert.Equal(t, MobileNetSSDNames, cfg.Detector.Names)
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
camera:
  rotate: true
tracker:
  invertDirection: true
  linePos: 120
  resetPolicy: on_close
gateway:
  baseURL: https://example.firebaseio.com
door:
  source: mqtt
  mqtt:
    broker: localhost:1883
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, cfg.Camera.Rotate)
	assert.True(t, cfg.Tracker.Invert)
	assert.Equal(t, 120.0, cfg.Tracker.LinePos)
	assert.Equal(t, pipeline.ResetOnClose, cfg.Tracker.ResetPolicy)
	assert.Equal(t, "https://example.firebaseio.com", cfg.Gateway.BaseURL)
	assert.Equal(t, "localhost:1883", cfg.Door.MQTT.Broker)
	// untouched fields keep their defaults
	assert.Equal(t, 300, cfg.Camera.Width)
	assert.Equal(t, "bus/door", cfg.Door.MQTT.Topic)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"confidence":   "detector: {confidence: 1.5}",
		"skip frames":  "detector: {skipFrames: -1}",
		"history":      "tracker: {historyLen: 1}",
		"reset policy": "tracker: {resetPolicy: sometimes}",
		"door source":  "door: {source: carrier-pigeon}",
		"mqtt broker":  "door: {source: mqtt}",
		"timeout":      "gateway: {timeoutS: -3}",
		"line":         "tracker: {linePos: -1}",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway: {authEnv: TEST_COUNTER_AUTH}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_COUNTER_AUTH=secret\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.GatewayAuth())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
