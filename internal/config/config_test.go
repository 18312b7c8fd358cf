package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsMatchDetectionContract(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.25, cfg.Detection.EARThreshold)
	assert.Equal(t, 30, cfg.Detection.ClosedFrameThreshold)
	assert.Equal(t, 60, cfg.Detection.NoFaceThreshold)
	assert.Equal(t, 33, cfg.Detection.TargetCycleMillis)
	assert.Equal(t, 0, cfg.Capture.DeviceIndex)
	assert.Equal(t, 2*time.Second, cfg.Capture.ReconnectBackoff)
	require.NoError(t, Validate(cfg))
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "drowsy.yaml", `
log_level: debug
detection:
  ear_threshold: 0.22
  closed_frame_threshold: 45
capture:
  device_index: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.22, cfg.Detection.EARThreshold)
	assert.Equal(t, 45, cfg.Detection.ClosedFrameThreshold)
	assert.Equal(t, 60, cfg.Detection.NoFaceThreshold)
	assert.Equal(t, 2, cfg.Capture.DeviceIndex)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "drowsy.json", `{"detection":{"no_face_threshold":90}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Detection.NoFaceThreshold)
	assert.Equal(t, 30, cfg.Detection.ClosedFrameThreshold)
}

func TestLoadRejectsEmptyAndInvalid(t *testing.T) {
	_, err := Load(writeFile(t, "empty.yaml", "  \n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "detection:\n  ear_threshold: 1.5\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "dir.yaml", "capture:\n  source: dir\n"))
	require.Error(t, err)
}

func TestValidateCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.ClosedFrameCeiling = 10
	require.Error(t, Validate(cfg))
	cfg.Detection.ClosedFrameCeiling = 120
	require.NoError(t, Validate(cfg))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DROWSY_EAR_THRESHOLD", "0.3")
	t.Setenv("DROWSY_DEVICE_INDEX", "1")
	t.Setenv("DROWSY_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("DROWSY_NO_FACE_THRESHOLD", "not-a-number")

	cfg := DefaultConfig()
	ApplyEnv(cfg)
	assert.Equal(t, 0.3, cfg.Detection.EARThreshold)
	assert.Equal(t, 1, cfg.Capture.DeviceIndex)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Notify.Kafka.Brokers)
	assert.Equal(t, 60, cfg.Detection.NoFaceThreshold)
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, "drowsy.env", "DROWSY_TEST_DOTENV=loaded\n")
	t.Cleanup(func() { os.Unsetenv("DROWSY_TEST_DOTENV") })
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("DROWSY_TEST_DOTENV"))
}

func TestManagerReloadAndUpdate(t *testing.T) {
	path := writeFile(t, "drowsy.yaml", "detection:\n  closed_frame_threshold: 20\n")
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 20, m.Get().Detection.ClosedFrameThreshold)

	next := *m.Get()
	next.Detection.ClosedFrameThreshold = 40
	require.NoError(t, m.Update(&next))

	reloaded, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 40, reloaded.Detection.ClosedFrameThreshold)

	bad := *m.Get()
	bad.Detection.TargetCycleMillis = 0
	require.Error(t, m.Update(&bad))
	assert.Equal(t, 40, m.Get().Detection.ClosedFrameThreshold)
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(nil)
	assert.Equal(t, 30, m.Get().Detection.ClosedFrameThreshold)
	needs, err := m.NeedsReload()
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestInstanceIDStableAndOverridable(t *testing.T) {
	cfg := DefaultConfig()
	first := InstanceID(cfg)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, InstanceID(DefaultConfig()))

	t.Setenv("DROWSY_INSTANCE_ID", "cab-12")
	ApplyEnv(cfg)
	assert.Equal(t, "cab-12", InstanceID(cfg))
}

func TestStorageWriteDefaults(t *testing.T) {
	path := writeFile(t, "drowsy.yaml", "storage:\n  enabled: true\n  write_timeout: 0s\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Storage.WriteTimeout)
	assert.Equal(t, 16, cfg.Storage.QueueSize)
}
