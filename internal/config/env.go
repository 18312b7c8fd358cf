package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const envPrefix = "DROWSY_"

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides cfg with DROWSY_* variables.
func ApplyEnv(cfg *Config) {
	if v := getEnv("INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if v := getEnv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := getEnvInt("DEVICE_INDEX"); ok {
		cfg.Capture.DeviceIndex = v
	}
	if v := getEnv("CAPTURE_SOURCE"); v != "" {
		cfg.Capture.Source = v
	}
	if v := getEnv("CAPTURE_URL"); v != "" {
		cfg.Capture.URL = v
	}
	if v := getEnv("CAPTURE_DIR"); v != "" {
		cfg.Capture.Dir = v
	}
	if v := getEnv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := getEnv("ADMIN_PASSWORD_HASH"); v != "" {
		cfg.API.AdminPasswordHash = v
	}
	if v := getEnv("DETECTOR_ADDR"); v != "" {
		cfg.Detector.Addr = v
	}
	if v, ok := getEnvFloat("EAR_THRESHOLD"); ok {
		cfg.Detection.EARThreshold = v
	}
	if v, ok := getEnvInt("CLOSED_FRAME_THRESHOLD"); ok {
		cfg.Detection.ClosedFrameThreshold = v
	}
	if v, ok := getEnvInt("NO_FACE_THRESHOLD"); ok {
		cfg.Detection.NoFaceThreshold = v
	}
	if v, ok := getEnvInt("TARGET_CYCLE_MILLIS"); ok {
		cfg.Detection.TargetCycleMillis = v
	}
	if v := getEnv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := getEnv("KAFKA_BROKERS"); v != "" {
		cfg.Notify.Kafka.Brokers = splitList(v)
	}
}

// InstanceID returns the configured instance id, or one derived from the
// host name so it stays the same across restarts.
func InstanceID(cfg *Config) string {
	if cfg != nil && strings.TrimSpace(cfg.InstanceID) != "" {
		return strings.TrimSpace(cfg.InstanceID)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("drowsyguard."+host)).String()
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func getEnvInt(key string) (int, bool) {
	v := getEnv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvFloat(key string) (float64, bool) {
	v := getEnv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
