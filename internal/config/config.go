package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	InstanceID string          `json:"instance_id" yaml:"instance_id"`
	LogLevel   string          `json:"log_level" yaml:"log_level"`
	Capture    CaptureConfig   `json:"capture" yaml:"capture"`
	Detector   DetectorConfig  `json:"detector" yaml:"detector"`
	Detection  DetectionConfig `json:"detection" yaml:"detection"`
	Alarm      AlarmConfig     `json:"alarm" yaml:"alarm"`
	API        APIConfig       `json:"api" yaml:"api"`
	Storage    StorageConfig   `json:"storage" yaml:"storage"`
	Notify     NotifyConfig    `json:"notify" yaml:"notify"`
	Alerts     AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type CaptureConfig struct {
	Source           string        `json:"source" yaml:"source"`
	DeviceIndex      int           `json:"device_index" yaml:"device_index"`
	URL              string        `json:"url" yaml:"url"`
	Dir              string        `json:"dir" yaml:"dir"`
	Width            int           `json:"width" yaml:"width"`
	Height           int           `json:"height" yaml:"height"`
	FFmpegPath       string        `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	ReconnectBackoff time.Duration `json:"reconnect_backoff" yaml:"reconnect_backoff"`
}

type DetectorConfig struct {
	Addr          string        `json:"addr" yaml:"addr"`
	MinConfidence float64       `json:"min_confidence" yaml:"min_confidence"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	MaxMessageMB  int           `json:"max_message_mb" yaml:"max_message_mb"`
}

type DetectionConfig struct {
	EARThreshold         float64         `json:"ear_threshold" yaml:"ear_threshold"`
	ClosedFrameThreshold int             `json:"closed_frame_threshold" yaml:"closed_frame_threshold"`
	NoFaceThreshold      int             `json:"no_face_threshold" yaml:"no_face_threshold"`
	TargetCycleMillis    int             `json:"target_cycle_millis" yaml:"target_cycle_millis"`
	ClosedFrameCeiling   int             `json:"closed_frame_ceiling" yaml:"closed_frame_ceiling"`
	PerclosWindows       []time.Duration `json:"perclos_windows" yaml:"perclos_windows"`
	JPEGQuality          int             `json:"jpeg_quality" yaml:"jpeg_quality"`
}

func (d DetectionConfig) CycleInterval() time.Duration {
	return time.Duration(d.TargetCycleMillis) * time.Millisecond
}

type AlarmConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Command []string `json:"command" yaml:"command"`
}

type APIConfig struct {
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	Addr              string `json:"addr" yaml:"addr"`
	AdminUser         string `json:"admin_user" yaml:"admin_user"`
	AdminPasswordHash string `json:"admin_password_hash" yaml:"admin_password_hash"`
}

type StorageConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Driver         string        `json:"driver" yaml:"driver"`
	DSN            string        `json:"dsn" yaml:"dsn"`
	MirrorInterval time.Duration `json:"mirror_interval" yaml:"mirror_interval"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	QueueSize      int           `json:"queue_size" yaml:"queue_size"`
}

type NotifyConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Brokers   []string `json:"brokers" yaml:"brokers"`
	Topic     string   `json:"topic" yaml:"topic"`
	QueueSize int      `json:"queue_size" yaml:"queue_size"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Capture: CaptureConfig{
			Source:           "v4l2",
			DeviceIndex:      0,
			Width:            640,
			Height:           480,
			FFmpegPath:       "ffmpeg",
			ReconnectBackoff: 2 * time.Second,
		},
		Detector: DetectorConfig{
			Addr:          "127.0.0.1:50051",
			MinConfidence: 0.5,
			MaxMessageMB:  16,
		},
		Detection: DetectionConfig{
			EARThreshold:         0.25,
			ClosedFrameThreshold: 30,
			NoFaceThreshold:      60,
			TargetCycleMillis:    33,
			PerclosWindows:       []time.Duration{10 * time.Second, 60 * time.Second},
			JPEGQuality:          80,
		},
		Alarm: AlarmConfig{
			Enabled: true,
			Command: []string{"aplay", "-q", "alarm.wav"},
		},
		API:     APIConfig{Enabled: true, Addr: ":5000", AdminUser: "admin"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:drowsyguard.db?_pragma=busy_timeout(5000)", MirrorInterval: 5 * time.Second, WriteTimeout: 500 * time.Millisecond, QueueSize: 16},
		Notify:  NotifyConfig{Kafka: KafkaConfig{Enabled: false, Topic: "drowsyguard.alerts", QueueSize: 64}},
		Alerts:  AlertsConfig{StoreLimit: 200},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	ApplyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Capture.ReconnectBackoff <= 0 {
		cfg.Capture.ReconnectBackoff = 2 * time.Second
	}
	if cfg.Capture.FFmpegPath == "" {
		cfg.Capture.FFmpegPath = "ffmpeg"
	}
	if cfg.Capture.Source == "" {
		cfg.Capture.Source = "v4l2"
	}
	if len(cfg.Detection.PerclosWindows) == 0 {
		cfg.Detection.PerclosWindows = []time.Duration{10 * time.Second, 60 * time.Second}
	}
	if cfg.Detection.JPEGQuality <= 0 || cfg.Detection.JPEGQuality > 100 {
		cfg.Detection.JPEGQuality = 80
	}
	if cfg.Detector.MaxMessageMB <= 0 {
		cfg.Detector.MaxMessageMB = 16
	}
	if cfg.Storage.MirrorInterval <= 0 {
		cfg.Storage.MirrorInterval = 5 * time.Second
	}
	if cfg.Storage.WriteTimeout <= 0 {
		cfg.Storage.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.Storage.QueueSize <= 0 {
		cfg.Storage.QueueSize = 16
	}
	if cfg.Notify.Kafka.QueueSize <= 0 {
		cfg.Notify.Kafka.QueueSize = 64
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 200
	}
}

func Validate(cfg *Config) error {
	d := cfg.Detection
	if d.EARThreshold <= 0 || d.EARThreshold >= 1 {
		return errors.New("detection.ear_threshold must be in (0, 1)")
	}
	if d.ClosedFrameThreshold <= 0 {
		return errors.New("detection.closed_frame_threshold must be > 0")
	}
	if d.NoFaceThreshold <= 0 {
		return errors.New("detection.no_face_threshold must be > 0")
	}
	if d.TargetCycleMillis <= 0 {
		return errors.New("detection.target_cycle_millis must be > 0")
	}
	if d.ClosedFrameCeiling < 0 {
		return errors.New("detection.closed_frame_ceiling must be >= 0")
	}
	if d.ClosedFrameCeiling > 0 && d.ClosedFrameCeiling < d.ClosedFrameThreshold {
		return errors.New("detection.closed_frame_ceiling must be >= closed_frame_threshold")
	}
	for _, win := range d.PerclosWindows {
		if win <= 0 {
			return fmt.Errorf("detection.perclos_windows contains non-positive duration: %s", win)
		}
	}
	switch cfg.Capture.Source {
	case "v4l2":
		if cfg.Capture.DeviceIndex < 0 {
			return errors.New("capture.device_index must be >= 0")
		}
	case "url":
		if cfg.Capture.URL == "" {
			return errors.New("capture.url required when capture.source is url")
		}
	case "dir":
		if cfg.Capture.Dir == "" {
			return errors.New("capture.dir required when capture.source is dir")
		}
	default:
		return fmt.Errorf("unsupported capture.source %q", cfg.Capture.Source)
	}
	if cfg.Detector.Addr == "" {
		return errors.New("detector.addr required")
	}
	if cfg.Alarm.Enabled && len(cfg.Alarm.Command) == 0 {
		return errors.New("alarm.command required when alarm.enabled is true")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers and topic")
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
