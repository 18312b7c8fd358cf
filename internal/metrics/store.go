package metrics

import (
	"sync"
	"time"

	"drowsyguard/internal/model"
)

// Snapshot is the JSON view served by the API.
type Snapshot struct {
	StartedAt        time.Time             `json:"started_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	Cycles           uint64                `json:"cycles"`
	FaceCycles       uint64                `json:"face_cycles"`
	NoFaceCycles     uint64                `json:"no_face_cycles"`
	DegenerateCycles uint64                `json:"degenerate_cycles"`
	DetectorErrors   uint64                `json:"detector_errors"`
	DeviceFailures   uint64                `json:"device_failures"`
	DeviceReopens    uint64                `json:"device_reopens"`
	ActuatorFailures uint64                `json:"actuator_failures"`
	AlertsRaised     uint64                `json:"alerts_raised"`
	AlertsCleared    uint64                `json:"alerts_cleared"`
	LastEAR          float64               `json:"last_ear"`
	LastCycleMillis  float64               `json:"last_cycle_ms"`
	MaxCycleMillis   float64               `json:"max_cycle_ms"`
	Perclos          []model.PerclosWindow `json:"perclos"`
}

type CycleKind int

const (
	CycleFace CycleKind = iota
	CycleNoFace
	CycleDegenerate
	CycleDetectorError
)

type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

func NewStore() *Store {
	s := &Store{now: time.Now}
	s.snap.StartedAt = s.now().UTC()
	return s
}

func (s *Store) RecordCycle(kind CycleKind, ear float64, took time.Duration, perclos []model.PerclosWindow, tr model.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Cycles++
	switch kind {
	case CycleFace:
		s.snap.FaceCycles++
		s.snap.LastEAR = ear
	case CycleNoFace:
		s.snap.NoFaceCycles++
	case CycleDegenerate:
		s.snap.DegenerateCycles++
	case CycleDetectorError:
		s.snap.DetectorErrors++
	}
	switch tr {
	case model.BecameActive:
		s.snap.AlertsRaised++
	case model.BecameInactive:
		s.snap.AlertsCleared++
	}
	ms := float64(took) / float64(time.Millisecond)
	s.snap.LastCycleMillis = ms
	if ms > s.snap.MaxCycleMillis {
		s.snap.MaxCycleMillis = ms
	}
	if perclos != nil {
		s.snap.Perclos = perclos
	}
	s.snap.UpdatedAt = s.now().UTC()
}

func (s *Store) RecordDeviceFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.DeviceFailures++
}

func (s *Store) RecordDeviceReopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.DeviceReopens++
}

func (s *Store) SetActuatorFailures(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ActuatorFailures = n
}

func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Perclos = append([]model.PerclosWindow(nil), s.snap.Perclos...)
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{StartedAt: s.now().UTC()}
}
