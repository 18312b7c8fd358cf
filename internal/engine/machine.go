package engine

import (
	"drowsyguard/internal/config"
	"drowsyguard/internal/model"
)

type Thresholds struct {
	EAR          float64
	ClosedFrames int
	NoFace       int
	// ClosedCeiling caps the closed frame counter; 0 leaves it unbounded.
	ClosedCeiling int
}

func ThresholdsFrom(cfg config.DetectionConfig) Thresholds {
	return Thresholds{
		EAR:           cfg.EARThreshold,
		ClosedFrames:  cfg.ClosedFrameThreshold,
		NoFace:        cfg.NoFaceThreshold,
		ClosedCeiling: cfg.ClosedFrameCeiling,
	}
}

// DetectionState is mutated in place by Machine, once per cycle.
type DetectionState struct {
	ClosedFrameCount int
	MissingFaceCount int
	AlertActive      bool
	Status           model.Status
}

type inputKind int

const (
	inputSignal inputKind = iota
	inputNoFace
	inputDegenerate
)

type Input struct {
	kind inputKind
	ear  float64
}

func Signal(ear float64) Input { return Input{kind: inputSignal, ear: ear} }

func NoFace() Input { return Input{kind: inputNoFace} }

// Degenerate marks a face whose eye geometry could not be measured.
func Degenerate() Input { return Input{kind: inputDegenerate} }

func (in Input) EAR() (float64, bool) {
	return in.ear, in.kind == inputSignal
}

type Decision struct {
	Status       model.Status
	AlertActive  bool
	Transition   model.Transition
	ClosedFrames int
	MissingFaces int
}

type Machine struct {
	th    Thresholds
	state DetectionState
}

func NewMachine(th Thresholds) *Machine {
	m := &Machine{th: th}
	m.Reset()
	return m
}

func (m *Machine) Reset() {
	m.state = DetectionState{Status: model.StatusMonitoring}
}

// UpdateThresholds swaps thresholds without touching the counters.
func (m *Machine) UpdateThresholds(th Thresholds) {
	m.th = th
}

func (m *Machine) Thresholds() Thresholds {
	return m.th
}

func (m *Machine) State() DetectionState {
	return m.state
}

func (m *Machine) Advance(in Input) Decision {
	tr := model.Unchanged
	switch in.kind {
	case inputNoFace:
		tr = m.advanceNoFace()
	case inputSignal:
		tr = m.advanceSignal(in.ear)
	case inputDegenerate:
		// counted as neither a face nor a missing face
	}
	return Decision{
		Status:       m.state.Status,
		AlertActive:  m.state.AlertActive,
		Transition:   tr,
		ClosedFrames: m.state.ClosedFrameCount,
		MissingFaces: m.state.MissingFaceCount,
	}
}

// advanceNoFace leaves ClosedFrameCount as it was. While an alert is
// active its label is kept until the face has been missing long enough to
// become a face alert.
func (m *Machine) advanceNoFace() model.Transition {
	s := &m.state
	s.MissingFaceCount++
	if s.MissingFaceCount < m.th.NoFace {
		if !s.AlertActive {
			s.Status = model.StatusSearchingForFace
		}
		return model.Unchanged
	}
	s.Status = model.StatusFaceNotDetected
	if s.AlertActive {
		return model.Unchanged
	}
	s.AlertActive = true
	return model.BecameActive
}

func (m *Machine) advanceSignal(ear float64) model.Transition {
	s := &m.state
	s.MissingFaceCount = 0
	if !s.AlertActive {
		s.Status = model.StatusMonitoring
	}
	if ear < m.th.EAR {
		if m.th.ClosedCeiling <= 0 || s.ClosedFrameCount < m.th.ClosedCeiling {
			s.ClosedFrameCount++
		}
		if s.ClosedFrameCount >= m.th.ClosedFrames && !s.AlertActive {
			s.Status = model.StatusDrowsinessDetected
			s.AlertActive = true
			return model.BecameActive
		}
		return model.Unchanged
	}
	if s.ClosedFrameCount > 0 {
		s.ClosedFrameCount--
	}
	if s.ClosedFrameCount == 0 && s.AlertActive {
		s.AlertActive = false
		s.Status = model.StatusMonitoring
		return model.BecameInactive
	}
	return model.Unchanged
}
