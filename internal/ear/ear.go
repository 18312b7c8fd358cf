package ear

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"drowsyguard/internal/model"
)

var ErrDegenerateEye = errors.New("ear: degenerate eye geometry")

var ErrShortLandmarks = errors.New("ear: landmark set too short")

const minHorizontal = 1e-9

// p1 and p4 are the corners; (p2,p6) and (p3,p5) are the lid pairs.
var (
	LeftEyeIndices  = [6]int{33, 160, 158, 133, 153, 144}
	RightEyeIndices = [6]int{362, 385, 387, 263, 373, 380}
)

func EyeAspectRatio(eye [6]model.Point) (float64, error) {
	horizontal := distance(eye[0], eye[3])
	if horizontal < minHorizontal {
		return 0, ErrDegenerateEye
	}
	a := distance(eye[1], eye[5])
	b := distance(eye[2], eye[4])
	return (a + b) / (2.0 * horizontal), nil
}

func FrameSignal(set model.LandmarkSet) (float64, error) {
	left, right, err := EyePoints(set)
	if err != nil {
		return 0, err
	}
	l, err := EyeAspectRatio(left)
	if err != nil {
		return 0, fmt.Errorf("left eye: %w", err)
	}
	r, err := EyeAspectRatio(right)
	if err != nil {
		return 0, fmt.Errorf("right eye: %w", err)
	}
	return (l + r) / 2.0, nil
}

func EyePoints(set model.LandmarkSet) (left, right [6]model.Point, err error) {
	if len(set.Points) <= maxIndex() {
		return left, right, fmt.Errorf("%w: %d points", ErrShortLandmarks, len(set.Points))
	}
	for i := 0; i < 6; i++ {
		left[i] = set.Points[LeftEyeIndices[i]]
		right[i] = set.Points[RightEyeIndices[i]]
	}
	return left, right, nil
}

func maxIndex() int {
	m := 0
	for i := 0; i < 6; i++ {
		if LeftEyeIndices[i] > m {
			m = LeftEyeIndices[i]
		}
		if RightEyeIndices[i] > m {
			m = RightEyeIndices[i]
		}
	}
	return m
}

func distance(p, q model.Point) float64 {
	return floats.Distance([]float64{p.X, p.Y}, []float64{q.X, q.Y}, 2)
}
