package ear

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drowsyguard/internal/model"
)

// openEye has corners 0.2 apart and lid gaps of 0.06 -> EAR 0.3.
func openEye(ox, oy float64) [6]model.Point {
	return [6]model.Point{
		{X: ox, Y: oy},
		{X: ox + 0.05, Y: oy - 0.03},
		{X: ox + 0.15, Y: oy - 0.03},
		{X: ox + 0.2, Y: oy},
		{X: ox + 0.15, Y: oy + 0.03},
		{X: ox + 0.05, Y: oy + 0.03},
	}
}

func TestEyeAspectRatio(t *testing.T) {
	v, err := EyeAspectRatio(openEye(0.1, 0.4))
	require.NoError(t, err)
	assert.InDelta(t, 0.3, v, 1e-9)
}

func TestEyeAspectRatioScaleFree(t *testing.T) {
	eye := openEye(0.1, 0.4)
	base, err := EyeAspectRatio(eye)
	require.NoError(t, err)
	for _, k := range []float64{0.01, 0.5, 3, 640} {
		var scaled [6]model.Point
		for i, p := range eye {
			scaled[i] = model.Point{X: p.X * k, Y: p.Y * k}
		}
		v, err := EyeAspectRatio(scaled)
		require.NoError(t, err)
		assert.InDelta(t, base, v, 1e-9, "scale %v", k)
	}
}

func TestEyeAspectRatioDegenerate(t *testing.T) {
	eye := openEye(0.1, 0.4)
	eye[3] = eye[0]
	v, err := EyeAspectRatio(eye)
	require.ErrorIs(t, err, ErrDegenerateEye)
	assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
}

func meshWith(left, right [6]model.Point) model.LandmarkSet {
	pts := make([]model.Point, 468)
	for i := 0; i < 6; i++ {
		pts[LeftEyeIndices[i]] = left[i]
		pts[RightEyeIndices[i]] = right[i]
	}
	return model.LandmarkSet{Points: pts}
}

func TestFrameSignalAveragesEyes(t *testing.T) {
	right := openEye(0.6, 0.4)
	right[1].Y, right[2].Y = 0.39, 0.39
	right[4].Y, right[5].Y = 0.41, 0.41
	v, err := FrameSignal(meshWith(openEye(0.1, 0.4), right))
	require.NoError(t, err)
	assert.InDelta(t, (0.3+0.1)/2, v, 1e-9)
}

func TestFrameSignalErrors(t *testing.T) {
	_, err := FrameSignal(model.LandmarkSet{Points: make([]model.Point, 100)})
	require.ErrorIs(t, err, ErrShortLandmarks)

	bad := openEye(0.6, 0.4)
	bad[0] = bad[3]
	_, err = FrameSignal(meshWith(openEye(0.1, 0.4), bad))
	require.True(t, errors.Is(err, ErrDegenerateEye))
}
