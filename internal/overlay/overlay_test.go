package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drowsyguard/internal/model"
)

func gray(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 40
	}
	return img
}

func countColor(img *image.RGBA, r image.Rectangle, c color.RGBA) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

func TestRenderAlertBorderAndRedStatus(t *testing.T) {
	out := Render(gray(200, 120), Overlay{Status: model.StatusDrowsinessDetected, AlertActive: true})
	assert.Equal(t, Red, out.RGBAAt(0, 0))
	assert.Equal(t, Red, out.RGBAAt(199, 119))
	assert.Equal(t, Red, out.RGBAAt(9, 60))
	assert.Zero(t, countColor(out, out.Rect, Green))
	assert.Positive(t, countColor(out, image.Rect(10, 48, 190, 62), Red))
}

func TestRenderMonitoringIsGreenWithoutBorder(t *testing.T) {
	out := Render(gray(200, 120), Overlay{Status: model.StatusMonitoring, EAR: 0.31, HasEAR: true})
	assert.NotEqual(t, Red, out.RGBAAt(0, 0))
	assert.Zero(t, countColor(out, out.Rect, Red))
	assert.Positive(t, countColor(out, image.Rect(10, 18, 190, 32), Green), "EAR text")
	assert.Positive(t, countColor(out, image.Rect(10, 48, 190, 62), Green), "status text")
}

func TestRenderLandmarkDots(t *testing.T) {
	out := Render(gray(100, 100), Overlay{EyePoints: []model.Point{{X: 0.5, Y: 0.5}, {X: 1, Y: 1}}})
	assert.Equal(t, Green, out.RGBAAt(50, 50))
	assert.Equal(t, Green, out.RGBAAt(51, 49))
	assert.Equal(t, Green, out.RGBAAt(99, 99))
}

func TestRenderDoesNotTouchSource(t *testing.T) {
	src := gray(50, 50)
	before := append([]uint8(nil), src.Pix...)
	Render(src, Overlay{AlertActive: true, Status: model.StatusFaceNotDetected})
	assert.Equal(t, before, src.Pix)
}

func TestEncodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(Render(gray(64, 48), Overlay{}), 75)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}
