package detector

import (
	"context"
	"image"

	"drowsyguard/internal/model"
)

// Detector extracts face mesh landmarks from a frame. A nil set with a nil
// error means no face was found.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (*model.LandmarkSet, error)
}

// Func adapts a function to Detector.
type Func func(ctx context.Context, img image.Image) (*model.LandmarkSet, error)

func (f Func) Detect(ctx context.Context, img image.Image) (*model.LandmarkSet, error) {
	return f(ctx, img)
}
