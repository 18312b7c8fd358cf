package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"drowsyguard/internal/config"
	"drowsyguard/internal/model"
)

const (
	detectMethod = "/landmarks.FaceMesh/Detect"
	healthMethod = "/landmarks.FaceMesh/Health"
)

type DetectRequest struct {
	Image         []byte  `json:"image"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	MaxFaces      int     `json:"max_faces"`
	MinConfidence float64 `json:"min_confidence"`
}

type DetectResponse struct {
	Faces []Face `json:"faces"`
}

type Face struct {
	Landmarks []model.Point `json:"landmarks"`
	Score     float64       `json:"score,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type empty struct{}

// GRPCDetector calls the face mesh sidecar over gRPC.
type GRPCDetector struct {
	conn          *grpc.ClientConn
	addr          string
	minConfidence float64
	timeout       time.Duration
	logger        *slog.Logger
}

func NewGRPCDetector(cfg config.DetectorConfig, logger *slog.Logger) (*GRPCDetector, error) {
	maxMsg := cfg.MaxMessageMB << 20
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(maxMsg),
			grpc.MaxCallSendMsgSize(maxMsg),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("landmark detector %s: %w", cfg.Addr, err)
	}
	if logger != nil {
		logger.Info("landmark detector configured", "addr", cfg.Addr)
	}
	return &GRPCDetector{
		conn:          conn,
		addr:          cfg.Addr,
		minConfidence: cfg.MinConfidence,
		timeout:       cfg.Timeout,
		logger:        logger,
	}, nil
}

func (d *GRPCDetector) Detect(ctx context.Context, img image.Image) (*model.LandmarkSet, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	b := img.Bounds()
	req := &DetectRequest{
		Image:         buf.Bytes(),
		Width:         b.Dx(),
		Height:        b.Dy(),
		MaxFaces:      1,
		MinConfidence: d.minConfidence,
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	resp := &DetectResponse{}
	if err := d.conn.Invoke(ctx, detectMethod, req, resp); err != nil {
		return nil, fmt.Errorf("detect landmarks: %w", err)
	}
	return firstFace(resp), nil
}

func firstFace(resp *DetectResponse) *model.LandmarkSet {
	if resp == nil || len(resp.Faces) == 0 || len(resp.Faces[0].Landmarks) == 0 {
		return nil
	}
	return &model.LandmarkSet{Points: resp.Faces[0].Landmarks}
}

func (d *GRPCDetector) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp := &HealthResponse{}
	return d.conn.Invoke(ctx, healthMethod, &empty{}, resp) == nil
}

func (d *GRPCDetector) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
