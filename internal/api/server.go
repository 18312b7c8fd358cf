package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"drowsyguard/internal/alerts"
	"drowsyguard/internal/api/web"
	"drowsyguard/internal/config"
	"drowsyguard/internal/metrics"
	"drowsyguard/internal/model"
	"drowsyguard/internal/snapshot"
)

// Control is the part of the acquisition loop the API may drive.
type Control interface {
	Reset()
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg       *config.Manager
	snapshots *snapshot.Store
	metrics   *metrics.Store
	alerts    *alerts.Store
	control   Control
	logger    *slog.Logger
	version   string
	stats     map[string]func() any
}

type statusResponse struct {
	Status       string       `json:"status"`
	StatusCode   model.Status `json:"status_code"`
	AlertActive  bool         `json:"alert_active"`
	Drowsy       bool         `json:"drowsy"`
	FaceMissing  bool         `json:"face_missing"`
	EAR          float64      `json:"ear"`
	HasEAR       bool         `json:"has_ear"`
	ClosedFrames int          `json:"closed_frames"`
	MissingFaces int          `json:"missing_faces"`
	Seq          uint64       `json:"seq"`
	UpdatedAt    string       `json:"updated_at"`
}

func newStatusResponse(snap model.StatusSnapshot) statusResponse {
	return statusResponse{
		Status:       snap.Status.Label(),
		StatusCode:   snap.Status,
		AlertActive:  snap.AlertActive,
		Drowsy:       snap.Drowsy(),
		FaceMissing:  snap.FaceMissing(),
		EAR:          snap.EAR,
		HasEAR:       snap.HasEAR,
		ClosedFrames: snap.ClosedFrames,
		MissingFaces: snap.MissingFaces,
		Seq:          snap.Seq,
		UpdatedAt:    snap.PublishedAt.UTC().Format(time.RFC3339Nano),
	}
}

type detectionUpdate struct {
	EARThreshold         *float64 `json:"ear_threshold"`
	ClosedFrameThreshold *int     `json:"closed_frame_threshold"`
	NoFaceThreshold      *int     `json:"no_face_threshold"`
	TargetCycleMillis    *int     `json:"target_cycle_millis"`
}

type detectionResponse struct {
	EARThreshold         float64  `json:"ear_threshold"`
	ClosedFrameThreshold int      `json:"closed_frame_threshold"`
	NoFaceThreshold      int      `json:"no_face_threshold"`
	TargetCycleMillis    int      `json:"target_cycle_millis"`
	PerclosWindows       []string `json:"perclos_windows"`
}

func NewServer(cfg *config.Manager, snapshots *snapshot.Store, metricsStore *metrics.Store, alertsStore *alerts.Store, control Control, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		snapshots: snapshots,
		metrics:   metricsStore,
		alerts:    alertsStore,
		control:   control,
		logger:    logger.With("component", "api"),
		version:   version,
		stats:     make(map[string]func() any),
	}
}

// AddStats publishes fn's result under name in the metrics response.
func (s *Server) AddStats(name string, fn func() any) {
	s.stats[name] = fn
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/video_feed", s.handleVideoFeed)
	r.Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/config", s.handleConfig)
	})
	r.With(s.requireAdmin).Put("/api/config", s.handleConfigUpdate)
	r.With(s.requireAdmin).Post("/admin/reset", s.handleReset)
	return r
}

// Start serves the API until ctx is cancelled. It returns nil when the API
// is disabled.
func Start(ctx context.Context, srv *Server) *http.Server {
	if srv == nil || srv.cfg == nil {
		return nil
	}
	current := srv.cfg.Get().API
	if !current.Enabled {
		srv.logger.Info("api disabled")
		return nil
	}
	srv.logger.Info("api enabled", "addr", current.Addr)

	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(web.FS, "index.html")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.snapshots.Read()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"ready":   err == nil,
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.Read()
	if errors.Is(err, snapshot.ErrNotReady) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(snap))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"metrics":   s.metrics.Get(),
		"snapshots": s.snapshots.Stats(),
	}
	for name, fn := range s.stats {
		resp[name] = fn()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.AlertEvent
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newDetectionResponse(s.cfg.Get().Detection))
}

func newDetectionResponse(det config.DetectionConfig) detectionResponse {
	windows := make([]string, 0, len(det.PerclosWindows))
	for _, d := range det.PerclosWindows {
		windows = append(windows, d.String())
	}
	return detectionResponse{
		EARThreshold:         det.EARThreshold,
		ClosedFrameThreshold: det.ClosedFrameThreshold,
		NoFaceThreshold:      det.NoFaceThreshold,
		TargetCycleMillis:    det.TargetCycleMillis,
		PerclosWindows:       windows,
	}
}

func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var req detectionUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": "invalid json"})
		return
	}
	current := s.cfg.Get()
	next := *current
	if req.EARThreshold != nil {
		next.Detection.EARThreshold = *req.EARThreshold
	}
	if req.ClosedFrameThreshold != nil {
		next.Detection.ClosedFrameThreshold = *req.ClosedFrameThreshold
	}
	if req.NoFaceThreshold != nil {
		next.Detection.NoFaceThreshold = *req.NoFaceThreshold
	}
	if req.TargetCycleMillis != nil {
		next.Detection.TargetCycleMillis = *req.TargetCycleMillis
	}
	if err := config.Validate(&next); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	if err := s.cfg.Update(&next); err != nil {
		s.logger.Error("config update failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error"})
		return
	}
	if s.control != nil {
		s.control.UpdateConfig(&next)
	}
	s.logger.Info("detection thresholds changed", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, newDetectionResponse(next.Detection))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.control != nil {
		s.control.Reset()
	}
	if s.alerts != nil {
		s.alerts.Clear()
	}
	if s.metrics != nil {
		s.metrics.Clear()
	}
	s.logger.Info("detection state reset requested", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
