package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"drowsyguard/internal/alerts"
	"drowsyguard/internal/config"
	"drowsyguard/internal/metrics"
	"drowsyguard/internal/model"
	"drowsyguard/internal/snapshot"
)

type countingControl struct {
	resets  atomic.Int32
	updated atomic.Pointer[config.Config]
}

func (c *countingControl) Reset() { c.resets.Add(1) }

func (c *countingControl) UpdateConfig(cfg *config.Config) { c.updated.Store(cfg) }

type fixture struct {
	manager *config.Manager
	snaps   *snapshot.Store
	metrics *metrics.Store
	alerts  *alerts.Store
	control *countingControl
	server  *Server
	srv     *httptest.Server
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return newFixtureWithManager(t, config.NewStaticManager(cfg))
}

func newFixtureWithManager(t *testing.T, manager *config.Manager) *fixture {
	t.Helper()
	f := &fixture{
		manager: manager,
		snaps:   snapshot.NewStore(),
		metrics: metrics.NewStore(),
		alerts:  alerts.NewStore(10),
		control: &countingControl{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.server = NewServer(manager, f.snaps, f.metrics, f.alerts, f.control, logger, "test")
	f.srv = httptest.NewServer(f.server.Routes())
	t.Cleanup(f.srv.Close)
	return f
}

func put(t *testing.T, url, body string, auth ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStatusNotReadyBeforeFirstSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", decode(t, resp)["status"])
}

func TestStatusReportsDerivedFlags(t *testing.T) {
	f := newFixture(t, nil)
	f.snaps.Publish(&model.StatusSnapshot{
		Status:       model.StatusDrowsinessDetected,
		AlertActive:  true,
		EAR:          0.19,
		HasEAR:       true,
		ClosedFrames: 31,
	})

	resp, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "DROWSINESS DETECTED!", body["status"])
	assert.Equal(t, "drowsiness_detected", body["status_code"])
	assert.Equal(t, true, body["drowsy"])
	assert.Equal(t, false, body["face_missing"])
	assert.InDelta(t, 0.19, body["ear"], 1e-9)
	assert.EqualValues(t, 1, body["seq"])
}

func TestConfigExposesThresholds(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/api/config")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.EqualValues(t, 30, body["closed_frame_threshold"])
	assert.EqualValues(t, 60, body["no_face_threshold"])
	assert.InDelta(t, 0.25, body["ear_threshold"], 1e-9)
}

func TestAlertsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.alerts.Add(model.AlertEvent{ID: "a", Timestamp: base, Transition: model.BecameActive})
	f.alerts.Add(model.AlertEvent{ID: "b", Timestamp: base.Add(time.Minute), Transition: model.BecameInactive})

	resp, err := http.Get(f.srv.URL + "/api/alerts?limit=1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, resp)["count"])

	resp, err = http.Get(f.srv.URL + "/api/alerts?since=" + base.Add(30*time.Second).Format(time.RFC3339))
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, resp)["count"])

	resp, err = http.Get(f.srv.URL + "/api/alerts?since=yesterday")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResetOpenWithoutHash(t *testing.T) {
	f := newFixture(t, nil)
	f.alerts.Add(model.AlertEvent{ID: "a"})
	f.metrics.RecordDeviceFailure()
	resp, err := http.Post(f.srv.URL+"/admin/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, f.control.resets.Load())
	assert.Zero(t, f.alerts.Len())
	assert.Zero(t, f.metrics.Get().DeviceFailures)
}

func TestMetricsIncludesRegisteredStats(t *testing.T) {
	f := newFixture(t, nil)
	f.server.AddStats("notify", func() any { return map[string]int{"sent": 3} })
	resp, err := http.Get(f.srv.URL + "/api/metrics")
	require.NoError(t, err)
	body := decode(t, resp)
	require.Contains(t, body, "notify")
	assert.EqualValues(t, 3, body["notify"].(map[string]any)["sent"])
	assert.Contains(t, body, "metrics")
}

func TestConfigUpdateAppliesThresholds(t *testing.T) {
	f := newFixture(t, nil)
	resp := put(t, f.srv.URL+"/api/config", `{"closed_frame_threshold":45,"ear_threshold":0.21}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.EqualValues(t, 45, body["closed_frame_threshold"])

	cur := f.manager.Get().Detection
	assert.Equal(t, 45, cur.ClosedFrameThreshold)
	assert.Equal(t, 0.21, cur.EARThreshold)
	assert.Equal(t, 60, cur.NoFaceThreshold)

	applied := f.control.updated.Load()
	require.NotNil(t, applied)
	assert.Equal(t, 45, applied.Detection.ClosedFrameThreshold)
}

func TestConfigUpdateRejectsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	resp := put(t, f.srv.URL+"/api/config", `{"ear_threshold":1.5}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0.25, f.manager.Get().Detection.EARThreshold)
	assert.Nil(t, f.control.updated.Load())

	resp = put(t, f.srv.URL+"/api/config", `not json`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfigUpdatePersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drowsy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("detection:\n  no_face_threshold: 90\n"), 0o644))
	manager, err := config.NewManager(path)
	require.NoError(t, err)
	f := newFixtureWithManager(t, manager)

	resp := put(t, f.srv.URL+"/api/config", `{"no_face_threshold":120}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, reloaded.Detection.NoFaceThreshold)
}

func TestConfigUpdateRequiresAdmin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, func(c *config.Config) { c.API.AdminPasswordHash = string(hash) })

	resp := put(t, f.srv.URL+"/api/config", `{"closed_frame_threshold":45}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = put(t, f.srv.URL+"/api/config", `{"closed_frame_threshold":45}`, "admin", "s3cret")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResetRequiresAdminPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, func(c *config.Config) { c.API.AdminPasswordHash = string(hash) })

	resp, err := http.Post(f.srv.URL+"/admin/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/admin/reset", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, f.srv.URL+"/admin/reset", nil)
	req.SetBasicAuth("admin", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, f.control.resets.Load())
}

func TestIndexAndHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/")
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(page), "/video_feed")

	resp, err = http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["ready"])
}

func TestVideoFeedStreamsFrames(t *testing.T) {
	f := newFixture(t, nil)
	f.snaps.Publish(&model.StatusSnapshot{Status: model.StatusMonitoring, Frame: []byte("jpeg-1")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/video_feed", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	require.Equal(t, "frame", params["boundary"])

	mr := multipart.NewReader(bufio.NewReader(resp.Body), params["boundary"])
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	assert.Equal(t, "6", part.Header.Get("Content-Length"))
	data := make([]byte, 6)
	_, err = io.ReadFull(part, data)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-1", string(data))

	f.snaps.Publish(&model.StatusSnapshot{Status: model.StatusMonitoring, Frame: []byte("jpeg-2")})
	part, err = mr.NextPart()
	require.NoError(t, err)
	_, err = io.ReadFull(part, data)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-2", string(data))
}

func TestWebSocketPushesStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.snaps.Publish(&model.StatusSnapshot{Status: model.StatusFaceNotDetected, AlertActive: true, MissingFaces: 60})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got statusResponse
	require.NoError(t, conn.ReadJSON(&got))
	assert.True(t, got.FaceMissing)
	assert.Equal(t, "FACE NOT DETECTED!", got.Status)

	f.snaps.Publish(&model.StatusSnapshot{Status: model.StatusMonitoring})
	require.NoError(t, conn.ReadJSON(&got))
	assert.False(t, got.AlertActive)
	assert.Equal(t, uint64(2), got.Seq)
}
