package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"multicam/internal/camera"
	"multicam/internal/capture"
	"multicam/internal/collector"
	"multicam/internal/config"
	"multicam/internal/logging"
	"multicam/internal/sequence"
	"multicam/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCameras struct {
	handles []*camera.Handle
}

func (s *stubCameras) GetAllCameras() []*camera.Handle { return s.handles }

func (s *stubCameras) GetCameraByID(id string) (*camera.Handle, error) {
	for _, h := range s.handles {
		if h.ID() == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", camera.ErrNotFound, id)
}

type stubDiscovery struct {
	ids []string
	err error
}

func (s *stubDiscovery) Rediscover(context.Context) ([]string, error) { return s.ids, s.err }

// stubPreviews はキーがあればワーカーあり、値が nil ならフレーム未取得
type stubPreviews struct {
	frames map[string]*camera.Frame
}

func (s *stubPreviews) LastFrame(id string) (*camera.Frame, error) {
	f, ok := s.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", camera.ErrNotFound, id)
	}
	return f, nil
}

func (s *stubPreviews) Subscribe(int) <-chan *camera.Frame { return make(chan *camera.Frame) }

func (s *stubPreviews) Unsubscribe(<-chan *camera.Frame) {}

type stubCapturer struct {
	out      *collector.Outcome
	err      error
	meta     storage.Metadata
	settings storage.SaveSettings
}

func (s *stubCapturer) Capture(_ context.Context, meta storage.Metadata, settings storage.SaveSettings) (*collector.Outcome, error) {
	s.meta = meta
	s.settings = settings
	return s.out, s.err
}

type fixture struct {
	srv      *Server
	capturer *stubCapturer
	counter  *sequence.Counter
	writer   *storage.Writer
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cam := camera.NewSyntheticCamera("Synthetic_1", camera.Settings{Width: 4, Height: 2, FPS: 30, CollectTimeout: 50 * time.Millisecond})
	require.NoError(t, cam.Connect(context.Background()))

	root := t.TempDir()
	counter, err := sequence.Open(root)
	require.NoError(t, err)
	writer, err := storage.NewWriter(root, zerolog.Nop())
	require.NoError(t, err)

	logs := logging.NewBuffer(10)
	_, _ = logs.Write([]byte("起動しました\n"))

	frame := &camera.Frame{CameraID: "Synthetic_1", FrameNumber: 42, Timestamp: time.Now(), Color: camera.NewColorImage(4, 2)}
	capturer := &stubCapturer{}
	deps := Dependencies{
		Cameras:   &stubCameras{handles: []*camera.Handle{camera.NewHandle(cam)}},
		Discovery: &stubDiscovery{ids: []string{"Synthetic_1"}},
		Previews:  &stubPreviews{frames: map[string]*camera.Frame{"Synthetic_1": frame, "Synthetic_2": nil}},
		Capture:   capturer,
		Sequence:  counter,
		Storage:   writer,
		Logs:      logs,
	}

	return &fixture{
		srv:      New(testConfig(), deps, zerolog.Nop()),
		capturer: capturer,
		counter:  counter,
		writer:   writer,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.srv.Serve(ctx, ln)
	}()

	// 起動を待つ
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints は読み取り系エンドポイントのステータスを確認する
func TestServerEndpoints(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
	}{
		{"ヘルスチェック", "/health", http.StatusOK},
		{"ステータス", "/api/status", http.StatusOK},
		{"カメラ一覧", "/api/cameras", http.StatusOK},
		{"カメラ詳細", "/api/cameras/Synthetic_1", http.StatusOK},
		{"存在しないカメラ", "/api/cameras/ZED_404", http.StatusNotFound},
		{"プレビュー", "/api/cameras/Synthetic_1/preview", http.StatusOK},
		{"プレビュー未取得", "/api/cameras/Synthetic_2/preview", http.StatusNoContent},
		{"プレビュー対象外", "/api/cameras/ZED_404/preview", http.StatusNotFound},
		{"連番", "/api/sequence", http.StatusOK},
		{"保存先", "/api/storage/root", http.StatusOK},
		{"ログ", "/api/logs", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tc.endpoint, nil)
			assert.Equal(t, tc.expectedStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestGetCameras(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/cameras", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Cameras []CameraInfo `json:"cameras"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Cameras, 1)
	assert.Equal(t, "Synthetic_1", body.Cameras[0].ID)
	assert.Equal(t, "connected", body.Cameras[0].State)
	assert.Equal(t, 4, body.Cameras[0].Width)
}

func TestGetCameraPreview(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/cameras/Synthetic_1/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info PreviewInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, uint64(42), info.FrameNumber)
	assert.Equal(t, 4, info.Width)
	assert.Equal(t, 2, info.Height)
	assert.False(t, info.HasDepth)
}

func TestCapture_Success(t *testing.T) {
	f := newFixture(t)
	f.capturer.out = &collector.Outcome{
		RoundID:      "round-1",
		SessionDir:   "/data/20240506/Dark/wall/seq_001",
		FrameCount:   1,
		CameraIDs:    []string{"Synthetic_1"},
		NextSequence: 2,
	}

	rec := f.do(t, http.MethodPost, "/api/capture", map[string]any{
		"lighting":      "Dark",
		"background_id": "wall",
		"save_depth":    false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CaptureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "round-1", resp.RoundID)
	assert.Equal(t, 2, resp.NextSequence)
	assert.Empty(t, resp.Failures)

	assert.Equal(t, storage.LightingDark, f.capturer.meta.Lighting)
	assert.Equal(t, 0, f.capturer.meta.SequenceNumber)
	assert.True(t, f.capturer.settings.SaveRGB)
	assert.False(t, f.capturer.settings.SaveDepth)
}

func TestCapture_NoFrames(t *testing.T) {
	f := newFixture(t)
	f.capturer.out = &collector.Outcome{
		RoundID:  "round-2",
		Failures: []capture.Failure{{CameraID: "Synthetic_1", Phase: capture.PhaseCollect, Err: camera.ErrCollectionTimeout}},
	}
	f.capturer.err = collector.ErrNoFrames

	rec := f.do(t, http.MethodPost, "/api/capture", map[string]any{"lighting": "Normal", "background_id": "bg"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "no_frames", body["error"])
	result := body["result"].(map[string]any)
	failures := result["failures"].([]any)
	require.Len(t, failures, 1)
	assert.Equal(t, "collect", failures[0].(map[string]any)["phase"])
}

func TestCapture_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "unknown lighting", body: map[string]any{"lighting": "Sunny", "background_id": "bg"}},
		{name: "missing background", body: map[string]any{"lighting": "Dark"}},
		{name: "negative sequence", body: map[string]any{"lighting": "Dark", "background_id": "bg", "sequence_number": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/capture", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", decode(t, rec)["error"])
		})
	}
}

func TestCapture_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid metadata", err: fmt.Errorf("%w: 背景IDが不正です", storage.ErrInvalidMetadata), want: http.StatusBadRequest},
		{name: "storage", err: fmt.Errorf("キャプチャの保存に失敗: %w", storage.ErrStorage), want: http.StatusInternalServerError},
		{name: "no frames without outcome", err: collector.ErrNoFrames, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.capturer.err = tt.err

			rec := f.do(t, http.MethodPost, "/api/capture", map[string]any{"lighting": "Dark", "background_id": "bg"})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSequenceEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/sequence", map[string]any{"sequence_number": 12})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, f.counter.Current())

	rec = f.do(t, http.MethodGet, "/api/sequence", nil)
	assert.EqualValues(t, 12, decode(t, rec)["sequence_number"])

	rec = f.do(t, http.MethodPut, "/api/sequence", map[string]any{"sequence_number": -3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/sequence", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 12, f.counter.Current())
}

func TestStorageRootEndpoints(t *testing.T) {
	f := newFixture(t)
	newRoot := filepath.Join(t.TempDir(), "dataset")

	rec := f.do(t, http.MethodPut, "/api/storage/root", map[string]any{"root_dir": newRoot})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, newRoot, f.writer.RootDir())

	rec = f.do(t, http.MethodGet, "/api/storage/root", nil)
	assert.Equal(t, newRoot, decode(t, rec)["root_dir"])

	// ファイルの下にはディレクトリを作れない
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	rec = f.do(t, http.MethodPut, "/api/storage/root", map[string]any{"root_dir": filepath.Join(file, "root")})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "storage_error", decode(t, rec)["error"])
	assert.Equal(t, newRoot, f.writer.RootDir())
}

func TestDiscoverAndLogs(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/discover", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"Synthetic_1"}, decode(t, rec)["cameras"])

	rec = f.do(t, http.MethodGet, "/api/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"起動しました"}, decode(t, rec)["lines"])
}
