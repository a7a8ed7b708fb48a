package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"multicam/internal/camera"
	"multicam/internal/capture"
	"multicam/internal/collector"
	"multicam/internal/config"
	"multicam/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler は各エンドポイントの実装
type Handler struct {
	config *config.Config
	deps   Dependencies
	logger zerolog.Logger
}

// register はルートを登録する
func (h *Handler) register(r gin.IRouter) {
	// ヘルスチェックエンドポイント
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.GET("/status", h.GetStatus)
	api.GET("/cameras", h.GetCameras)
	api.GET("/cameras/:id", h.GetCamera)
	api.GET("/cameras/:id/preview", h.GetCameraPreview)
	api.GET("/preview/events", h.GetPreviewEvents)
	api.POST("/discover", h.Discover)
	api.POST("/capture", h.Capture)
	api.GET("/sequence", h.GetSequence)
	api.PUT("/sequence", h.PutSequence)
	api.GET("/storage/root", h.GetStorageRoot)
	api.PUT("/storage/root", h.PutStorageRoot)
	api.GET("/logs", h.GetLogs)
}

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CameraInfo はカメラ一覧の1要素
type CameraInfo struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Family string `json:"family"`
	Serial string `json:"serial,omitempty"`
	State  string `json:"state"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

// PreviewInfo は最新プレビューフレームのメタデータ
type PreviewInfo struct {
	CameraID    string    `json:"camera_id"`
	FrameNumber uint64    `json:"frame_number"`
	Timestamp   time.Time `json:"timestamp"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	HasDepth    bool      `json:"has_depth"`
	HasRight    bool      `json:"has_right"`
}

// FailureInfo はラウンド内で失敗したカメラ
type FailureInfo struct {
	CameraID string `json:"camera_id"`
	Phase    string `json:"phase"`
	Error    string `json:"error"`
}

// CaptureResponse はキャプチャ結果
type CaptureResponse struct {
	RoundID      string        `json:"round_id"`
	SessionDir   string        `json:"session_dir,omitempty"`
	FrameCount   int           `json:"frame_count"`
	CameraIDs    []string      `json:"camera_ids"`
	Failures     []FailureInfo `json:"failures"`
	NextSequence int           `json:"next_sequence"`
}

// CaptureRequest はキャプチャ要求
type CaptureRequest struct {
	Lighting       string `json:"lighting" binding:"required,oneof=VeryDark Dark Normal"`
	BackgroundID   string `json:"background_id" binding:"required,max=100"`
	SequenceNumber *int   `json:"sequence_number" binding:"omitempty,min=0"`

	SaveRGB        *bool `json:"save_rgb"`
	SaveDepth      *bool `json:"save_depth"`
	SavePointCloud *bool `json:"save_point_cloud"`
	SaveRightView  *bool `json:"save_right_view"`
	LockMetadata   bool  `json:"lock_metadata"`
}

// SequenceRequest は連番の設定要求
type SequenceRequest struct {
	SequenceNumber *int `json:"sequence_number" binding:"required,min=0"`
}

// StorageRootRequest は保存先の変更要求
type StorageRootRequest struct {
	RootDir string `json:"root_dir" binding:"required"`
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	cameras := h.deps.Cameras.GetAllCameras()
	connected := 0
	for _, cam := range cameras {
		if cam.IsConnected() {
			connected++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"server": gin.H{
			"host": h.config.Server.Host,
			"port": h.config.Server.Port,
		},
		"cameras":           len(cameras),
		"connected_cameras": connected,
		"sequence_number":   h.deps.Sequence.Current(),
		"storage_root":      h.deps.Storage.RootDir(),
		"timestamp":         time.Now(),
	})
}

// GetCameras はカメラ一覧取得エンドポイントの実装
func (h *Handler) GetCameras(c *gin.Context) {
	handles := h.deps.Cameras.GetAllCameras()
	cameras := make([]CameraInfo, 0, len(handles))
	for _, cam := range handles {
		cameras = append(cameras, toCameraInfo(cam))
	}

	c.JSON(http.StatusOK, gin.H{"cameras": cameras})
}

// GetCamera はカメラ1台の情報取得エンドポイントの実装
func (h *Handler) GetCamera(c *gin.Context) {
	cam, err := h.deps.Cameras.GetCameraByID(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCameraInfo(cam))
}

// GetCameraPreview は最新プレビューフレームのメタデータを返す（画素は返さない）
func (h *Handler) GetCameraPreview(c *gin.Context) {
	frame, err := h.deps.Previews.LastFrame(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if frame == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, toPreviewInfo(frame))
}

// GetPreviewEvents はプレビューフレームのメタデータをServer-Sent Eventsで配信する
func (h *Handler) GetPreviewEvents(c *gin.Context) {
	sub := h.deps.Previews.Subscribe(8)
	defer h.deps.Previews.Unsubscribe(sub)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case frame := <-sub:
			c.SSEvent("frame", toPreviewInfo(frame))
			return true
		}
	})
}

// Discover はカメラを再検出する
func (h *Handler) Discover(c *gin.Context) {
	ids, err := h.deps.Discovery.Rediscover(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"cameras": ids})
}

// Capture は全カメラで同期キャプチャを行い保存する
func (h *Handler) Capture(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	meta := storage.Metadata{
		Lighting:     storage.Lighting(req.Lighting),
		BackgroundID: req.BackgroundID,
	}
	if req.SequenceNumber != nil {
		meta.SequenceNumber = *req.SequenceNumber
	}

	settings := storage.DefaultSaveSettings()
	overrideBool(&settings.SaveRGB, req.SaveRGB)
	overrideBool(&settings.SaveDepth, req.SaveDepth)
	overrideBool(&settings.SavePointCloud, req.SavePointCloud)
	overrideBool(&settings.SaveRightView, req.SaveRightView)
	settings.LockMetadata = req.LockMetadata

	out, err := h.deps.Capture.Capture(c.Request.Context(), meta, settings)
	if err != nil {
		if out != nil && errors.Is(err, collector.ErrNoFrames) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":     "no_frames",
				"message":   err.Error(),
				"result":    toCaptureResponse(out),
				"timestamp": time.Now(),
			})
			return
		}
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, toCaptureResponse(out))
}

// GetSequence は現在の連番を返す
func (h *Handler) GetSequence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sequence_number": h.deps.Sequence.Current()})
}

// PutSequence は連番を設定する
func (h *Handler) PutSequence(c *gin.Context) {
	var req SequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.deps.Sequence.SetCurrent(*req.SequenceNumber); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence_number": h.deps.Sequence.Current()})
}

// GetStorageRoot は保存先を返す
func (h *Handler) GetStorageRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"root_dir": h.deps.Storage.RootDir()})
}

// PutStorageRoot は保存先を変更する
func (h *Handler) PutStorageRoot(c *gin.Context) {
	var req StorageRootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.deps.Storage.SetRootDir(req.RootDir); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"root_dir": h.deps.Storage.RootDir()})
}

// GetLogs は直近のログ行を返す
func (h *Handler) GetLogs(c *gin.Context) {
	lines := h.deps.Logs.Lines()
	if lines == nil {
		lines = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// ヘルパー関数

// fail はエラーの種類に応じたステータスで応答する
func (h *Handler) fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, camera.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrInvalidMetadata):
		status, code = http.StatusBadRequest, "invalid_metadata"
	case errors.Is(err, collector.ErrNoFrames):
		status, code = http.StatusServiceUnavailable, "no_frames"
	case errors.Is(err, storage.ErrStorage):
		code = "storage_error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("リクエストの処理に失敗しました")
	}
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// badRequest はリクエストボディの検証エラーを返す
func (h *Handler) badRequest(c *gin.Context, err error) {
	details := err.Error()
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     "invalid_request",
		Message:   "リクエストが不正です",
		Details:   &details,
		Timestamp: time.Now(),
	})
}

func overrideBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func toCameraInfo(h *camera.Handle) CameraInfo {
	info := h.Info()
	return CameraInfo{
		ID:     info.ID,
		Model:  info.Model,
		Family: string(info.Family),
		Serial: info.Serial,
		State:  string(h.State()),
		Width:  info.Width,
		Height: info.Height,
		FPS:    info.FPS,
	}
}

func toPreviewInfo(f *camera.Frame) PreviewInfo {
	p := PreviewInfo{
		CameraID:    f.CameraID,
		FrameNumber: f.FrameNumber,
		Timestamp:   f.Timestamp,
		HasDepth:    f.Depth != nil,
		HasRight:    f.Right != nil,
	}
	if f.Color != nil {
		p.Width, p.Height = f.Color.Width, f.Color.Height
	}
	return p
}

func toCaptureResponse(out *collector.Outcome) CaptureResponse {
	failures := make([]FailureInfo, 0, len(out.Failures))
	for _, f := range out.Failures {
		failures = append(failures, toFailureInfo(f))
	}
	ids := out.CameraIDs
	if ids == nil {
		ids = []string{}
	}
	return CaptureResponse{
		RoundID:      out.RoundID,
		SessionDir:   out.SessionDir,
		FrameCount:   out.FrameCount,
		CameraIDs:    ids,
		Failures:     failures,
		NextSequence: out.NextSequence,
	}
}

func toFailureInfo(f capture.Failure) FailureInfo {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return FailureInfo{CameraID: f.CameraID, Phase: string(f.Phase), Error: msg}
}
