package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multicam/internal/camera"
	"multicam/internal/collector"
	"multicam/internal/config"
	"multicam/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// shutdownTimeout はグレースフルシャットダウンの上限
const shutdownTimeout = 5 * time.Second

// CameraRegistry は管理中のカメラを提供する
type CameraRegistry interface {
	GetAllCameras() []*camera.Handle
	GetCameraByID(id string) (*camera.Handle, error)
}

// Discoverer はカメラの再検出を行う
type Discoverer interface {
	Rediscover(ctx context.Context) ([]string, error)
}

// PreviewSource はプレビューの最新フレームを提供する
type PreviewSource interface {
	LastFrame(id string) (*camera.Frame, error)
	Subscribe(buffer int) <-chan *camera.Frame
	Unsubscribe(sub <-chan *camera.Frame)
}

// Capturer はキャプチャ要求を処理する
type Capturer interface {
	Capture(ctx context.Context, meta storage.Metadata, settings storage.SaveSettings) (*collector.Outcome, error)
}

// SequenceStore は永続化された連番
type SequenceStore interface {
	Current() int
	SetCurrent(n int) error
}

// StorageRoot はデータセットの保存先
type StorageRoot interface {
	RootDir() string
	SetRootDir(root string) error
}

// LogSource は直近のログ行を提供する
type LogSource interface {
	Lines() []string
}

// Dependencies はハンドラーが使うコンポーネント
type Dependencies struct {
	Cameras   CameraRegistry
	Discovery Discoverer
	Previews  PreviewSource
	Capture   Capturer
	Sequence  SequenceStore
	Storage   StorageRoot
	Logs      LogSource
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	engine     *gin.Engine
	logger     zerolog.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	h := &Handler{config: cfg, deps: deps, logger: logger}
	h.register(engine)

	return &Server{
		config: cfg,
		engine: engine,
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Handler はルーティング済みの http.Handler を返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start はサーバーを起動し、ctx の終了かシグナル受信まで待ってからシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は指定リスナーでサーバーを動かす
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info().Str("signal", sig.String()).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストごとにアクセスログを出す
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
