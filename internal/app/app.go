// Package app 各コンポーネントを組み立て、起動と停止の順序を管理する
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"multicam/internal/camera"
	"multicam/internal/capture"
	"multicam/internal/collector"
	"multicam/internal/config"
	"multicam/internal/logging"
	"multicam/internal/preview"
	"multicam/internal/sequence"
	"multicam/internal/server"
	"multicam/internal/storage"

	"github.com/rs/zerolog"
)

// closeTimeout はカメラ切断の上限
const closeTimeout = 5 * time.Second

// App はアプリケーション全体
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	manager   *camera.Manager
	pool      *preview.Pool
	writer    *storage.Writer
	counter   *sequence.Counter
	collector *collector.Service
	server    *server.Server

	// 再検出と停止を直列化する
	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

// New はコンポーネントを組み立てる。drivers が nil なら登録済みSDKのドライバーを使う
func New(cfg *config.Config, logs *logging.Logger, drivers []camera.Driver) (*App, error) {
	logger := logs.Logger
	if drivers == nil {
		drivers = camera.DefaultDrivers(cfg.StereoParams())
	}

	manager, err := camera.NewManager(drivers, managerConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("カメラマネージャーの作成に失敗: %w", err)
	}

	orchestrator, err := capture.New(manager, capture.Config{
		LeaseTimeout: cfg.Capture.LeaseTimeout,
		RoundTimeout: cfg.Capture.RoundTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("キャプチャの初期化に失敗: %w", err)
	}

	writer, err := storage.NewWriter(cfg.Storage.RootDir, logger)
	if err != nil {
		return nil, fmt.Errorf("保存先の初期化に失敗: %w", err)
	}

	// 連番は起動時の保存先に置く。保存先を変更しても移動しない
	counter, err := sequence.Open(cfg.Storage.RootDir)
	if err != nil {
		return nil, fmt.Errorf("連番の読み込みに失敗: %w", err)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger.With().Str("component", "app").Logger(),
		manager:   manager,
		pool:      preview.NewPool(previewConfig(cfg), logger),
		writer:    writer,
		counter:   counter,
		collector: collector.New(orchestrator, writer, counter, logger),
	}

	a.server = server.New(cfg, server.Dependencies{
		Cameras:   manager,
		Discovery: a,
		Previews:  a.pool,
		Capture:   a.collector,
		Sequence:  counter,
		Storage:   writer,
		Logs:      logs,
	}, logger)

	return a, nil
}

func managerConfig(cfg *config.Config) camera.ManagerConfig {
	return camera.ManagerConfig{
		Settings:       cfg.CameraSettings(),
		SyntheticCount: cfg.Camera.SyntheticCount,
		HealthInterval: cfg.Health.Interval,
		LeaseTimeout:   cfg.Health.LeaseTimeout,
		StopTimeout:    cfg.Preview.ThreadStopTimeout,
	}
}

func previewConfig(cfg *config.Config) preview.Config {
	c := preview.DefaultConfig()
	c.DisplayFPS = cfg.Preview.DisplayFPS
	c.ErrorPause = cfg.Preview.ErrorPause
	c.LeaseTimeout = cfg.Capture.LeaseTimeout
	return c
}

// Server はHTTPサーバーを返す
func (a *App) Server() *server.Server {
	return a.server
}

// Collector はキャプチャ要求の処理を返す
func (a *App) Collector() *collector.Service {
	return a.collector
}

// Manager はカメラマネージャーを返す
func (a *App) Manager() *camera.Manager {
	return a.manager
}

// Previews はプレビューを返す
func (a *App) Previews() *preview.Pool {
	return a.pool
}

// Start はカメラを検出し、ヘルスモニターとプレビューを開始する
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("既に起動しています")
	}

	ids, err := a.manager.DiscoverCameras(ctx)
	if err != nil {
		return fmt.Errorf("カメラの検出に失敗: %w", err)
	}

	a.runCtx, a.cancel = context.WithCancel(context.Background())
	if err := a.manager.StartMonitoring(a.runCtx); err != nil {
		a.cancel()
		return fmt.Errorf("ヘルスモニターの開始に失敗: %w", err)
	}
	if err := a.pool.Start(a.runCtx, a.manager.GetAllCameras()); err != nil {
		a.logger.Warn().Err(err).Msg("一部のプレビューを開始できませんでした")
	}

	a.started = true
	a.logger.Info().Strs("cameras", ids).Msg("起動しました")
	return nil
}

// Rediscover はプレビューを止めてカメラを検出し直し、プレビューを再開する
func (a *App) Rediscover(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil, fmt.Errorf("起動していません")
	}

	if err := a.pool.StopAll(a.cfg.Preview.ThreadStopTimeout); err != nil {
		a.logger.Warn().Err(err).Msg("停止しきれなかったプレビューを切り離しました")
	}

	ids, err := a.manager.DiscoverCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("カメラの再検出に失敗: %w", err)
	}

	if err := a.pool.Start(a.runCtx, a.manager.GetAllCameras()); err != nil {
		a.logger.Warn().Err(err).Msg("一部のプレビューを開始できませんでした")
	}
	a.logger.Info().Strs("cameras", ids).Msg("カメラを再検出しました")
	return ids, nil
}

// Run は起動してからHTTPサーバーを動かし、終了後に停止処理を行う
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	serveErr := a.server.Start(ctx)
	return errors.Join(serveErr, a.Shutdown())
}

// Shutdown はプレビュー、ヘルスモニター、カメラの順に上限付きで停止する
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.started = false

	var errs []error
	if err := a.pool.StopAll(a.cfg.Preview.ThreadStopTimeout); err != nil {
		errs = append(errs, fmt.Errorf("プレビューの停止: %w", err))
	}
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("カメラの停止: %w", err))
	}

	a.logger.Info().Msg("停止しました")
	return errors.Join(errs...)
}
