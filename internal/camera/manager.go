package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ManagerConfig はManagerの動作設定
type ManagerConfig struct {
	Settings       Settings      // 各カメラに要求する取得設定
	SyntheticCount int           // 実機が0台のときに作る合成カメラの台数
	HealthInterval time.Duration // ヘルスチェック間隔
	LeaseTimeout   time.Duration // ヘルスチェックがロックを待つ最大時間
	StopTimeout    time.Duration // ヘルスモニター停止の最大待ち時間
}

// DefaultManagerConfig はデフォルト設定を返す
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Settings:       DefaultSettings(),
		SyntheticCount: 1,
		HealthInterval: 5 * time.Second,
		LeaseTimeout:   time.Second,
		StopTimeout:    2 * time.Second,
	}
}

// Manager はカメラの検出、保持、ヘルスモニターを担う
type Manager struct {
	drivers []Driver
	cfg     ManagerConfig
	logger  zerolog.Logger

	handles []*Handle
	byID    map[string]*Handle
	mu      sync.RWMutex

	// 検出処理の直列化
	discoverMu sync.Mutex

	// ヘルスモニター制御用
	monitorMu     sync.Mutex
	monitoring    bool
	stopCh        chan struct{}
	monitorCancel context.CancelFunc
	wg            sync.WaitGroup

	reconnects metric.Int64Counter
}

// NewManager は新しいManagerを作成する
// drivers の順序がそのまま列挙順になる
func NewManager(drivers []Driver, cfg ManagerConfig, logger zerolog.Logger) (*Manager, error) {
	reconnects, err := meter().Int64Counter(
		"camera.reconnects",
		metric.WithDescription("ヘルスモニターによる再接続の試行回数"),
	)
	if err != nil {
		return nil, fmt.Errorf("再接続カウンターの作成に失敗: %w", err)
	}

	return &Manager{
		drivers:    drivers,
		cfg:        cfg,
		logger:     logger.With().Str("component", "camera_manager").Logger(),
		byID:       make(map[string]*Handle),
		reconnects: reconnects,
	}, nil
}

// DiscoverCameras は全ドライバーから列挙してカメラ一覧を作り直す
// 実機が0台なら合成カメラで補う。個々の接続失敗は記録して続行する
func (m *Manager) DiscoverCameras(ctx context.Context) ([]string, error) {
	m.discoverMu.Lock()
	defer m.discoverMu.Unlock()

	var handles []*Handle
	seen := make(map[string]struct{})

	for _, drv := range m.drivers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		descs, err := drv.Enumerate(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("family", string(drv.Family())).Msg("デバイス列挙に失敗しました")
			continue
		}

		for _, desc := range descs {
			cam := drv.NewCamera(desc, m.cfg.Settings)
			if _, dup := seen[cam.ID()]; dup {
				m.logger.Warn().Str("camera_id", cam.ID()).Msg("重複したカメラIDを無視します")
				continue
			}
			seen[cam.ID()] = struct{}{}
			handles = append(handles, NewHandle(cam))
		}
	}

	if len(handles) == 0 {
		m.logger.Info().Int("count", m.cfg.SyntheticCount).Msg("実機が見つからないため合成カメラを使用します")
		for i := 1; i <= m.cfg.SyntheticCount; i++ {
			cam := NewSyntheticCamera(fmt.Sprintf("Synthetic_%d", i), m.cfg.Settings)
			handles = append(handles, NewHandle(cam))
		}
	}

	// デバイスは同時に1セッションしか開けないので、古いインスタンスを先に閉じる
	m.mu.RLock()
	old := m.handles
	m.mu.RUnlock()
	for _, h := range old {
		m.release(ctx, h)
	}

	for _, h := range handles {
		m.connect(ctx, h)
	}

	m.mu.Lock()
	m.handles = handles
	m.byID = make(map[string]*Handle, len(handles))
	for _, h := range handles {
		m.byID[h.ID()] = h
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.ID())
	}
	m.logger.Info().Strs("cameras", ids).Msg("カメラ検出が完了しました")
	return ids, nil
}

// connect は新しいHandleのカメラに接続する
func (m *Manager) connect(ctx context.Context, h *Handle) {
	lease, ok := h.TryAcquire()
	if !ok {
		return
	}
	defer lease.Release()

	if err := lease.Camera().Connect(ctx); err != nil {
		m.logger.Error().Err(err).Str("camera_id", h.ID()).Msg("カメラ接続に失敗しました")
		return
	}
	m.logger.Info().Str("camera_id", h.ID()).Msg("カメラに接続しました")
}

// release は破棄するHandleを退役させてカメラを切断する
func (m *Manager) release(ctx context.Context, h *Handle) {
	h.retire()

	lctx, cancel := context.WithTimeout(ctx, m.cfg.LeaseTimeout)
	defer cancel()

	lease, err := h.Acquire(lctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("camera_id", h.ID()).Msg("使用中のため切断をスキップします")
		return
	}
	defer lease.Release()

	if err := lease.Camera().Disconnect(); err != nil {
		m.logger.Warn().Err(err).Str("camera_id", h.ID()).Msg("カメラ切断に失敗しました")
	}
}

// GetAllCameras は列挙順のカメラ一覧のコピーを返す
func (m *Manager) GetAllCameras() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Handle, len(m.handles))
	copy(out, m.handles)
	return out
}

// ConnectedCameras は接続済みカメラのスナップショットを返す
func (m *Manager) ConnectedCameras() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		if h.IsConnected() {
			out = append(out, h)
		}
	}
	return out
}

// GetCameraByID は指定されたIDのカメラを取得する
func (m *Manager) GetCameraByID(id string) (*Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, exists := m.byID[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return h, nil
}

// StartMonitoring はヘルスモニターを開始する
func (m *Manager) StartMonitoring(ctx context.Context) error {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.monitoring {
		return fmt.Errorf("ヘルスモニターは既に起動しています")
	}
	if m.cfg.HealthInterval <= 0 {
		return fmt.Errorf("ヘルスチェック間隔が不正です: %v", m.cfg.HealthInterval)
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	m.stopCh = make(chan struct{})
	m.monitorCancel = cancel
	m.monitoring = true

	m.wg.Add(1)
	go m.monitorLoop(monitorCtx, m.stopCh)

	m.logger.Info().Dur("interval", m.cfg.HealthInterval).Msg("ヘルスモニターを開始しました")
	return nil
}

// StopMonitoring はヘルスモニターに停止を通知し、StopTimeout まで終了を待つ
func (m *Manager) StopMonitoring(ctx context.Context) error {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if !m.monitoring {
		return nil
	}
	m.monitoring = false
	close(m.stopCh)
	m.monitorCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info().Msg("ヘルスモニターを停止しました")
		return nil
	case <-time.After(m.cfg.StopTimeout):
		return fmt.Errorf("ヘルスモニターの停止がタイムアウトしました")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close はヘルスモニターを止めて全カメラを切断する
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	if err := m.StopMonitoring(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, h := range m.GetAllCameras() {
		m.release(ctx, h)
	}
	return errors.Join(errs...)
}

// monitorLoop は定期的に全カメラの生存を確認する
func (m *Manager) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

// checkAll は1回分のヘルスチェックを実行する
func (m *Manager) checkAll(ctx context.Context) {
	for _, h := range m.GetAllCameras() {
		if ctx.Err() != nil {
			return
		}
		m.checkCamera(ctx, h)
	}
}

// checkCamera は1台のカメラを確認し、切断されていれば再接続を試みる
// 使用中のカメラはスキップする
func (m *Manager) checkCamera(ctx context.Context, h *Handle) {
	lctx, cancel := context.WithTimeout(ctx, m.cfg.LeaseTimeout)
	lease, err := h.Acquire(lctx)
	cancel()
	if err != nil {
		m.logger.Debug().Str("camera_id", h.ID()).Msg("使用中のためヘルスチェックをスキップします")
		return
	}
	defer lease.Release()

	// 検出し直しで外れたカメラは再接続しない
	if h.Retired() {
		return
	}

	cam := lease.Camera()
	if cam.CheckConnection() {
		return
	}

	m.logger.Warn().Str("camera_id", h.ID()).Msg("カメラの切断を検出しました。再接続します")
	m.reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("camera_id", h.ID())))

	if err := cam.Disconnect(); err != nil {
		m.logger.Warn().Err(err).Str("camera_id", h.ID()).Msg("切断処理に失敗しました")
	}
	if err := cam.Connect(ctx); err != nil {
		m.logger.Error().Err(err).Str("camera_id", h.ID()).Msg("再接続に失敗しました")
		return
	}
	m.logger.Info().Str("camera_id", h.ID()).Msg("再接続しました")
}
