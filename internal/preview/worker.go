package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"multicam/internal/camera"

	"github.com/rs/zerolog"
)

// ErrStopTimeout は停止待ちが上限を超えたことを表す
var ErrStopTimeout = errors.New("プレビューワーカーの停止がタイムアウトしました")

// Config はプレビューワーカーの動作設定
type Config struct {
	DisplayFPS   int           // 購読者への配信レート上限
	ErrorPause   time.Duration // 取得エラー後の待ち時間
	IdleInterval time.Duration // 未接続時の再確認間隔
	LeaseTimeout time.Duration // 1回の取得で排他アクセスを待つ最大時間
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		DisplayFPS:   15,
		ErrorPause:   time.Second,
		IdleInterval: 200 * time.Millisecond,
		LeaseTimeout: time.Second,
	}
}

// Worker は1台のカメラから連続的にフレームを取得し、最新フレームを保持する
type Worker struct {
	handle  *camera.Handle
	cfg     Config
	logger  zerolog.Logger
	publish func(*camera.Frame)

	// 最新フレーム保持用
	latestFrame *camera.Frame
	latestMutex sync.RWMutex
	lastPublish time.Time

	// 制御用
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewWorker は新しいWorkerを作成する。publish は nil でもよい
func NewWorker(handle *camera.Handle, cfg Config, logger zerolog.Logger, publish func(*camera.Frame)) *Worker {
	return &Worker{
		handle:  handle,
		cfg:     cfg,
		logger:  logger.With().Str("component", "preview").Str("camera_id", handle.ID()).Logger(),
		publish: publish,
	}
}

// CameraID はカメラIDを返す
func (w *Worker) CameraID() string {
	return w.handle.ID()
}

// Start はワーカーを開始する
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("カメラ %s のプレビューは既に開始されています", w.handle.ID())
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(runCtx, w.done)
	return nil
}

// Stop は停止を通知し、timeout まで終了を待つ
// 期限内に終わらない場合はゴルーチンを切り離して ErrStopTimeout を返す
func (w *Worker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		w.logger.Error().Dur("timeout", timeout).Msg("プレビューワーカーが停止しないため切り離します")
		return fmt.Errorf("カメラ %s: %w", w.handle.ID(), ErrStopTimeout)
	}
}

// LastFrame は最新フレームを返す。まだなければ nil
func (w *Worker) LastFrame() *camera.Frame {
	w.latestMutex.RLock()
	defer w.latestMutex.RUnlock()
	return w.latestFrame
}

// run は停止が通知されるまで取得を繰り返す。一時的なエラーでは終了しない
func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	w.logger.Debug().Msg("プレビューを開始しました")
	defer w.logger.Debug().Msg("プレビューを終了しました")

	for {
		if ctx.Err() != nil {
			return
		}

		if !w.handle.IsConnected() {
			if !sleep(ctx, w.cfg.IdleInterval) {
				return
			}
			continue
		}

		frame, err := w.captureOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Msg("プレビュー取得に失敗しました")
			if !sleep(ctx, w.cfg.ErrorPause) {
				return
			}
			continue
		}

		w.store(frame)

		// データ到着までブロックしないドライバーはフレーム間隔だけ待つ
		if !w.handle.Info().BlocksUntilReady {
			if !sleep(ctx, frameInterval(w.handle.Info().FPS)) {
				return
			}
		}
	}
}

// captureOnce は排他アクセスを取得して1フレームを取得する
// ドライバーの panic もエラーとして扱う
func (w *Worker) captureOnce(ctx context.Context) (frame *camera.Frame, err error) {
	lctx, cancel := context.WithTimeout(ctx, w.cfg.LeaseTimeout)
	lease, err := w.handle.Acquire(lctx)
	cancel()
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	defer func() {
		if r := recover(); r != nil {
			frame = nil
			err = fmt.Errorf("ドライバーで panic が発生しました: %v", r)
		}
	}()

	return lease.Camera().CaptureFrame(ctx)
}

// store は最新フレームを保存し、配信レート上限の範囲で購読者に渡す
func (w *Worker) store(frame *camera.Frame) {
	w.latestMutex.Lock()
	w.latestFrame = frame
	now := time.Now()
	due := w.publish != nil && now.Sub(w.lastPublish) >= frameInterval(w.cfg.DisplayFPS)
	if due {
		w.lastPublish = now
	}
	w.latestMutex.Unlock()

	if due {
		w.publish(frame)
	}
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}

// sleep は d だけ待つ。ctx が先に終了したら false を返す
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
