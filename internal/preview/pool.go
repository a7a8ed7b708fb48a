package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"multicam/internal/camera"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Pool はカメラごとのプレビューワーカーをまとめて管理する
type Pool struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string

	subMu       sync.Mutex
	subscribers []chan *camera.Frame
}

// NewPool は新しいPoolを作成する
func NewPool(cfg Config, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		logger:  logger.With().Str("component", "preview_pool").Logger(),
		workers: make(map[string]*Worker),
	}
}

// Start は各カメラのワーカーを開始する。既に動いているカメラはそのまま
func (p *Pool) Start(ctx context.Context, handles []*camera.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if _, exists := p.workers[h.ID()]; exists {
			continue
		}
		w := NewWorker(h, p.cfg, p.logger, p.broadcast)
		if err := w.Start(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		p.workers[h.ID()] = w
		p.order = append(p.order, h.ID())
	}

	p.logger.Info().Int("workers", len(p.workers)).Msg("プレビューを開始しました")
	return errors.Join(errs...)
}

// StopAll は全ワーカーに停止を通知し、並行して終了を待つ
// 全体として timeout 程度で必ず戻る。期限内に止まらなかったワーカーはエラーにまとめる
func (p *Pool) StopAll(timeout time.Duration) error {
	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.order))
	for _, id := range p.order {
		workers = append(workers, p.workers[id])
	}
	p.workers = make(map[string]*Worker)
	p.order = nil
	p.mu.Unlock()

	start := time.Now()

	// g.Wait() は最初のエラーしか返さないため、止まらなかった全ワーカーを報告できるよう
	// 結果はワーカーごとに保持して最後にまとめる
	var g errgroup.Group
	results := make([]error, len(workers))
	for i, w := range workers {
		g.Go(func() error {
			results[i] = w.Stop(timeout)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}

	p.logger.Info().
		Int("workers", len(workers)).
		Int("forced", len(errs)).
		Dur("elapsed", time.Since(start)).
		Msg("プレビューを停止しました")
	return errors.Join(errs...)
}

// LastFrame は指定カメラの最新フレームの複製を返す
// ワーカーがなければ ErrNotFound、フレームがまだなければ (nil, nil)
func (p *Pool) LastFrame(id string) (*camera.Frame, error) {
	p.mu.RLock()
	w, exists := p.workers[id]
	p.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", camera.ErrNotFound, id)
	}
	return w.LastFrame().Clone(), nil
}

// LastFrames は全カメラの最新フレームの複製をカメラ順に返す（未取得のカメラは含まない）
func (p *Pool) LastFrames() []*camera.Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()

	frames := make([]*camera.Frame, 0, len(p.order))
	for _, id := range p.order {
		if f := p.workers[id].LastFrame(); f != nil {
			frames = append(frames, f.Clone())
		}
	}
	return frames
}

// Subscribe は配信レート上限で間引かれたフレームを受け取るチャンネルを返す
// 受信が追いつかない場合は古いフレームを破棄する
func (p *Pool) Subscribe(buffer int) <-chan *camera.Frame {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *camera.Frame, buffer)

	p.subMu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.subMu.Unlock()
	return ch
}

// Unsubscribe は購読を解除する。以後そのチャンネルには配信しない
func (p *Pool) Unsubscribe(sub <-chan *camera.Frame) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for i, ch := range p.subscribers {
		if ch == sub {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

// broadcast はフレームを全購読者に渡す
func (p *Pool) broadcast(frame *camera.Frame) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for _, ch := range p.subscribers {
		select {
		case ch <- frame:
		default:
			// チャンネルがフルの場合は古いフレームを破棄
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}
