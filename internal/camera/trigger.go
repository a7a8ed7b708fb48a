package camera

import (
	"context"
	"sync"
)

// syncTrigger はネイティブなトリガー/収集を持たないドライバー向けの同期フォールバック
// TriggerCapture の中でブロッキング取得を済ませ、CollectFrame では準備済みの結果を返す
type syncTrigger struct {
	mu    sync.Mutex
	armed bool
	frame *Frame
	err   error
}

// trigger は capture を同期実行して結果を保持する
func (t *syncTrigger) trigger(ctx context.Context, capture func(context.Context) (*Frame, error)) error {
	frame, err := capture(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = true
	t.frame = frame
	t.err = err
	return err
}

// collect は保持している結果を取り出す。トリガーされていなければ収集タイムアウト
func (t *syncTrigger) collect(id string) (*Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return nil, collectionTimeout(id)
	}
	frame, err := t.frame, t.err
	t.armed = false
	t.frame = nil
	t.err = nil
	return frame, err
}

// reset は保持している結果を破棄する
func (t *syncTrigger) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	t.frame = nil
	t.err = nil
}
