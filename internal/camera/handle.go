package camera

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Handle はカメラへの排他アクセスを仲介する
// プレビュー、ヘルスモニター、キャプチャラウンドは全て Handle 経由でカメラを使う
type Handle struct {
	cam Camera
	sem *semaphore.Weighted

	// 検出し直しで一覧から外れたら true。以後ヘルスモニターは触らない
	retired atomic.Bool
}

// NewHandle は新しいHandleを作成する
func NewHandle(cam Camera) *Handle {
	return &Handle{
		cam: cam,
		sem: semaphore.NewWeighted(1),
	}
}

// ID はカメラIDを返す
func (h *Handle) ID() string { return h.cam.ID() }

// Info はデバイス情報を返す
func (h *Handle) Info() Info { return h.cam.Info() }

// IsConnected は接続状態を返す。ロックを取らない
func (h *Handle) IsConnected() bool { return h.cam.IsConnected() }

// State は接続状態を返す
func (h *Handle) State() State {
	if h.cam.IsConnected() {
		return StateConnected
	}
	return StateDisconnected
}

// Retired は一覧から外されたかを返す
func (h *Handle) Retired() bool { return h.retired.Load() }

func (h *Handle) retire() { h.retired.Store(true) }

// Acquire は排他アクセス権を取得する。ctx が終了すると ErrBusy を返す
// 空いていれば ctx が終了済みでも取得できる
func (h *Handle) Acquire(ctx context.Context) (*Lease, error) {
	if lease, ok := h.TryAcquire(); ok {
		return lease, nil
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, &DeviceError{
			CameraID: h.cam.ID(),
			Kind:     ErrBusy,
			Reason:   "排他アクセスを取得できませんでした",
			Err:      err,
		}
	}
	return &Lease{h: h}, nil
}

// TryAcquire は待たずに排他アクセス権の取得を試みる
func (h *Handle) TryAcquire() (*Lease, bool) {
	if !h.sem.TryAcquire(1) {
		return nil, false
	}
	return &Lease{h: h}, true
}

// Lease はカメラへの排他アクセス権
type Lease struct {
	h    *Handle
	once sync.Once
}

// Camera は保持中のカメラを返す
func (l *Lease) Camera() Camera { return l.h.cam }

// Release はアクセス権を返却する。複数回呼んでも安全
func (l *Lease) Release() {
	l.once.Do(func() {
		l.h.sem.Release(1)
	})
}
