package camera

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// SyntheticCamera は決定的なパターンを返す合成カメラ
// 実機が見つからない場合のフォールバックとテストに使う
type SyntheticCamera struct {
	id        string
	settings  Settings
	withRight bool
	seed      uint8

	connected   atomic.Bool
	frameNumber atomic.Uint64
	trig        syncTrigger

	// テスト制御用
	mu                sync.Mutex
	shouldFailConnect bool
	shouldFailTrigger bool
	shouldFailCapture bool
	captureDelay      time.Duration
	block             chan struct{}
	calls             []string
}

// NewSyntheticCamera は新しいSyntheticCameraを作成する
func NewSyntheticCamera(id string, settings Settings) *SyntheticCamera {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))

	return &SyntheticCamera{
		id:       id,
		settings: settings,
		seed:     uint8(h.Sum32()),
	}
}

// WithRightView はステレオ右画像も生成するようにする
func (c *SyntheticCamera) WithRightView() *SyntheticCamera {
	c.withRight = true
	return c
}

// ID はカメラIDを返す
func (c *SyntheticCamera) ID() string { return c.id }

// FPS はフレームレートを返す
func (c *SyntheticCamera) FPS() int { return c.settings.FPS }

// IsConnected は接続状態を返す
func (c *SyntheticCamera) IsConnected() bool { return c.connected.Load() }

// Info はデバイス情報を返す
func (c *SyntheticCamera) Info() Info {
	return Info{
		ID:     c.id,
		Model:  "Synthetic",
		Family: FamilySynthetic,
		Width:  c.settings.Width,
		Height: c.settings.Height,
		FPS:    c.settings.FPS,
	}
}

// Connect は接続を模擬する
func (c *SyntheticCamera) Connect(_ context.Context) error {
	c.record("connect")

	c.mu.Lock()
	fail := c.shouldFailConnect
	c.mu.Unlock()

	if fail {
		return connectionFailure(c.id, "デバイスが見つかりません", nil)
	}
	c.trig.reset()
	c.connected.Store(true)
	return nil
}

// Disconnect は切断を模擬する
func (c *SyntheticCamera) Disconnect() error {
	c.record("disconnect")
	c.connected.Store(false)
	c.trig.reset()
	return nil
}

// CheckConnection は現在の接続フラグを返す
func (c *SyntheticCamera) CheckConnection() bool {
	c.record("check")
	return c.connected.Load()
}

// CaptureFrame は決定的なパターンのフレームを生成する
func (c *SyntheticCamera) CaptureFrame(ctx context.Context) (*Frame, error) {
	if !c.connected.Load() {
		return nil, notConnected(c.id)
	}

	c.mu.Lock()
	block := c.block
	delay := c.captureDelay
	fail := c.shouldFailCapture
	c.mu.Unlock()

	// ハングしたドライバーを模擬する（コンテキストも無視する）
	if block != nil {
		<-block
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, captureFailure(c.id, "取得が中断されました", ctx.Err())
		}
	}

	if fail {
		return nil, captureFailure(c.id, "新しいデータがありません", nil)
	}

	n := c.frameNumber.Add(1) - 1
	frame := &Frame{
		CameraID:    c.id,
		FrameNumber: n,
		Timestamp:   time.Now(),
		Color:       c.pattern(n, 0),
		Depth:       c.depth(n),
	}
	if c.withRight {
		frame.Right = c.pattern(n, 7)
	}
	return frame, nil
}

// TriggerCapture は同期フォールバックで取得を済ませる
func (c *SyntheticCamera) TriggerCapture(ctx context.Context) error {
	if !c.connected.Load() {
		return notConnected(c.id)
	}

	c.mu.Lock()
	fail := c.shouldFailTrigger
	c.mu.Unlock()
	if fail {
		return captureFailure(c.id, "トリガーに失敗しました", nil)
	}

	return c.trig.trigger(ctx, c.CaptureFrame)
}

// CollectFrame はトリガー時に取得済みのフレームを返す
func (c *SyntheticCamera) CollectFrame(_ context.Context) (*Frame, error) {
	if !c.connected.Load() {
		return nil, notConnected(c.id)
	}
	return c.trig.collect(c.id)
}

// pattern はフレーム番号とIDから決まるグラデーション画像を作る
func (c *SyntheticCamera) pattern(n uint64, shift int) *ColorImage {
	img := NewColorImage(c.settings.Width, c.settings.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			i := (y*img.Width + x) * 3
			img.Pix[i] = uint8(x + shift + int(n))
			img.Pix[i+1] = uint8(y + int(n))
			img.Pix[i+2] = c.seed
		}
	}
	return img
}

// depth は 0.5m〜1.5m の範囲の深度（メートル）を作る
func (c *SyntheticCamera) depth(n uint64) *DepthImage {
	w, h := c.settings.Width, c.settings.Height
	d := &DepthImage{Width: w, Height: h, Unit: DepthMeters, Meters: make([]float32, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d.Meters[y*w+x] = 0.5 + float32((x+y+int(n))%1000)/1000
		}
	}
	return d
}

func (c *SyntheticCamera) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// Calls はテスト用にこれまでの呼び出し履歴を返す
func (c *SyntheticCamera) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// SimulateDisconnect はテスト用にケーブル抜けを模擬する
func (c *SyntheticCamera) SimulateDisconnect() {
	c.connected.Store(false)
}

// SetShouldFailConnect はテスト用にConnect失敗を設定する
func (c *SyntheticCamera) SetShouldFailConnect(shouldFail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldFailConnect = shouldFail
}

// SetShouldFailTrigger はテスト用にTriggerCapture失敗を設定する
func (c *SyntheticCamera) SetShouldFailTrigger(shouldFail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldFailTrigger = shouldFail
}

// SetShouldFailCapture はテスト用に取得失敗を設定する
func (c *SyntheticCamera) SetShouldFailCapture(shouldFail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldFailCapture = shouldFail
}

// SetCaptureDelay はテスト用に取得の遅延を設定する
func (c *SyntheticCamera) SetCaptureDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captureDelay = d
}

// SetCaptureBlock はテスト用に取得をブロックさせる。close(ch) で解除される
func (c *SyntheticCamera) SetCaptureBlock(ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = ch
}
