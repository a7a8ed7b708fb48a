package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StreamProfile はストリーム型センサーに要求するプロファイル
type StreamProfile struct {
	Width  int
	Height int
	FPS    int
}

func (p StreamProfile) String() string {
	return fmt.Sprintf("%dx%d@%d", p.Width, p.Height, p.FPS)
}

// fallbackStreamProfile は要求プロファイルが拒否されたときに再試行するプロファイル
var fallbackStreamProfile = StreamProfile{Width: 640, Height: 480, FPS: 30}

// streamWaitTimeout は CaptureFrame で ctx に期限がない場合の待ち時間
const streamWaitTimeout = 10 * time.Second

// StreamFrameSet はパイプラインが返すカラー+深度の組
// バッファはSDK側の所有で、次の WaitForFrames で再利用されうる
type StreamFrameSet struct {
	Width  int
	Height int
	Color  []uint8  // RGB8
	Depth  []uint16 // ミリメートル
}

// StreamPipeline は開始済みのストリーミングセッション
type StreamPipeline interface {
	// WaitForFrames は次のフレームセットを待つ
	WaitForFrames(timeout time.Duration) (*StreamFrameSet, error)
	// Alive はデバイスがまだ応答するかを返す。ブロックしない
	Alive() bool
	// Stop はパイプラインを停止する
	Stop() error
}

// StreamSDK はストリーム型センサーのベンダーSDKとの境界
type StreamSDK interface {
	QueryDevices(ctx context.Context) ([]DeviceDescriptor, error)
	StartPipeline(ctx context.Context, serial string, profile StreamProfile) (StreamPipeline, error)
}

// StreamCamera はストリーム型深度センサーのドライバー
// ネイティブなトリガー/収集を持たないため同期フォールバックを使う
type StreamCamera struct {
	id       string
	desc     DeviceDescriptor
	sdk      StreamSDK
	settings Settings

	mu       sync.Mutex
	pipeline StreamPipeline
	profile  StreamProfile

	connected   atomic.Bool
	frameNumber uint64
	trig        syncTrigger
}

// NewStreamCamera は新しいStreamCameraを作成する
func NewStreamCamera(sdk StreamSDK, desc DeviceDescriptor, settings Settings) *StreamCamera {
	return &StreamCamera{
		id:       "RealSense_" + desc.Serial,
		desc:     desc,
		sdk:      sdk,
		settings: settings,
		profile:  StreamProfile{Width: settings.Width, Height: settings.Height, FPS: settings.FPS},
	}
}

// ID はカメラIDを返す
func (c *StreamCamera) ID() string { return c.id }

// FPS は実際に確定したフレームレートを返す
func (c *StreamCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.FPS
}

// IsConnected は接続状態を返す
func (c *StreamCamera) IsConnected() bool { return c.connected.Load() }

// Info はデバイス情報を返す
func (c *StreamCamera) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:     c.id,
		Model:  c.desc.Model,
		Family: FamilyStream,
		Serial: c.desc.Serial,
		Width:  c.profile.Width,
		Height: c.profile.Height,
		FPS:    c.profile.FPS,
	}
}

// Connect はパイプラインを開始する
// 要求プロファイルが拒否された場合はフォールバックプロファイルで再試行する
func (c *StreamCamera) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	want := StreamProfile{Width: c.settings.Width, Height: c.settings.Height, FPS: c.settings.FPS}
	pipeline, err := c.sdk.StartPipeline(ctx, c.desc.Serial, want)
	if err != nil && want != fallbackStreamProfile {
		pipeline, err = c.sdk.StartPipeline(ctx, c.desc.Serial, fallbackStreamProfile)
		want = fallbackStreamProfile
	}
	if err != nil {
		return connectionFailure(c.id, "ストリームプロファイルが拒否されました", err)
	}

	c.mu.Lock()
	c.pipeline = pipeline
	c.profile = want
	c.mu.Unlock()

	c.trig.reset()
	c.connected.Store(true)
	return nil
}

// Disconnect はパイプラインを停止する
func (c *StreamCamera) Disconnect() error {
	c.connected.Store(false)
	c.trig.reset()

	c.mu.Lock()
	pipeline := c.pipeline
	c.pipeline = nil
	c.mu.Unlock()

	if pipeline == nil {
		return nil
	}
	if err := pipeline.Stop(); err != nil {
		return connectionFailure(c.id, "パイプラインの停止に失敗しました", err)
	}
	return nil
}

// CheckConnection はパイプラインの生存を確認する
func (c *StreamCamera) CheckConnection() bool {
	if !c.connected.Load() {
		return false
	}

	c.mu.Lock()
	pipeline := c.pipeline
	c.mu.Unlock()

	if pipeline == nil || !pipeline.Alive() {
		c.connected.Store(false)
		return false
	}
	return true
}

// CaptureFrame は次のフレームセットを待ってコピーを返す
func (c *StreamCamera) CaptureFrame(ctx context.Context) (*Frame, error) {
	if !c.connected.Load() {
		return nil, notConnected(c.id)
	}

	c.mu.Lock()
	pipeline := c.pipeline
	c.mu.Unlock()
	if pipeline == nil {
		return nil, notConnected(c.id)
	}

	timeout := streamWaitTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, captureFailure(c.id, "取得期限を過ぎています", ctx.Err())
		}
	}

	set, err := pipeline.WaitForFrames(timeout)
	if err != nil {
		return nil, captureFailure(c.id, "フレームを受信できませんでした", err)
	}
	if set == nil || len(set.Color) == 0 || len(set.Depth) == 0 {
		return nil, captureFailure(c.id, "カラーまたは深度フレームが欠落しています", nil)
	}

	color := make([]uint8, len(set.Color))
	copy(color, set.Color)
	depth := make([]uint16, len(set.Depth))
	copy(depth, set.Depth)

	frame := &Frame{
		CameraID:    c.id,
		FrameNumber: c.frameNumber,
		Timestamp:   time.Now(),
		Color:       &ColorImage{Width: set.Width, Height: set.Height, Pix: color},
		Depth: &DepthImage{
			Width:       set.Width,
			Height:      set.Height,
			Unit:        DepthMillimeters,
			Millimeters: depth,
		},
	}
	if err := frame.validate(); err != nil {
		return nil, captureFailure(c.id, "フレームセットが不正です", err)
	}
	c.frameNumber++
	return frame, nil
}

// TriggerCapture は同期フォールバックで取得を済ませる
func (c *StreamCamera) TriggerCapture(ctx context.Context) error {
	if !c.connected.Load() {
		return notConnected(c.id)
	}
	return c.trig.trigger(ctx, c.CaptureFrame)
}

// CollectFrame はトリガー時に取得済みのフレームを返す
func (c *StreamCamera) CollectFrame(_ context.Context) (*Frame, error) {
	if !c.connected.Load() {
		return nil, notConnected(c.id)
	}
	return c.trig.collect(c.id)
}
