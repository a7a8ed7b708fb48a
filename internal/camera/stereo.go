package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StereoStatus はステレオSDKの戻りコード
type StereoStatus int

const (
	StereoSuccess StereoStatus = iota
	StereoCameraNotDetected
	StereoDetectionIssue
	StereoInvalidParameters
	StereoNoNewData
	StereoFailure
)

func (s StereoStatus) String() string {
	switch s {
	case StereoSuccess:
		return "SUCCESS"
	case StereoCameraNotDetected:
		return "CAMERA_NOT_DETECTED"
	case StereoDetectionIssue:
		return "CAMERA_DETECTION_ISSUE"
	case StereoInvalidParameters:
		return "INVALID_FUNCTION_PARAMETERS"
	case StereoNoNewData:
		return "NO_NEW_DATA_AVAILABLE"
	default:
		return fmt.Sprintf("FAILURE(%d)", int(s))
	}
}

// openFailureReason は Open 失敗時の戻りコードを利用者向けの理由に変換する
func openFailureReason(s StereoStatus) string {
	switch s {
	case StereoCameraNotDetected:
		return "カメラが検出されません。USB接続を確認してください"
	case StereoDetectionIssue:
		return "カメラ検出に問題があります。再接続してください"
	case StereoInvalidParameters:
		return "パラメータが不正です。シリアル番号を確認してください"
	default:
		return fmt.Sprintf("接続エラー: %s", s)
	}
}

// StereoParams はステレオセンサーのオープンパラメータ
type StereoParams struct {
	Width                  int
	Height                 int
	FPS                    int
	DepthMode              string
	DepthStabilization     bool
	DepthMinimumDistanceMM int
	DisableSelfCalibration bool
}

// DefaultStereoParams はデフォルトのオープンパラメータを返す
func DefaultStereoParams() StereoParams {
	return StereoParams{
		DepthMode:              "PERFORMANCE",
		DepthStabilization:     true,
		DepthMinimumDistanceMM: 200,
		DisableSelfCalibration: true,
	}
}

// StereoDevice はオープン済みのステレオセンサー
// Retrieve 系は呼び出し側のバッファに書き込む
type StereoDevice interface {
	Resolution() (width, height int)
	// Grab は新しいフレームが揃うまでブロックする
	Grab() StereoStatus
	RetrieveLeft(dst []uint8) StereoStatus   // RGB8
	RetrieveRight(dst []uint8) StereoStatus  // RGB8
	RetrieveDepth(dst []float32) StereoStatus // メートル
	Alive() bool
	Close()
}

// StereoSDK はステレオセンサーのベンダーSDKとの境界
type StereoSDK interface {
	ListDevices(ctx context.Context) ([]DeviceDescriptor, error)
	Open(serial string, params StereoParams) (StereoDevice, StereoStatus)
}

// stereoGrabTimeout は CaptureFrame の最大待ち時間
const stereoGrabTimeout = 10 * time.Second

type grabResult struct {
	frame *Frame
	err   error
}

// StereoCamera はステレオ深度センサーのドライバー
// TriggerCapture でバックグラウンドの Grab を開始し、CollectFrame で結果を待つ
//
// mu は session の差し替えだけを守る短いロックで、Grab の間は保持しない。
// Grab が応答しなくても CheckConnection / Info / Disconnect は止まらない。
type StereoCamera struct {
	id       string
	desc     DeviceDescriptor
	sdk      StereoSDK
	params   StereoParams
	settings Settings

	mu   sync.Mutex
	sess *stereoSession

	connected   atomic.Bool
	inFlight    atomic.Bool
	pending     chan grabResult
	frameNumber atomic.Uint64
}

// stereoSession は1回の接続で使うデバイスと再利用バッファ
type stereoSession struct {
	dev    StereoDevice
	width  int
	height int

	// Grab ごとに再利用するバッファ。フレームにはコピーを渡す
	bufMu sync.Mutex
	left  []uint8
	right []uint8
	depth []float32
}

// NewStereoCamera は新しいStereoCameraを作成する
func NewStereoCamera(sdk StereoSDK, desc DeviceDescriptor, params StereoParams, settings Settings) *StereoCamera {
	params.Width = settings.Width
	params.Height = settings.Height
	params.FPS = settings.FPS

	return &StereoCamera{
		id:       "ZED_" + desc.Serial,
		desc:     desc,
		sdk:      sdk,
		params:   params,
		settings: settings,
		pending:  make(chan grabResult, 1),
	}
}

// session は現在のセッションを返す（未接続なら nil）
func (c *StereoCamera) session() *stereoSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// ID はカメラIDを返す
func (c *StereoCamera) ID() string { return c.id }

// FPS はフレームレートを返す
func (c *StereoCamera) FPS() int { return c.settings.FPS }

// IsConnected は接続状態を返す
func (c *StereoCamera) IsConnected() bool { return c.connected.Load() }

// Info はデバイス情報を返す。未接続なら要求した解像度を返す
func (c *StereoCamera) Info() Info {
	w, h := c.settings.Width, c.settings.Height
	if sess := c.session(); sess != nil {
		w, h = sess.width, sess.height
	}
	return Info{
		ID:               c.id,
		Model:            c.desc.Model,
		Family:           FamilyStereo,
		Serial:           c.desc.Serial,
		Width:            w,
		Height:           h,
		FPS:              c.settings.FPS,
		BlocksUntilReady: true,
	}
}

// Connect はデバイスをオープンしてバッファを確保する
func (c *StereoCamera) Connect(_ context.Context) error {
	if c.connected.Load() {
		return nil
	}

	dev, status := c.sdk.Open(c.desc.Serial, c.params)
	if status != StereoSuccess {
		return connectionFailure(c.id, openFailureReason(status), nil)
	}

	w, h := dev.Resolution()
	sess := &stereoSession{
		dev:    dev,
		width:  w,
		height: h,
		left:   make([]uint8, w*h*3),
		right:  make([]uint8, w*h*3),
		depth:  make([]float32, w*h),
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	c.drainPending()
	c.connected.Store(true)
	return nil
}

// Disconnect は進行中の Grab を待ってからデバイスを閉じる
func (c *StereoCamera) Disconnect() error {
	c.connected.Store(false)

	if c.inFlight.Load() {
		select {
		case <-c.pending:
		case <-time.After(c.settings.CollectTimeout):
		}
	}

	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		sess.dev.Close()
	}
	c.drainPending()
	return nil
}

// CheckConnection はデバイスの生存を確認する
func (c *StereoCamera) CheckConnection() bool {
	if !c.connected.Load() {
		return false
	}

	sess := c.session()
	if sess == nil || !sess.dev.Alive() {
		c.connected.Store(false)
		return false
	}
	return true
}

// CaptureFrame は Grab を実行して結果を待つ
func (c *StereoCamera) CaptureFrame(ctx context.Context) (*Frame, error) {
	if !c.connected.Load() {
		return nil, notConnected(c.id)
	}
	if err := c.startGrab(); err != nil {
		return nil, err
	}

	select {
	case res := <-c.pending:
		return res.frame, res.err
	case <-time.After(stereoGrabTimeout):
		return nil, captureFailure(c.id, "Grab が応答しません", nil)
	case <-ctx.Done():
		return nil, captureFailure(c.id, "取得が中断されました", ctx.Err())
	}
}

// TriggerCapture はバックグラウンドで Grab を開始して即座に戻る
func (c *StereoCamera) TriggerCapture(_ context.Context) error {
	if !c.connected.Load() {
		return notConnected(c.id)
	}
	return c.startGrab()
}

// CollectFrame はトリガー済みの Grab の結果を CollectTimeout まで待つ
func (c *StereoCamera) CollectFrame(ctx context.Context) (*Frame, error) {
	if !c.connected.Load() {
		return nil, notConnected(c.id)
	}

	if !c.inFlight.Load() {
		select {
		case res := <-c.pending:
			return res.frame, res.err
		default:
			return nil, collectionTimeout(c.id)
		}
	}

	select {
	case res := <-c.pending:
		return res.frame, res.err
	case <-time.After(c.settings.CollectTimeout):
		return nil, collectionTimeout(c.id)
	case <-ctx.Done():
		return nil, collectionTimeout(c.id)
	}
}

// startGrab は Grab を1つだけ進行させる
func (c *StereoCamera) startGrab() error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return captureFailure(c.id, "前回の取得がまだ進行中です", nil)
	}
	c.drainPending()

	go func() {
		frame, err := c.grab()
		c.pending <- grabResult{frame: frame, err: err}
		c.inFlight.Store(false)
	}()
	return nil
}

func (c *StereoCamera) drainPending() {
	select {
	case <-c.pending:
	default:
	}
}

// grab は1フレームを取得し、再利用バッファからコピーしたフレームを返す
// c.mu は取らず、取得時点のセッションのバッファだけをロックする
func (c *StereoCamera) grab() (*Frame, error) {
	sess := c.session()
	if sess == nil {
		return nil, notConnected(c.id)
	}

	sess.bufMu.Lock()
	defer sess.bufMu.Unlock()

	dev := sess.dev
	if status := dev.Grab(); status != StereoSuccess {
		return nil, captureFailure(c.id, fmt.Sprintf("Grab に失敗しました: %s", status), nil)
	}
	if status := dev.RetrieveLeft(sess.left); status != StereoSuccess {
		return nil, captureFailure(c.id, fmt.Sprintf("左画像の取得に失敗しました: %s", status), nil)
	}
	if status := dev.RetrieveDepth(sess.depth); status != StereoSuccess {
		return nil, captureFailure(c.id, fmt.Sprintf("深度の取得に失敗しました: %s", status), nil)
	}

	w, h := sess.width, sess.height
	frame := &Frame{
		CameraID:    c.id,
		FrameNumber: c.frameNumber.Load(),
		Timestamp:   time.Now(),
		Color:       &ColorImage{Width: w, Height: h, Pix: append([]uint8(nil), sess.left...)},
		Depth: &DepthImage{
			Width:  w,
			Height: h,
			Unit:   DepthMeters,
			Meters: append([]float32(nil), sess.depth...),
		},
	}
	// 右画像は任意
	if status := dev.RetrieveRight(sess.right); status == StereoSuccess {
		frame.Right = &ColorImage{Width: w, Height: h, Pix: append([]uint8(nil), sess.right...)}
	}

	if err := frame.validate(); err != nil {
		return nil, captureFailure(c.id, "フレームが不正です", err)
	}
	c.frameNumber.Add(1)
	return frame, nil
}
