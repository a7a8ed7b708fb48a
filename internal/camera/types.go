package camera

import (
	"context"
	"fmt"
	"time"
)

// State はカメラの接続状態を表す
type State string

const (
	StateDisconnected State = "disconnected" // 未接続
	StateConnecting   State = "connecting"   // 接続処理中（外部からは観測されない）
	StateConnected    State = "connected"    // 接続済み
)

// Family はドライバーファミリーの識別子
type Family string

const (
	FamilySynthetic Family = "synthetic" // 決定的な合成カメラ
	FamilyStream    Family = "stream"    // ストリーム型深度センサー（RealSense系）
	FamilyStereo    Family = "stereo"    // ステレオ深度センサー（ZED系）
)

// Settings はカメラに要求する取得設定
type Settings struct {
	Width          int           // 画像幅
	Height         int           // 画像高さ
	FPS            int           // フレームレート
	CollectTimeout time.Duration // CollectFrame の最大待ち時間
}

// DefaultSettings はデフォルト設定 (640x480 @30fps) を返す
func DefaultSettings() Settings {
	return Settings{
		Width:          640,
		Height:         480,
		FPS:            30,
		CollectTimeout: 500 * time.Millisecond,
	}
}

// Validate は設定値の妥当性を検証する
func (s Settings) Validate() error {
	if s.FPS <= 0 || s.FPS > 120 {
		return fmt.Errorf("無効なFPS値: %d", s.FPS)
	}
	if s.Width <= 0 || s.Width > 4096 {
		return fmt.Errorf("無効な幅: %d", s.Width)
	}
	if s.Height <= 0 || s.Height > 4096 {
		return fmt.Errorf("無効な高さ: %d", s.Height)
	}
	if s.CollectTimeout <= 0 {
		return fmt.Errorf("無効な収集タイムアウト: %v", s.CollectTimeout)
	}
	return nil
}

// Info はプレビューのレイアウト等に使うデバイス情報
type Info struct {
	ID     string
	Model  string
	Family Family
	Serial string
	Width  int
	Height int
	FPS    int

	// BlocksUntilReady はドライバー自身がデータ到着までブロックするかどうか
	BlocksUntilReady bool
}

// DeviceDescriptor は列挙で見つかった物理デバイスを表す
type DeviceDescriptor struct {
	Serial string
	Model  string
}

// Camera は全てのカメラドライバーが満たす能力契約
//
// 取得系メソッド (CaptureFrame / TriggerCapture / CollectFrame) と
// Connect / Disconnect は同一インスタンスに対して並行に呼んではならない。
// 呼び出し側は Handle から得た Lease を保持している間だけ呼び出すこと。
type Camera interface {
	// ID は安定したカメラ識別子を返す
	ID() string

	// Info はデバイス情報を返す
	Info() Info

	// FPS はフレームレートを返す
	FPS() int

	// IsConnected は接続済みかどうかを返す
	IsConnected() bool

	// Connect はデバイスセッションを確立する
	Connect(ctx context.Context) error

	// Disconnect はデバイスセッションを解放する（未接続ならなにもしない）
	Disconnect() error

	// CaptureFrame はブロッキングで1フレームを取得する
	CaptureFrame(ctx context.Context) (*Frame, error)

	// TriggerCapture は取得を開始する（結果は CollectFrame で受け取る）
	TriggerCapture(ctx context.Context) error

	// CollectFrame はトリガー済みのフレームをタイムアウト付きで受け取る
	CollectFrame(ctx context.Context) (*Frame, error)

	// CheckConnection はブロックしない生存確認。接続フラグを false にすることはあるが true にはしない
	CheckConnection() bool
}
