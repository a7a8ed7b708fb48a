package camera

import (
	"errors"
	"fmt"
)

// エラー分類。errors.Is で判定する
var (
	ErrConnection        = errors.New("接続エラー")
	ErrCapture           = errors.New("キャプチャエラー")
	ErrCollectionTimeout = errors.New("フレーム収集タイムアウト")
	ErrNotFound          = errors.New("カメラが見つかりません")
	ErrBusy              = errors.New("カメラが使用中です")
)

// DeviceError はカメラ固有の理由を持つエラー
type DeviceError struct {
	CameraID string
	Kind     error  // 上記の分類のいずれか
	Reason   string // デバイス固有の説明
	Err      error  // 下位のエラー（任意）
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("カメラ %s: %v: %s", e.CameraID, e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は分類と下位エラーの両方を返す
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func connectionFailure(id, reason string, err error) error {
	return &DeviceError{CameraID: id, Kind: ErrConnection, Reason: reason, Err: err}
}

func captureFailure(id, reason string, err error) error {
	return &DeviceError{CameraID: id, Kind: ErrCapture, Reason: reason, Err: err}
}

func collectionTimeout(id string) error {
	return &DeviceError{CameraID: id, Kind: ErrCollectionTimeout, Reason: "準備完了のフレームがありません"}
}

func notConnected(id string) error {
	return connectionFailure(id, "接続されていません", nil)
}
