// Package capture 複数カメラの同期キャプチャラウンドを担う
//
// # 仕様
// - ラウンド開始時点の接続済みカメラのスナップショットだけを対象にする
// - 全カメラのトリガーを発行してから収集を始める（カメラ間の時間ずれを最小化する）
// - トリガーに失敗したカメラは収集しない。再トリガーやロールバックはしない
// - ラウンド中は各カメラの Lease を保持し、プレビューの取得と重ならない
package capture
