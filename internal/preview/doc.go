// Package preview カメラごとの連続取得（ライブビュー）を担う
//
// # 仕様
// - カメラ1台につき1つのワーカーがキャプチャとは独立に動く
// - 取得のたびに Lease を取り直すので、キャプチャラウンドとは短い待ちで交互に動く
// - 一時的な取得エラーではワーカーは終了しない（ログを出して ErrorPause だけ待つ）
// - 停止は通知してから上限付きで待つ。止まらないワーカーは切り離してエラーを記録する
package preview
