// Package server は、撮影操作のためのHTTPインターフェースを提供します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// リクエストの検証とエラーの対応付けを担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - カメラ一覧、プレビュー情報、ログの参照
//   - 再検出とキャプチャ要求の受け付け
//   - 連番と保存先の参照・変更
//
// 仕様:
//   - ルーティングとリクエスト検証には gin を使用
//   - プレビューはメタデータのみ返し、画素データは配信しない
//   - グレースフルシャットダウンに対応（上限5秒）
//   - エラーは ErrNotFound → 404、検証エラー → 400、フレームなし → 503、その他 → 500
package server
