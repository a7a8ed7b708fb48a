// Package camera 深度カメラの抽象化とデバイス管理を担う
//
// # 責務
// - カメラ能力契約 (Camera) の定義
// - ドライバーファミリー（合成、ストリーム型、ステレオ型）の実装
// - カメラごとの排他アクセス (Handle / Lease)
// - 検出とヘルスモニターによる自動再接続 (Manager)
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 接続されている深度カメラを列挙して接続したい
// - 複数の利用者（プレビュー、キャプチャ、ヘルスチェック）からカメラを安全に共有したい
// - 実機なしで動作確認やテストを行いたい（SyntheticCamera）
//
// # 仕様
// - 列挙順はドライバーの登録順（ストリーム型、ステレオ型）
// - 実機が0台の場合は合成カメラで補う
// - 取得系の呼び出しは必ず Lease を保持して行う
// - ヘルスモニターは使用中のカメラをスキップし、切断を検出したら Disconnect → Connect を行う
// - ベンダーSDKは StreamSDK / StereoSDK の境界インターフェース越しに使う
package camera
