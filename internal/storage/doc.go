// Package storage キャプチャ結果のデータセットへの保存を担う
//
// # ディレクトリ構成
//
//	<root>/<YYYYMMDD>/<照明>/<背景ID>/seq_<NNN>/
//	    metadata.json
//	    <時刻>_<カメラID>_frame_<NNNN>_RGB.png
//	    <時刻>_<カメラID>_frame_<NNNN>_Depth.tiff     (16bit ミリメートル)
//	    <時刻>_<カメラID>_frame_<NNNN>_RGB_right.png  (任意)
//	    <時刻>_<カメラID>_frame_<NNNN>_PC.ply         (プレースホルダー)
//
// 同じキーへの再保存はファイルを追加するだけで、既存ファイルは上書きしない。
package storage
