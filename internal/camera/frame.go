package camera

import (
	"fmt"
	"time"
)

// DepthUnit は深度バッファの単位
type DepthUnit string

const (
	DepthMillimeters DepthUnit = "mm" // uint16 のミリメートル（センサー生値）
	DepthMeters      DepthUnit = "m"  // float32 のメートル
)

// ColorImage は 8bit 3チャンネル (RGB) の画像バッファ
type ColorImage struct {
	Width  int
	Height int
	Pix    []uint8 // len == Width*Height*3
}

// NewColorImage は指定サイズのゼロ画像を作成する
func NewColorImage(width, height int) *ColorImage {
	return &ColorImage{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// Clone は画素バッファを含めた複製を返す
func (c *ColorImage) Clone() *ColorImage {
	if c == nil {
		return nil
	}
	pix := make([]uint8, len(c.Pix))
	copy(pix, c.Pix)
	return &ColorImage{Width: c.Width, Height: c.Height, Pix: pix}
}

// Valid はバッファ長が解像度と一致するか確認する
func (c *ColorImage) Valid() bool {
	return c != nil && c.Width > 0 && c.Height > 0 && len(c.Pix) == c.Width*c.Height*3
}

// DepthImage は単位付きの深度バッファ
// Unit が DepthMillimeters なら Millimeters、DepthMeters なら Meters が使われる
type DepthImage struct {
	Width       int
	Height      int
	Unit        DepthUnit
	Millimeters []uint16
	Meters      []float32
}

// Clone は深度バッファを含めた複製を返す
func (d *DepthImage) Clone() *DepthImage {
	if d == nil {
		return nil
	}
	out := &DepthImage{Width: d.Width, Height: d.Height, Unit: d.Unit}
	if d.Millimeters != nil {
		out.Millimeters = make([]uint16, len(d.Millimeters))
		copy(out.Millimeters, d.Millimeters)
	}
	if d.Meters != nil {
		out.Meters = make([]float32, len(d.Meters))
		copy(out.Meters, d.Meters)
	}
	return out
}

// Valid はバッファ長と単位が整合しているか確認する
func (d *DepthImage) Valid() bool {
	if d == nil || d.Width <= 0 || d.Height <= 0 {
		return false
	}
	n := d.Width * d.Height
	switch d.Unit {
	case DepthMillimeters:
		return len(d.Millimeters) == n
	case DepthMeters:
		return len(d.Meters) == n
	default:
		return false
	}
}

// Frame は1台のカメラから取得した1サンプル
// 構築後は不変として扱う
type Frame struct {
	CameraID    string
	FrameNumber uint64
	Timestamp   time.Time

	Color *ColorImage
	Depth *DepthImage
	Right *ColorImage // ステレオ右画像（2つのカラーセンサーを持つ機種のみ）
}

// Clone はフレームの完全な複製を返す
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{
		CameraID:    f.CameraID,
		FrameNumber: f.FrameNumber,
		Timestamp:   f.Timestamp,
		Color:       f.Color.Clone(),
		Depth:       f.Depth.Clone(),
		Right:       f.Right.Clone(),
	}
}

// validate は全フィールドが揃っているか確認する
func (f *Frame) validate() error {
	if f.CameraID == "" {
		return fmt.Errorf("カメラIDが空です")
	}
	if !f.Color.Valid() {
		return fmt.Errorf("カラー画像が不正です")
	}
	if !f.Depth.Valid() {
		return fmt.Errorf("深度画像が不正です")
	}
	if f.Right != nil && !f.Right.Valid() {
		return fmt.Errorf("右画像が不正です")
	}
	return nil
}
