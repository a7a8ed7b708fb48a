package storage

import (
	"image"
	"math"

	"multicam/internal/camera"
)

// MetersToMillimeters はメートルの深度を16bitミリメートルに変換する
// 非有限値は0、範囲外は [0, 65535] に丸める
func MetersToMillimeters(m float32) uint16 {
	v := float64(m)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	mm := math.Round(v * 1000)
	if mm <= 0 {
		return 0
	}
	if mm >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(mm)
}

// DepthToGray16 は深度バッファを16bitミリメートル画像に変換する
func DepthToGray16(d *camera.DepthImage) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, d.Width, d.Height))
	n := d.Width * d.Height

	for i := 0; i < n; i++ {
		var mm uint16
		switch d.Unit {
		case camera.DepthMillimeters:
			mm = d.Millimeters[i]
		case camera.DepthMeters:
			mm = MetersToMillimeters(d.Meters[i])
		}
		// Gray16 はビッグエンディアン
		img.Pix[2*i] = uint8(mm >> 8)
		img.Pix[2*i+1] = uint8(mm)
	}
	return img
}

// ColorToNRGBA はRGB8バッファを不透明な画像に変換する
func ColorToNRGBA(c *camera.ColorImage) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, c.Width, c.Height))
	n := c.Width * c.Height

	for i := 0; i < n; i++ {
		img.Pix[4*i] = c.Pix[3*i]
		img.Pix[4*i+1] = c.Pix[3*i+1]
		img.Pix[4*i+2] = c.Pix[3*i+2]
		img.Pix[4*i+3] = 0xff
	}
	return img
}
