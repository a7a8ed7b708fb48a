package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Clone(t *testing.T) {
	var nilFrame *Frame
	assert.Nil(t, nilFrame.Clone())

	original := &Frame{
		CameraID:    "ZED_1",
		FrameNumber: 7,
		Timestamp:   time.Unix(1700000000, 0),
		Color:       &ColorImage{Width: 1, Height: 1, Pix: []uint8{1, 2, 3}},
		Depth:       &DepthImage{Width: 1, Height: 1, Unit: DepthMeters, Meters: []float32{1.5}},
		Right:       &ColorImage{Width: 1, Height: 1, Pix: []uint8{4, 5, 6}},
	}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original, clone)
	assert.NotSame(t, original.Color, clone.Color)
	assert.NotSame(t, original.Depth, clone.Depth)
	assert.NotSame(t, original.Right, clone.Right)
	assert.Nil(t, clone.Depth.Millimeters)

	clone.Color.Pix[0] = 99
	clone.Depth.Meters[0] = 0
	clone.Right.Pix[0] = 99
	assert.Equal(t, uint8(1), original.Color.Pix[0])
	assert.Equal(t, float32(1.5), original.Depth.Meters[0])
	assert.Equal(t, uint8(4), original.Right.Pix[0])
}

func TestFrame_CloneWithoutRight(t *testing.T) {
	original := &Frame{
		CameraID: "RealSense_1",
		Color:    &ColorImage{Width: 1, Height: 1, Pix: []uint8{1, 2, 3}},
		Depth:    &DepthImage{Width: 1, Height: 1, Unit: DepthMillimeters, Millimeters: []uint16{900}},
	}

	clone := original.Clone()
	assert.Nil(t, clone.Right)
	assert.Equal(t, []uint16{900}, clone.Depth.Millimeters)
	assert.Nil(t, clone.Depth.Meters)
}
