package storage

import (
	"context"
	"encoding/json"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"multicam/internal/camera"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func testFrame(id string, n uint64) *camera.Frame {
	color := camera.NewColorImage(3, 2)
	for i := range color.Pix {
		color.Pix[i] = uint8(i * 10)
	}
	return &camera.Frame{
		CameraID:    id,
		FrameNumber: n,
		Timestamp:   time.Now(),
		Color:       color,
		Depth: &camera.DepthImage{
			Width:  3,
			Height: 2,
			Unit:   camera.DepthMeters,
			Meters: []float32{1.5, float32(math.NaN()), float32(math.Inf(1)), 0.2, -1, 70},
		},
	}
}

func testMetadata() Metadata {
	return Metadata{
		Lighting:       LightingDark,
		BackgroundID:   "wall_01",
		SequenceNumber: 7,
		Timestamp:      time.Unix(1700000000, 500_000_000),
	}
}

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "dataset")
	w, err := NewWriter(root, zerolog.Nop())
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 123_000_000, time.Local) }
	return w, root
}

func listFiles(t *testing.T, dir, suffix string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestMetersToMillimeters(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want uint16
	}{
		{name: "1.5m", in: 1.5, want: 1500},
		{name: "zero", in: 0, want: 0},
		{name: "rounding", in: 0.2004, want: 200},
		{name: "NaN", in: float32(math.NaN()), want: 0},
		{name: "+Inf", in: float32(math.Inf(1)), want: 0},
		{name: "-Inf", in: float32(math.Inf(-1)), want: 0},
		{name: "negative", in: -2, want: 0},
		{name: "too far", in: 70, want: 65535},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MetersToMillimeters(tt.in))
		})
	}
}

func TestMetadata_Validate(t *testing.T) {
	valid := testMetadata()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*Metadata)
	}{
		{name: "unknown lighting", modify: func(m *Metadata) { m.Lighting = "Bright" }},
		{name: "empty background", modify: func(m *Metadata) { m.BackgroundID = "" }},
		{name: "path traversal", modify: func(m *Metadata) { m.BackgroundID = "../etc" }},
		{name: "space", modify: func(m *Metadata) { m.BackgroundID = "white wall" }},
		{name: "too long", modify: func(m *Metadata) { m.BackgroundID = strings.Repeat("a", 101) }},
		{name: "negative sequence", modify: func(m *Metadata) { m.SequenceNumber = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMetadata()
			tt.modify(&m)
			assert.ErrorIs(t, m.Validate(), ErrInvalidMetadata)
		})
	}
}

func TestSessionDir(t *testing.T) {
	date := time.Date(2024, 5, 6, 0, 0, 0, 0, time.Local)
	got := SessionDir("/data", date, testMetadata())
	assert.Equal(t, filepath.Join("/data", "20240506", "Dark", "wall_01", "seq_007"), got)
}

func TestWriter_SaveTwoCameras(t *testing.T) {
	w, root := newTestWriter(t)
	frames := []*camera.Frame{testFrame("A", 0), testFrame("B", 0)}

	dir, err := w.Save(context.Background(), frames, testMetadata(), DefaultSaveSettings())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "20240506", "Dark", "wall_01", "seq_007"), dir)

	rgb := listFiles(t, dir, "_RGB.png")
	require.Len(t, rgb, 2)
	assert.NotEqual(t, rgb[0], rgb[1])
	assert.Len(t, listFiles(t, dir, "_Depth.tiff"), 2)
	assert.Len(t, listFiles(t, dir, MetadataFileName), 1)
	assert.Empty(t, listFiles(t, dir, ".ply"))

	assert.Equal(t, []string{
		"20240506T070809123_A_frame_0000_RGB.png",
		"20240506T070809123_B_frame_0000_RGB.png",
	}, rgb)

	var rec map[string]any
	data, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "Dark", rec["lighting"])
	assert.Equal(t, "wall_01", rec["background_id"])
	assert.EqualValues(t, 7, rec["sequence_number"])
	assert.InDelta(t, 1700000000.5, rec["timestamp"], 1e-3)
}

func TestWriter_ResaveAppends(t *testing.T) {
	w, _ := newTestWriter(t)
	frames := []*camera.Frame{testFrame("A", 0)}

	dir1, err := w.Save(context.Background(), frames, testMetadata(), DefaultSaveSettings())
	require.NoError(t, err)
	dir2, err := w.Save(context.Background(), frames, testMetadata(), DefaultSaveSettings())
	require.NoError(t, err)

	// 時刻を固定しているのでファイル名が衝突するが、上書きせずに追加される
	assert.Equal(t, dir1, dir2)
	assert.Len(t, listFiles(t, dir1, ".png"), 2)
	assert.Len(t, listFiles(t, dir1, ".tiff"), 2)
	assert.Len(t, listFiles(t, dir1, MetadataFileName), 1)
}

func TestWriter_DepthArtifactIsMillimeters(t *testing.T) {
	w, _ := newTestWriter(t)

	dir, err := w.Save(context.Background(), []*camera.Frame{testFrame("A", 3)}, testMetadata(), DefaultSaveSettings())
	require.NoError(t, err)

	names := listFiles(t, dir, "_Depth.tiff")
	require.Len(t, names, 1)
	assert.Contains(t, names[0], "_A_frame_0003_")

	f, err := os.Open(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	defer f.Close()

	img, err := tiff.Decode(f)
	require.NoError(t, err)

	want := []uint16{1500, 0, 0, 200, 0, 65535}
	for i, v := range want {
		r, _, _, _ := img.At(i%3, i/3).RGBA()
		assert.Equal(t, uint32(v), r, "pixel %d", i)
	}
}

func TestWriter_ColorArtifactRoundTrips(t *testing.T) {
	w, _ := newTestWriter(t)
	frame := testFrame("A", 0)

	dir, err := w.Save(context.Background(), []*camera.Frame{frame}, testMetadata(), SaveSettings{SaveRGB: true})
	require.NoError(t, err)
	assert.Empty(t, listFiles(t, dir, ".tiff"))

	names := listFiles(t, dir, "_RGB.png")
	require.Len(t, names, 1)

	f, err := os.Open(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	r, g, b, a := img.At(1, 0).RGBA()
	assert.Equal(t, uint32(frame.Color.Pix[3])*0x101, r)
	assert.Equal(t, uint32(frame.Color.Pix[4])*0x101, g)
	assert.Equal(t, uint32(frame.Color.Pix[5])*0x101, b)
	assert.Equal(t, uint32(0xffff), a)
}

func TestWriter_OptionalArtifacts(t *testing.T) {
	w, _ := newTestWriter(t)
	frame := testFrame("ZED_1", 0)
	frame.Right = frame.Color.Clone()

	settings := SaveSettings{SaveRGB: true, SaveDepth: true, SavePointCloud: true, SaveRightView: true}
	dir, err := w.Save(context.Background(), []*camera.Frame{frame}, testMetadata(), settings)
	require.NoError(t, err)

	assert.Len(t, listFiles(t, dir, "_RGB_right.png"), 1)
	ply := listFiles(t, dir, "_PC.ply")
	require.Len(t, ply, 1)

	data, err := os.ReadFile(filepath.Join(dir, ply[0]))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "ply\nformat ascii 1.0\n"))
}

func TestWriter_BrokenFrameDoesNotAbortOthers(t *testing.T) {
	w, _ := newTestWriter(t)
	broken := testFrame("A", 0)
	broken.Color = nil

	dir, err := w.Save(context.Background(), []*camera.Frame{broken, testFrame("B", 0)}, testMetadata(), DefaultSaveSettings())
	require.NoError(t, err)

	rgb := listFiles(t, dir, "_RGB.png")
	require.Len(t, rgb, 1)
	assert.Contains(t, rgb[0], "_B_")
	assert.Len(t, listFiles(t, dir, "_Depth.tiff"), 2)
}

func TestWriter_RejectsInvalidMetadata(t *testing.T) {
	w, _ := newTestWriter(t)
	meta := testMetadata()
	meta.BackgroundID = "../../escape"

	_, err := w.Save(context.Background(), []*camera.Frame{testFrame("A", 0)}, meta, DefaultSaveSettings())
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestWriter_SetRootDir(t *testing.T) {
	w, _ := newTestWriter(t)
	newRoot := filepath.Join(t.TempDir(), "nested", "root")

	require.NoError(t, w.SetRootDir(newRoot))
	assert.Equal(t, newRoot, w.RootDir())
	assert.DirExists(t, newRoot)

	assert.ErrorIs(t, w.SetRootDir(""), ErrStorage)

	// ファイルの下にはディレクトリを作れない
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.ErrorIs(t, w.SetRootDir(filepath.Join(file, "root")), ErrStorage)
	assert.Equal(t, newRoot, w.RootDir())
}

func TestWriter_UnwritableSessionDir(t *testing.T) {
	w, root := newTestWriter(t)

	// 日付ディレクトリの位置にファイルを置いて作成を失敗させる
	require.NoError(t, os.WriteFile(filepath.Join(root, "20240506"), []byte("x"), 0o644))

	_, err := w.Save(context.Background(), []*camera.Frame{testFrame("A", 0)}, testMetadata(), DefaultSaveSettings())
	assert.ErrorIs(t, err, ErrStorage)
}
