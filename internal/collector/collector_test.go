package collector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"multicam/internal/camera"
	"multicam/internal/capture"
	"multicam/internal/sequence"
	"multicam/internal/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrchestrator struct {
	result *capture.Result
	calls  int
}

func (s *stubOrchestrator) CaptureAll(_ context.Context) *capture.Result {
	s.calls++
	return s.result
}

type recordingSaver struct {
	meta   storage.Metadata
	frames int
	err    error
}

func (r *recordingSaver) Save(_ context.Context, frames []*camera.Frame, meta storage.Metadata, _ storage.SaveSettings) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.meta = meta
	r.frames = len(frames)
	return "/data/session", nil
}

func frames(ids ...string) []*camera.Frame {
	var out []*camera.Frame
	for _, id := range ids {
		out = append(out, &camera.Frame{CameraID: id})
	}
	return out
}

func newCounter(t *testing.T) *sequence.Counter {
	t.Helper()
	c, err := sequence.Open(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestCapture_SavesAndAdvancesSequence(t *testing.T) {
	orch := &stubOrchestrator{result: &capture.Result{RoundID: "r1", Frames: frames("A", "B")}}
	saver := &recordingSaver{}
	counter := newCounter(t)
	svc := New(orch, saver, counter, zerolog.Nop())

	meta := storage.Metadata{Lighting: storage.LightingNormal, BackgroundID: "bg"}
	out, err := svc.Capture(context.Background(), meta, storage.DefaultSaveSettings())
	require.NoError(t, err)

	assert.Equal(t, "r1", out.RoundID)
	assert.Equal(t, "/data/session", out.SessionDir)
	assert.Equal(t, 2, out.FrameCount)
	assert.Equal(t, []string{"A", "B"}, out.CameraIDs)
	assert.Equal(t, 2, out.NextSequence)
	assert.Equal(t, 2, counter.Current())

	// 連番と時刻が補われている
	assert.Equal(t, 1, saver.meta.SequenceNumber)
	assert.False(t, saver.meta.Timestamp.IsZero())
}

func TestCapture_LockMetadataKeepsSequence(t *testing.T) {
	orch := &stubOrchestrator{result: &capture.Result{Frames: frames("A")}}
	counter := newCounter(t)
	svc := New(orch, &recordingSaver{}, counter, zerolog.Nop())

	settings := storage.DefaultSaveSettings()
	settings.LockMetadata = true
	meta := storage.Metadata{Lighting: storage.LightingDark, BackgroundID: "bg", SequenceNumber: 5, Timestamp: time.Now()}

	out, err := svc.Capture(context.Background(), meta, settings)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NextSequence)
	assert.Equal(t, 1, counter.Current())
	assert.Equal(t, 5, out.Metadata.SequenceNumber)
}

func TestCapture_NoFrames(t *testing.T) {
	failures := []capture.Failure{{CameraID: "A", Phase: capture.PhaseCollect, Err: camera.ErrCollectionTimeout}}
	orch := &stubOrchestrator{result: &capture.Result{RoundID: "r2", Failures: failures}}
	saver := &recordingSaver{}
	counter := newCounter(t)
	svc := New(orch, saver, counter, zerolog.Nop())

	out, err := svc.Capture(context.Background(), storage.DefaultMetadata(), storage.DefaultSaveSettings())
	assert.ErrorIs(t, err, ErrNoFrames)
	require.NotNil(t, out)
	assert.Equal(t, failures, out.Failures)
	assert.Equal(t, 0, saver.frames)
	assert.Equal(t, 1, counter.Current())
}

func TestCapture_SaveFailureDoesNotAdvance(t *testing.T) {
	orch := &stubOrchestrator{result: &capture.Result{Frames: frames("A")}}
	saver := &recordingSaver{err: storage.ErrStorage}
	counter := newCounter(t)
	svc := New(orch, saver, counter, zerolog.Nop())

	_, err := svc.Capture(context.Background(), storage.DefaultMetadata(), storage.DefaultSaveSettings())
	assert.ErrorIs(t, err, storage.ErrStorage)
	assert.Equal(t, 1, counter.Current())
}

func TestCapture_InvalidMetadataSkipsRound(t *testing.T) {
	orch := &stubOrchestrator{result: &capture.Result{Frames: frames("A")}}
	svc := New(orch, &recordingSaver{}, newCounter(t), zerolog.Nop())

	meta := storage.Metadata{Lighting: "Sunny", BackgroundID: "bg"}
	_, err := svc.Capture(context.Background(), meta, storage.DefaultSaveSettings())
	assert.ErrorIs(t, err, storage.ErrInvalidMetadata)
	assert.Equal(t, 0, orch.calls)
}

type failingSequencer struct{}

func (failingSequencer) Current() int { return 3 }

func (failingSequencer) Increment() (int, error) { return 3, errors.New("disk full") }

func TestCapture_SequenceFailureIsReported(t *testing.T) {
	orch := &stubOrchestrator{result: &capture.Result{Frames: frames("A")}}
	svc := New(orch, &recordingSaver{}, failingSequencer{}, zerolog.Nop())

	out, err := svc.Capture(context.Background(), storage.DefaultMetadata(), storage.DefaultSaveSettings())
	require.Error(t, err)
	assert.Equal(t, "/data/session", out.SessionDir)
}

func TestCapture_EndToEndWithSyntheticCameras(t *testing.T) {
	settings := camera.Settings{Width: 4, Height: 2, FPS: 30, CollectTimeout: 20 * time.Millisecond}
	var handles []*camera.Handle
	for _, id := range []string{"Synthetic_1", "Synthetic_2"} {
		cam := camera.NewSyntheticCamera(id, settings)
		require.NoError(t, cam.Connect(context.Background()))
		handles = append(handles, camera.NewHandle(cam))
	}

	orch, err := capture.New(handleSource(handles), capture.Config{LeaseTimeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	root := filepath.Join(t.TempDir(), "dataset")
	writer, err := storage.NewWriter(root, zerolog.Nop())
	require.NoError(t, err)
	counter, err := sequence.Open(root)
	require.NoError(t, err)

	svc := New(orch, writer, counter, zerolog.Nop())
	meta := storage.Metadata{Lighting: storage.LightingVeryDark, BackgroundID: "desk"}

	out, err := svc.Capture(context.Background(), meta, storage.DefaultSaveSettings())
	require.NoError(t, err)
	assert.Equal(t, 2, out.FrameCount)
	assert.DirExists(t, out.SessionDir)
	assert.Equal(t, "seq_001", filepath.Base(out.SessionDir))
	assert.Equal(t, 2, counter.Current())

	out, err = svc.Capture(context.Background(), meta, storage.DefaultSaveSettings())
	require.NoError(t, err)
	assert.Equal(t, "seq_002", filepath.Base(out.SessionDir))
}

type handleSource []*camera.Handle

func (h handleSource) ConnectedCameras() []*camera.Handle { return h }
