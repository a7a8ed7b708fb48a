// Package collector キャプチャ要求の一連の流れ（撮影、保存、連番更新）を担う
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"multicam/internal/camera"
	"multicam/internal/capture"
	"multicam/internal/storage"

	"github.com/rs/zerolog"
)

// ErrNoFrames は1枚もフレームを受信できなかったことを表す
var ErrNoFrames = errors.New("キャプチャに失敗しました。フレームを受信できませんでした")

// Orchestrator はキャプチャラウンドを実行する
type Orchestrator interface {
	CaptureAll(ctx context.Context) *capture.Result
}

// Saver はキャプチャ結果を保存する
type Saver interface {
	Save(ctx context.Context, frames []*camera.Frame, meta storage.Metadata, settings storage.SaveSettings) (string, error)
}

// Sequencer は永続化された連番
type Sequencer interface {
	Current() int
	Increment() (int, error)
}

// Outcome はキャプチャ要求の結果
type Outcome struct {
	RoundID      string
	SessionDir   string
	FrameCount   int
	CameraIDs    []string
	Failures     []capture.Failure
	Metadata     storage.Metadata
	NextSequence int
}

// Service はキャプチャ要求を1件ずつ処理する
type Service struct {
	orchestrator Orchestrator
	saver        Saver
	sequence     Sequencer
	logger       zerolog.Logger
	now          func() time.Time

	// 同時に1件だけ処理する
	mu sync.Mutex
}

// New は新しいServiceを作成する
func New(orchestrator Orchestrator, saver Saver, sequence Sequencer, logger zerolog.Logger) *Service {
	return &Service{
		orchestrator: orchestrator,
		saver:        saver,
		sequence:     sequence,
		logger:       logger.With().Str("component", "collector").Logger(),
		now:          time.Now,
	}
}

// Capture は撮影して保存し、ロックされていなければ連番を進める
//
// 連番が0ならカウンターの現在値、時刻がゼロなら現在時刻で補う。
// フレームが1枚も得られなければ ErrNoFrames を返す。
func (s *Service) Capture(ctx context.Context, meta storage.Metadata, settings storage.SaveSettings) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta.SequenceNumber == 0 {
		meta.SequenceNumber = s.sequence.Current()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = s.now()
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	result := s.orchestrator.CaptureAll(ctx)
	out := &Outcome{
		RoundID:      result.RoundID,
		FrameCount:   len(result.Frames),
		CameraIDs:    result.CameraIDs(),
		Failures:     result.Failures,
		Metadata:     meta,
		NextSequence: s.sequence.Current(),
	}
	logger := s.logger.With().Str("round_id", result.RoundID).Logger()

	if result.Empty() {
		logger.Error().Int("failures", len(result.Failures)).Msg(ErrNoFrames.Error())
		return out, ErrNoFrames
	}

	dir, err := s.saver.Save(ctx, result.Frames, meta, settings)
	if err != nil {
		return out, fmt.Errorf("キャプチャの保存に失敗: %w", err)
	}
	out.SessionDir = dir

	if !settings.LockMetadata {
		next, err := s.sequence.Increment()
		if err != nil {
			return out, fmt.Errorf("連番の更新に失敗: %w", err)
		}
		out.NextSequence = next
	}

	logger.Info().
		Str("session_dir", dir).
		Int("frames", out.FrameCount).
		Int("next_sequence", out.NextSequence).
		Msg("キャプチャが完了しました")
	return out, nil
}
