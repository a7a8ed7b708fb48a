package capture

import (
	"context"
	"fmt"
	"time"

	"multicam/internal/camera"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Phase はラウンド内のどの段階で失敗したかを表す
type Phase string

const (
	PhaseAcquire Phase = "acquire" // 排他アクセスの取得
	PhaseTrigger Phase = "trigger" // トリガー
	PhaseCollect Phase = "collect" // 収集
)

// Failure は1台のカメラがこのラウンドで失敗した記録
type Failure struct {
	CameraID string
	Phase    Phase
	Err      error
}

// Result は1回のキャプチャラウンドの結果
type Result struct {
	RoundID  string
	Started  time.Time
	Duration time.Duration
	Frames   []*camera.Frame // カメラ順
	Failures []Failure
}

// Empty はフレームが1枚も得られなかったかを返す
func (r *Result) Empty() bool {
	return len(r.Frames) == 0
}

// CameraIDs は取得できたフレームのカメラIDを順に返す
func (r *Result) CameraIDs() []string {
	ids := make([]string, 0, len(r.Frames))
	for _, f := range r.Frames {
		ids = append(ids, f.CameraID)
	}
	return ids
}

// Source はラウンド開始時点の接続済みカメラを提供する
type Source interface {
	ConnectedCameras() []*camera.Handle
}

// Config はOrchestratorの動作設定
type Config struct {
	LeaseTimeout time.Duration // カメラごとの排他アクセス取得の最大待ち時間
	RoundTimeout time.Duration // ラウンド全体の上限（0 なら無制限）
}

// Orchestrator は接続済みカメラ全体でトリガー/収集の2段階キャプチャを行う
type Orchestrator struct {
	source Source
	cfg    Config
	logger zerolog.Logger

	rounds   metric.Int64Counter
	frames   metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// New は新しいOrchestratorを作成する
func New(source Source, cfg Config, logger zerolog.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		source: source,
		cfg:    cfg,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}

	m := meter()
	var err error

	o.rounds, err = m.Int64Counter(
		"capture.rounds",
		metric.WithDescription("実行したキャプチャラウンド数"),
	)
	if err != nil {
		return nil, fmt.Errorf("ラウンドカウンターの作成に失敗: %w", err)
	}

	o.frames, err = m.Int64Counter(
		"capture.frames",
		metric.WithDescription("ラウンドで収集できたフレーム数"),
	)
	if err != nil {
		return nil, fmt.Errorf("フレームカウンターの作成に失敗: %w", err)
	}

	o.failures, err = m.Int64Counter(
		"capture.camera_failures",
		metric.WithDescription("ラウンド内でのカメラ単位の失敗数"),
	)
	if err != nil {
		return nil, fmt.Errorf("失敗カウンターの作成に失敗: %w", err)
	}

	o.duration, err = m.Float64Histogram(
		"capture.round_duration",
		metric.WithDescription("キャプチャラウンドの所要時間"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("所要時間ヒストグラムの作成に失敗: %w", err)
	}

	return o, nil
}

type slot struct {
	handle *camera.Handle
	lease  *camera.Lease
	failed bool
}

// CaptureAll はラウンド開始時点の接続済みカメラのスナップショットに対して
// 全トリガー → 全収集の順で1フレームずつ取得する
//
// 個々のカメラの失敗はラウンドを中断しない。結果が空かどうかは呼び出し側が判定する。
func (o *Orchestrator) CaptureAll(ctx context.Context) *Result {
	res := &Result{
		RoundID: uuid.NewString(),
		Started: time.Now(),
	}
	logger := o.logger.With().Str("round_id", res.RoundID).Logger()

	if o.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RoundTimeout)
		defer cancel()
	}

	handles := o.source.ConnectedCameras()
	slots := make([]*slot, len(handles))
	for i, h := range handles {
		slots[i] = &slot{handle: h}
	}
	defer func() {
		for _, s := range slots {
			if s.lease != nil {
				s.lease.Release()
			}
		}
	}()

	fail := func(s *slot, phase Phase, err error) {
		s.failed = true
		res.Failures = append(res.Failures, Failure{CameraID: s.handle.ID(), Phase: phase, Err: err})
		o.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(phase))))
		logger.Warn().Err(err).Str("camera_id", s.handle.ID()).Str("phase", string(phase)).Msg("カメラをこのラウンドから除外します")
	}

	// プレビュー等と重ならないよう、最初のトリガーの前に全カメラの排他アクセスを確保する
	for _, s := range slots {
		lctx, cancel := context.WithTimeout(ctx, o.cfg.LeaseTimeout)
		lease, err := s.handle.Acquire(lctx)
		cancel()
		if err != nil {
			fail(s, PhaseAcquire, err)
			continue
		}
		s.lease = lease
	}

	for _, s := range slots {
		if s.failed {
			continue
		}
		if err := s.lease.Camera().TriggerCapture(ctx); err != nil {
			fail(s, PhaseTrigger, err)
		}
	}

	// トリガーに失敗したカメラは収集しない
	for _, s := range slots {
		if s.failed {
			continue
		}
		frame, err := s.lease.Camera().CollectFrame(ctx)
		if err != nil {
			fail(s, PhaseCollect, err)
			continue
		}
		res.Frames = append(res.Frames, frame)
	}

	res.Duration = time.Since(res.Started)

	o.rounds.Add(ctx, 1)
	o.frames.Add(ctx, int64(len(res.Frames)))
	o.duration.Record(ctx, float64(res.Duration.Microseconds())/1000)

	logger.Info().
		Int("cameras", len(slots)).
		Int("frames", len(res.Frames)).
		Int("failures", len(res.Failures)).
		Dur("duration", res.Duration).
		Msg("キャプチャラウンドが完了しました")

	return res
}
