package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"multicam/internal/camera"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/image/tiff"
)

// MetadataFileName はセッションディレクトリ内のメタデータファイル名
const MetadataFileName = "metadata.json"

// maxNameSuffix は同名ファイルがある場合に試す連番の上限
const maxNameSuffix = 1000

const plyPlaceholder = `ply
format ascii 1.0
element vertex 0
property float x
property float y
property float z
end_header
`

// Writer はキャプチャ結果をセッションディレクトリに保存する
type Writer struct {
	mu     sync.RWMutex
	root   string
	logger zerolog.Logger
	now    func() time.Time

	artifacts metric.Int64Counter
	failures  metric.Int64Counter
}

// NewWriter は新しいWriterを作成する。root が無ければ作成する
func NewWriter(root string, logger zerolog.Logger) (*Writer, error) {
	w := &Writer{
		logger: logger.With().Str("component", "storage").Logger(),
		now:    time.Now,
	}

	m := meter()
	var err error

	w.artifacts, err = m.Int64Counter(
		"storage.artifacts",
		metric.WithDescription("書き込んだ成果物ファイル数"),
	)
	if err != nil {
		return nil, fmt.Errorf("成果物カウンターの作成に失敗: %w", err)
	}

	w.failures, err = m.Int64Counter(
		"storage.artifact_failures",
		metric.WithDescription("書き込みに失敗した成果物ファイル数"),
	)
	if err != nil {
		return nil, fmt.Errorf("失敗カウンターの作成に失敗: %w", err)
	}

	if err := w.SetRootDir(root); err != nil {
		return nil, err
	}
	return w, nil
}

// RootDir は現在の保存先ルートを返す
func (w *Writer) RootDir() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}

// SetRootDir は以降の保存先ルートを変更する。無ければ作成する
func (w *Writer) SetRootDir(root string) error {
	if root == "" {
		return fmt.Errorf("%w: 保存先が空です", ErrStorage)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: 保存先の作成に失敗: %v", ErrStorage, err)
	}

	w.mu.Lock()
	w.root = root
	w.mu.Unlock()

	w.logger.Info().Str("root", root).Msg("保存先を設定しました")
	return nil
}

// SessionDir はセッションディレクトリのパスを返す
// root/YYYYMMDD/<照明>/<背景ID>/seq_NNN
func SessionDir(root string, date time.Time, meta Metadata) string {
	return filepath.Join(
		root,
		date.Format("20060102"),
		string(meta.Lighting),
		meta.BackgroundID,
		fmt.Sprintf("seq_%03d", meta.SequenceNumber),
	)
}

// Save はフレームとメタデータをセッションディレクトリに保存し、そのパスを返す
//
// ディレクトリやメタデータが書けない場合はエラーを返す。
// 個々の成果物の失敗はログに記録し、残りの書き込みを続ける。
func (w *Writer) Save(ctx context.Context, frames []*camera.Frame, meta Metadata, settings SaveSettings) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}

	now := w.now()
	dir := SessionDir(w.RootDir(), now, meta)
	logger := w.logger.With().Str("session_dir", dir).Logger()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: セッションディレクトリの作成に失敗: %v", ErrStorage, err)
	}

	if meta.Timestamp.IsZero() {
		meta.Timestamp = now
	}
	if err := writeMetadata(dir, meta); err != nil {
		return "", err
	}

	failed := 0
	for _, f := range frames {
		stamp := w.now()
		base := fmt.Sprintf("%s%03d_%s_frame_%04d",
			stamp.Format("20060102T150405"), stamp.Nanosecond()/int(time.Millisecond), f.CameraID, f.FrameNumber)

		for _, a := range artifactsFor(f, settings) {
			err := w.writeArtifact(dir, base+a.suffix, a.ext, a.encode)
			kind := attribute.String("kind", a.suffix)
			if err != nil {
				failed++
				w.failures.Add(ctx, 1, metric.WithAttributes(kind))
				logger.Error().Err(err).Str("camera_id", f.CameraID).Str("artifact", a.suffix).Msg("成果物の保存に失敗しました")
				continue
			}
			w.artifacts.Add(ctx, 1, metric.WithAttributes(kind))
		}
	}

	logger.Info().Int("frames", len(frames)).Int("failed_artifacts", failed).Msg("キャプチャを保存しました")
	return dir, nil
}

type artifact struct {
	suffix string
	ext    string
	encode func(io.Writer) error
}

// artifactsFor は設定に応じてフレームから書き出す成果物を並べる
func artifactsFor(f *camera.Frame, settings SaveSettings) []artifact {
	var out []artifact

	if settings.SaveRGB {
		out = append(out, artifact{suffix: "_RGB", ext: ".png", encode: func(dst io.Writer) error {
			if !f.Color.Valid() {
				return errors.New("カラー画像がありません")
			}
			return png.Encode(dst, ColorToNRGBA(f.Color))
		}})
	}

	if settings.SaveDepth && f.Depth != nil {
		out = append(out, artifact{suffix: "_Depth", ext: ".tiff", encode: func(dst io.Writer) error {
			if !f.Depth.Valid() {
				return errors.New("深度画像が不正です")
			}
			return tiff.Encode(dst, DepthToGray16(f.Depth), &tiff.Options{Compression: tiff.Uncompressed})
		}})
	}

	if settings.SaveRightView && f.Right != nil {
		out = append(out, artifact{suffix: "_RGB_right", ext: ".png", encode: func(dst io.Writer) error {
			if !f.Right.Valid() {
				return errors.New("右画像が不正です")
			}
			return png.Encode(dst, ColorToNRGBA(f.Right))
		}})
	}

	if settings.SavePointCloud {
		out = append(out, artifact{suffix: "_PC", ext: ".ply", encode: func(dst io.Writer) error {
			_, err := io.WriteString(dst, plyPlaceholder)
			return err
		}})
	}

	return out
}

// writeArtifact は既存ファイルを上書きしないように成果物を書き込む
func (w *Writer) writeArtifact(dir, stem, ext string, encode func(io.Writer) error) error {
	file, path, err := createExclusive(dir, stem, ext)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	bw := bufio.NewWriter(file)
	err = encode(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("%w: %s の書き込みに失敗: %v", ErrStorage, filepath.Base(path), err)
	}
	return nil
}

// createExclusive は stem+ext を新規作成する。既にあれば stem_1+ext, stem_2+ext ... を試す
func createExclusive(dir, stem, ext string) (*os.File, string, error) {
	for i := 0; i < maxNameSuffix; i++ {
		name := stem + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("ファイルの作成に失敗: %w", err)
		}
		return file, path, nil
	}
	return nil, "", fmt.Errorf("空いているファイル名がありません: %s%s", stem, ext)
}

// writeMetadata はメタデータを書き込む。既存の記録は置き換える
func writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta.record(), "", "    ")
	if err != nil {
		return fmt.Errorf("%w: メタデータのエンコードに失敗: %v", ErrStorage, err)
	}

	path := filepath.Join(dir, MetadataFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: メタデータの書き込みに失敗: %v", ErrStorage, err)
	}
	return nil
}
