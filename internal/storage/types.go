package storage

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrStorage は成果物の書き込み失敗を表す
var ErrStorage = errors.New("保存エラー")

// ErrInvalidMetadata はメタデータの検証失敗を表す
var ErrInvalidMetadata = errors.New("メタデータが不正です")

// Lighting は撮影時の照明条件
type Lighting string

const (
	LightingVeryDark Lighting = "VeryDark"
	LightingDark     Lighting = "Dark"
	LightingNormal   Lighting = "Normal"
)

// Valid は既知の照明条件かを返す
func (l Lighting) Valid() bool {
	switch l {
	case LightingVeryDark, LightingDark, LightingNormal:
		return true
	default:
		return false
	}
}

// maxBackgroundIDLength は背景IDの最大文字数
const maxBackgroundIDLength = 100

var backgroundIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Metadata は1回のキャプチャに付けるラベル
type Metadata struct {
	Lighting       Lighting
	BackgroundID   string
	SequenceNumber int
	Timestamp      time.Time
}

// DefaultMetadata はデフォルトのメタデータを返す
func DefaultMetadata() Metadata {
	return Metadata{
		Lighting:       LightingNormal,
		BackgroundID:   "default_bg",
		SequenceNumber: 1,
	}
}

// Validate はメタデータを検証する
// 背景IDはディレクトリ名になるため英数字、'_'、'-' のみを許す
func (m Metadata) Validate() error {
	if !m.Lighting.Valid() {
		return fmt.Errorf("%w: 不明な照明条件 %q", ErrInvalidMetadata, m.Lighting)
	}
	if m.BackgroundID == "" {
		return fmt.Errorf("%w: 背景IDが空です", ErrInvalidMetadata)
	}
	if len(m.BackgroundID) > maxBackgroundIDLength {
		return fmt.Errorf("%w: 背景IDは%d文字以内にしてください", ErrInvalidMetadata, maxBackgroundIDLength)
	}
	if !backgroundIDPattern.MatchString(m.BackgroundID) {
		return fmt.Errorf("%w: 背景IDに使えない文字が含まれています: %q", ErrInvalidMetadata, m.BackgroundID)
	}
	if m.SequenceNumber < 0 {
		return fmt.Errorf("%w: 連番は0以上である必要があります: %d", ErrInvalidMetadata, m.SequenceNumber)
	}
	return nil
}

// metadataRecord はセッションディレクトリに書くメタデータの形式
type metadataRecord struct {
	Lighting       string  `json:"lighting"`
	BackgroundID   string  `json:"background_id"`
	SequenceNumber int     `json:"sequence_number"`
	Timestamp      float64 `json:"timestamp"`
}

func (m Metadata) record() metadataRecord {
	return metadataRecord{
		Lighting:       string(m.Lighting),
		BackgroundID:   m.BackgroundID,
		SequenceNumber: m.SequenceNumber,
		Timestamp:      float64(m.Timestamp.UnixNano()) / 1e9,
	}
}

// SaveSettings は保存する成果物の選択
type SaveSettings struct {
	SaveRGB        bool
	SaveDepth      bool
	SavePointCloud bool
	SaveRightView  bool
	LockMetadata   bool // true なら保存後に連番を進めない
}

// DefaultSaveSettings はデフォルト（RGBと深度）を返す
func DefaultSaveSettings() SaveSettings {
	return SaveSettings{SaveRGB: true, SaveDepth: true}
}
