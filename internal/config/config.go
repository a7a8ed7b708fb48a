package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"multicam/internal/camera"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// 設定ファイルと環境変数の既定値
const (
	DefaultConfigName = "multicam"  // multicam.yaml
	EnvPrefix         = "MULTICAM" // MULTICAM_SERVER_PORT など
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Camera  CameraConfig  `yaml:"camera" mapstructure:"camera"`
	Capture CaptureConfig `yaml:"capture" mapstructure:"capture"`
	Preview PreviewConfig `yaml:"preview" mapstructure:"preview"`
	Health  HealthConfig  `yaml:"health" mapstructure:"health"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"` // リッスンするホスト
	Port int    `yaml:"port" mapstructure:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`   // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"` // 書き込みタイムアウト（キャプチャ完了まで待つため0で無効）
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Width          int           `yaml:"width" mapstructure:"width"`                     // 画像幅
	Height         int           `yaml:"height" mapstructure:"height"`                   // 画像高さ
	FPS            int           `yaml:"fps" mapstructure:"fps"`                         // フレームレート
	FrameTimeout   time.Duration `yaml:"frame_timeout" mapstructure:"frame_timeout"`     // 収集タイムアウト
	SyntheticCount int           `yaml:"synthetic_count" mapstructure:"synthetic_count"` // 実機0台時の合成カメラ台数

	Stereo StereoConfig `yaml:"stereo" mapstructure:"stereo"`
}

// StereoConfig はステレオ深度センサー固有の設定
type StereoConfig struct {
	DepthMode             string `yaml:"depth_mode" mapstructure:"depth_mode"`
	DepthStabilization    bool   `yaml:"depth_stabilization" mapstructure:"depth_stabilization"`
	DepthMinimumDistance  int    `yaml:"depth_minimum_distance" mapstructure:"depth_minimum_distance"` // mm
	EnableSelfCalibration bool   `yaml:"enable_self_calibration" mapstructure:"enable_self_calibration"`
}

// CaptureConfig は同期キャプチャの設定
type CaptureConfig struct {
	LeaseTimeout time.Duration `yaml:"lease_timeout" mapstructure:"lease_timeout"` // カメラごとの排他取得待ち
	RoundTimeout time.Duration `yaml:"round_timeout" mapstructure:"round_timeout"` // 0 なら無制限
}

// PreviewConfig はプレビューの設定
type PreviewConfig struct {
	DisplayFPS        int           `yaml:"display_fps" mapstructure:"display_fps"`                 // 配信レート上限
	ErrorPause        time.Duration `yaml:"error_pause" mapstructure:"error_pause"`                 // エラー後の待ち
	ThreadStopTimeout time.Duration `yaml:"thread_stop_timeout" mapstructure:"thread_stop_timeout"` // 停止待ちの上限
}

// HealthConfig はヘルスモニターの設定
type HealthConfig struct {
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	LeaseTimeout time.Duration `yaml:"lease_timeout" mapstructure:"lease_timeout"`
}

// StorageConfig は保存先の設定
type StorageConfig struct {
	RootDir string `yaml:"root_dir" mapstructure:"root_dir"`
}

// LogConfig はログの設定
type LogConfig struct {
	Level       string `yaml:"level" mapstructure:"level"`               // debug|info|warn|error
	File        string `yaml:"file" mapstructure:"file"`                 // 空ならファイル出力なし
	BufferLines int    `yaml:"buffer_lines" mapstructure:"buffer_lines"` // ログパネル用に保持する行数
}

// setDefaults は全キーの既定値を登録する
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))

	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.frame_timeout", 500*time.Millisecond)
	v.SetDefault("camera.synthetic_count", 1)
	v.SetDefault("camera.stereo.depth_mode", "PERFORMANCE")
	v.SetDefault("camera.stereo.depth_stabilization", true)
	v.SetDefault("camera.stereo.depth_minimum_distance", 200)
	v.SetDefault("camera.stereo.enable_self_calibration", false)

	v.SetDefault("capture.lease_timeout", time.Second)
	v.SetDefault("capture.round_timeout", time.Duration(0))

	v.SetDefault("preview.display_fps", 15)
	v.SetDefault("preview.error_pause", time.Second)
	v.SetDefault("preview.thread_stop_timeout", 2000*time.Millisecond)

	v.SetDefault("health.interval", 5*time.Second)
	v.SetDefault("health.lease_timeout", time.Second)

	v.SetDefault("storage.root_dir", "./the-dataset")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.buffer_lines", 500)
}

// Load は設定を読み込む
//
// 優先順位: 環境変数 (MULTICAM_*) > 設定ファイル > 既定値。
// configFile が空ならカレントディレクトリの multicam.yaml を探し、無ければ既定値のみを使う。
// カレントディレクトリに .env があれば先に読み込む。
func Load(configFile string) (*Config, error) {
	// .env は任意
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if err := c.CameraSettings().Validate(); err != nil {
		return fmt.Errorf("カメラ設定: %w", err)
	}
	if c.Camera.SyntheticCount < 1 {
		return fmt.Errorf("合成カメラの台数は1以上である必要があります: %d", c.Camera.SyntheticCount)
	}

	if c.Capture.LeaseTimeout <= 0 {
		return fmt.Errorf("無効な排他取得タイムアウト: %v", c.Capture.LeaseTimeout)
	}
	if c.Capture.RoundTimeout < 0 {
		return fmt.Errorf("無効なラウンドタイムアウト: %v", c.Capture.RoundTimeout)
	}

	if c.Preview.DisplayFPS <= 0 {
		return fmt.Errorf("無効なプレビューFPS: %d", c.Preview.DisplayFPS)
	}
	if c.Preview.ErrorPause <= 0 || c.Preview.ThreadStopTimeout <= 0 {
		return fmt.Errorf("プレビューのタイムアウトは正の値である必要があります")
	}

	if c.Health.Interval <= 0 || c.Health.LeaseTimeout <= 0 {
		return fmt.Errorf("ヘルスモニターの間隔とタイムアウトは正の値である必要があります")
	}

	if c.Storage.RootDir == "" {
		return fmt.Errorf("保存先が設定されていません")
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CameraSettings はカメラに要求する取得設定を返す
func (c *Config) CameraSettings() camera.Settings {
	return camera.Settings{
		Width:          c.Camera.Width,
		Height:         c.Camera.Height,
		FPS:            c.Camera.FPS,
		CollectTimeout: c.Camera.FrameTimeout,
	}
}

// StereoParams はステレオセンサーのオープンパラメータを返す
func (c *Config) StereoParams() camera.StereoParams {
	return camera.StereoParams{
		Width:                  c.Camera.Width,
		Height:                 c.Camera.Height,
		FPS:                    c.Camera.FPS,
		DepthMode:              c.Camera.Stereo.DepthMode,
		DepthStabilization:     c.Camera.Stereo.DepthStabilization,
		DepthMinimumDistanceMM: c.Camera.Stereo.DepthMinimumDistance,
		DisableSelfCalibration: !c.Camera.Stereo.EnableSelfCalibration,
	}
}

// Dump は実効設定をYAMLで返す
func Dump(c *Config) ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("設定のYAML変換に失敗: %w", err)
	}
	return out, nil
}
