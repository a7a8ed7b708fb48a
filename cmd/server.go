// Package main はマルチカメラ撮影サーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"multicam/internal/app"
	"multicam/internal/config"
	"multicam/internal/logging"

	"github.com/rs/zerolog/log"
)

func main() {
	// コマンドラインオプション
	var (
		configFile  = flag.String("config", "", "設定ファイルのパス (デフォルト: ./multicam.yaml があれば使用)")
		host        = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port        = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		root        = flag.String("root", "", "データセットの保存先 (デフォルト: ./the-dataset)")
		printConfig = flag.Bool("print-config", false, "実効設定をYAMLで表示して終了")
		help        = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("multicam")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *root != "" {
		cfg.Storage.RootDir = *root
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("設定が不正です")
	}

	if *printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("設定の表示に失敗しました")
		}
		fmt.Print(string(out))
		os.Exit(0)
	}

	logs, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		BufferLines: cfg.Log.BufferLines,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ロガーの初期化に失敗しました")
	}
	defer logs.Close()

	a, err := app.New(cfg, logs, nil)
	if err != nil {
		logs.Fatal().Err(err).Msg("アプリケーションの初期化に失敗しました")
	}

	// サーバーを起動
	logs.Info().Str("addr", cfg.ServerAddress()).Msg("multicam サーバーを起動します")
	if err := a.Run(context.Background()); err != nil {
		logs.Error().Err(err).Msg("終了時にエラーが発生しました")
	}
}
