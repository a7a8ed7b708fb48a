package main

import (
	"context"

	"multicam/internal/app"
	"multicam/internal/config"
	"multicam/internal/logging"

	"github.com/rs/zerolog/log"
)

func main() {
	// 設定を読み込む（multicam.yaml と MULTICAM_* 環境変数は任意）
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
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

	// アプリケーションを組み立てる
	a, err := app.New(cfg, logs, nil)
	if err != nil {
		logs.Fatal().Err(err).Msg("アプリケーションの初期化に失敗しました")
	}

	// 起動してシグナルを待つ
	if err := a.Run(context.Background()); err != nil {
		logs.Error().Err(err).Msg("終了時にエラーが発生しました")
	}
}
