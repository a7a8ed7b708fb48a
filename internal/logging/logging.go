// Package logging コンソール、ファイル、直近ログのバッファへ同時に書き出すロガーを組み立てる
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options はロガーの設定
type Options struct {
	Level       string    // debug|info|warn|error
	File        string    // JSON形式で追記するファイル。空なら出力しない
	BufferLines int       // 直近ログとして保持する行数
	Console     io.Writer // nil なら標準出力
}

// Logger はコンポーネントに注入する zerolog.Logger と直近ログのバッファを束ねる
type Logger struct {
	zerolog.Logger

	buffer *Buffer
	file   *os.File
}

// ParseLevel はログレベル文字列を変換する。不明な値は info として扱う
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New はロガーを作成する
func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	buffer := NewBuffer(opts.BufferLines)
	writers := []io.Writer{
		// 色付きでコンソールへ
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339},
		// ログパネル用に色なしの1行形式で保持
		zerolog.ConsoleWriter{Out: buffer, TimeFormat: time.TimeOnly, NoColor: true},
	}

	var file *os.File
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("ログファイルのオープンに失敗: %w", err)
		}
		file = f
		writers = append(writers, f)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()

	return &Logger{Logger: logger, buffer: buffer, file: file}, nil
}

// Lines は直近のログ行を古い順に返す
func (l *Logger) Lines() []string {
	return l.buffer.Lines()
}

// Close はログファイルを閉じる
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
