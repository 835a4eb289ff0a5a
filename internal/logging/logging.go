// Package logging はアプリケーション共通の構造化ロガーを生成する
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"camcast/internal/config"
)

// New は設定に従って slog.Logger を作成する
func New(cfg config.LogConfig) (*slog.Logger, error) {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter は出力先を指定して slog.Logger を作成する
func NewWithWriter(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("無効なログ形式: %s", cfg.Format)
	}

	return slog.New(handler), nil
}

// ParseLevel はログレベル名を slog.Level に変換する
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("無効なログレベル: %s", name)
	}
	return level, nil
}

// Discard は何も出力しないロガーを返す
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
