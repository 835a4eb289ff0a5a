// Package main はcamcastの操作画面付きコマンドの実装です
package main

import (
	"context"
	"flag"
	"log"

	"camcast/internal/config"
	"camcast/internal/encoding"
	"camcast/internal/logging"
	"camcast/internal/panel"
	"camcast/internal/preview"
	"camcast/internal/service"

	"fyne.io/fyne/v2/app"
)

func main() {
	var (
		configPath = flag.String("config", "", "設定ファイルのパス")
		driver     = flag.String("driver", "", "キャプチャドライバー (v4l2, testsrc, gocv)")
		device     = flag.Int("device", -1, "デバイス番号 (/dev/video<N>)")
	)
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if *driver != "" {
		cfg.Capture.Driver = *driver
	}
	if *device >= 0 {
		cfg.Capture.DeviceIndex = *device
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}

	ctrl, err := service.NewFromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("サービスの作成に失敗しました: %v", err)
	}

	a := app.NewWithID("io.github.camcast")
	p := panel.New(a, ctrl, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// プレビューは配信の可否に関係なく、デバイスが開いている間だけ表示する
	if cfg.Preview.Enabled {
		loop := preview.New(ctrl, encoding.New(cfg.Stream.JPEGQuality), p, cfg.Preview, logger)
		if err := loop.Start(ctx); err != nil {
			log.Fatalf("プレビューの開始に失敗しました: %v", err)
		}
		defer loop.Stop()
	}

	p.ShowAndRun()

	// ウィンドウが閉じられた場合も確実に停止する
	if err := ctrl.Quit(context.Background()); err != nil {
		logger.Error("終了処理でエラーが発生しました", "error", err)
	}
}
