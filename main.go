// Package main はcamcastのヘッドレス版コマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"camcast/internal/camera"
	"camcast/internal/config"
	"camcast/internal/logging"
	"camcast/internal/service"
)

func main() {
	// コマンドラインオプション
	var (
		configPath  = flag.String("config", "", "設定ファイルのパス")
		host        = flag.String("host", "", "リッスンするホスト (デフォルト: 0.0.0.0)")
		port        = flag.String("port", "", "配信するポート (デフォルト: 5000)")
		driver      = flag.String("driver", "", "キャプチャドライバー (v4l2, testsrc, gocv)")
		device      = flag.Int("device", -1, "デバイス番号 (/dev/video<N>)")
		logLevel    = flag.String("log-level", "", "ログレベル (debug, info, warn, error)")
		listDevices = flag.Bool("list-devices", false, "利用可能なカメラを表示して終了")
		help        = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("camcast")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  camcast [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *driver != "" {
		cfg.Capture.Driver = *driver
	}
	if *device >= 0 {
		cfg.Capture.DeviceIndex = *device
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}

	if *listDevices {
		if err := printDevices(context.Background()); err != nil {
			log.Fatalf("デバイスの検出に失敗しました: %v", err)
		}
		return
	}

	ctrl, err := service.NewFromConfig(cfg, logger)
	if err != nil {
		log.Fatalf("サービスの作成に失敗しました: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	portText := *port
	if portText == "" {
		portText = strconv.Itoa(cfg.Server.Port)
	}

	if err := ctrl.Start(ctx, portText); err != nil {
		logger.Error("サービスの起動に失敗しました", "error", err)
		os.Exit(1)
	}

	// シグナルを待つ
	<-ctx.Done()
	logger.Info("シグナルを受信しました。終了します")

	quitCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+time.Second)
	defer cancel()

	if err := ctrl.Quit(quitCtx); err != nil {
		logger.Error("終了処理でエラーが発生しました", "error", err)
		os.Exit(1)
	}
}

// loadConfig は -config が指定されていればそのファイルから設定を読み込む
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// printDevices は検出したカメラの一覧を表示する
func printDevices(ctx context.Context) error {
	devices, err := camera.NewLinuxDiscovery().ScanDevices(ctx)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("カメラが見つかりません")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%d\t%s\t%s\n", d.Index, d.Device, d.Name)
	}
	return nil
}
