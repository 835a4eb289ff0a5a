package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// 設定ファイルの場所
const (
	configEnvKey    = "CAMCAST_CONFIG"
	configFileXDG   = "camcast/config.yaml"
	maxJPEGQuality  = 100
	maxPreviewWidth = 4096
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Stream  StreamConfig  `yaml:"stream"`
	Preview PreviewConfig `yaml:"preview"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // 操作画面に表示する初期ポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの上限
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`    // ポート使用中チェックの接続タイムアウト
}

// CaptureConfig はキャプチャデバイスの設定
type CaptureConfig struct {
	Driver      string        `yaml:"driver"`       // v4l2 / testsrc / gocv
	DeviceIndex int           `yaml:"device_index"` // デバイス番号
	Width       int           `yaml:"width"`        // 画像幅
	Height      int           `yaml:"height"`       // 画像高さ
	FPS         int           `yaml:"fps"`          // フレームレート
	OpenTimeout time.Duration `yaml:"open_timeout"` // デバイスを開くまでの上限
}

// StreamConfig はMJPEG配信の設定
type StreamConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval"` // フレーム間の待ち時間
	JPEGQuality   int           `yaml:"jpeg_quality"`   // JPEG品質 (1-100)
}

// PreviewConfig はローカルプレビューの設定
type PreviewConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"` // 更新間隔
	Width    int           `yaml:"width"`    // 表示幅（高さは縦横比から決まる）
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // text / json
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
			ProbeTimeout:    300 * time.Millisecond,
		},
		Capture: CaptureConfig{
			Driver:      "v4l2",
			DeviceIndex: 0,
			Width:       640,
			Height:      480,
			FPS:         30,
			OpenTimeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			FrameInterval: 30 * time.Millisecond,
			JPEGQuality:   80,
		},
		Preview: PreviewConfig{
			Enabled:  true,
			Interval: 30 * time.Millisecond,
			Width:    760,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → 設定ファイル → 環境変数 の順に上書きする
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom は path の設定ファイルを使って設定を読み込む
// path が空の場合はデフォルト値と環境変数だけを使う
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// mergeFile はYAMLファイルの内容で設定を上書きする
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}

	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Capture.Driver = getEnvOrDefault("CAPTURE_DRIVER", c.Capture.Driver)
	c.Capture.DeviceIndex = getEnvAsIntOrDefault("CAPTURE_DEVICE", c.Capture.DeviceIndex)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("無効なシャットダウンタイムアウト: %v", c.Server.ShutdownTimeout))
	}
	if c.Capture.Driver == "" {
		errs = append(errs, errors.New("キャプチャドライバーが指定されていません"))
	}
	if c.Capture.DeviceIndex < 0 {
		errs = append(errs, fmt.Errorf("無効なデバイス番号: %d", c.Capture.DeviceIndex))
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("無効な解像度: %dx%d", c.Capture.Width, c.Capture.Height))
	}
	if c.Capture.FPS <= 0 || c.Capture.FPS > 120 {
		errs = append(errs, fmt.Errorf("無効なFPS値: %d", c.Capture.FPS))
	}
	if c.Stream.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("無効なフレーム間隔: %v", c.Stream.FrameInterval))
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > maxJPEGQuality {
		errs = append(errs, fmt.Errorf("無効なJPEG品質: %d", c.Stream.JPEGQuality))
	}
	if c.Preview.Interval <= 0 {
		errs = append(errs, fmt.Errorf("無効なプレビュー間隔: %v", c.Preview.Interval))
	}
	if c.Preview.Width <= 0 || c.Preview.Width > maxPreviewWidth {
		errs = append(errs, fmt.Errorf("無効なプレビュー幅: %d", c.Preview.Width))
	}

	return errors.Join(errs...)
}

// ListenAddress は指定ポートでのリッスンアドレスを返す
func (c *Config) ListenAddress(port int) string {
	return fmt.Sprintf("%s:%d", c.Server.Host, port)
}

// configPath は読み込む設定ファイルのパスを返す。なければ空文字列
func configPath() string {
	if path := os.Getenv(configEnvKey); path != "" {
		return path
	}

	path, err := xdg.SearchConfigFile(configFileXDG)
	if err != nil {
		return ""
	}
	return path
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
