package camera

import (
	"context"
	"errors"
	"time"
)

// PixelFormat はフレームの画素の並びを表す
type PixelFormat string

const (
	PixelFormatBGR24 PixelFormat = "bgr24" // OpenCV / ffmpeg の既定
	PixelFormatRGB24 PixelFormat = "rgb24"
)

// BytesPerPixel は1画素あたりのバイト数
const BytesPerPixel = 3

// キャプチャ関連のエラー
var (
	ErrDeviceUnavailable = errors.New("キャプチャデバイスを開けません")
	ErrReadFailure       = errors.New("フレームの読み取りに失敗")
	ErrHandleClosed      = errors.New("キャプチャハンドルは解放済みです")
)

// Frame はデバイスから取得した1枚の生画像
type Frame struct {
	Width     int         // 画像幅
	Height    int         // 画像高さ
	Format    PixelFormat // 画素の並び
	Pix       []byte      // 詰めて格納された画素データ
	Seq       uint64      // デバイス内の通し番号
	Timestamp time.Time   // 取得時刻
}

// Empty はフレームが画像として使えない場合にtrueを返す
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height*BytesPerPixel
}

// Options はデバイスを開く際の設定
type Options struct {
	DeviceIndex int           // デバイス番号（/dev/video<N>）
	Width       int           // 要求する画像幅
	Height      int           // 要求する画像高さ
	FPS         int           // 要求するフレームレート
	OpenTimeout time.Duration // 最初のフレームを待つ時間
}

// Device は開かれたキャプチャデバイス
type Device interface {
	// Read は次のフレームが得られるまでブロックする
	Read(ctx context.Context) (Frame, error)

	// Close はデバイスを解放する。ブロック中の Read はエラーで戻る
	Close() error
}

// Driver はキャプチャデバイスを開く
type Driver interface {
	Name() string
	Open(ctx context.Context, opts Options) (Device, error)
}
