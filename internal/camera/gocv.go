//go:build gocv

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

func init() {
	RegisterDriver(&GoCVDriver{})
}

// GoCVDriver はOpenCVのVideoCaptureでデバイスを開く
type GoCVDriver struct{}

// Name はドライバー名を返す
func (d *GoCVDriver) Name() string {
	return DriverGoCV
}

// Open はOpenCVでデバイスを開く
func (d *GoCVDriver) Open(_ context.Context, opts Options) (Device, error) {
	capture, err := gocv.OpenVideoCapture(opts.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("%w: デバイス %d を開けません", ErrDeviceUnavailable, opts.DeviceIndex)
	}

	if opts.Width > 0 && opts.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}
	if opts.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(opts.FPS))
	}

	return &gocvDevice{
		capture: capture,
		mat:     gocv.NewMat(),
	}, nil
}

// gocvDevice はVideoCaptureとフレーム用のMatを保持する
// OpenCVの呼び出しは同時に実行できないため mu で直列化する
type gocvDevice struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	seq     uint64
	closed  bool
}

// Read は1フレームを読み取ってBGRの画素データを返す
func (d *gocvDevice) Read(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Frame{}, errDeviceClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return Frame{}, errors.New("VideoCaptureからフレームを取得できません")
	}
	if d.mat.Type() != gocv.MatTypeCV8UC3 {
		return Frame{}, fmt.Errorf("未対応の画素形式: %v", d.mat.Type())
	}

	d.seq++
	return Frame{
		Width:     d.mat.Cols(),
		Height:    d.mat.Rows(),
		Format:    PixelFormatBGR24,
		Pix:       d.mat.ToBytes(),
		Seq:       d.seq,
		Timestamp: time.Now(),
	}, nil
}

// Close はVideoCaptureを解放する
func (d *gocvDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	_ = d.mat.Close()
	return d.capture.Close()
}
