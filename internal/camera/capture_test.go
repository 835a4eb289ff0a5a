package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// fakeFFmpeg はffmpegの代わりに実行するシェルスクリプトを作成する
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write fake ffmpeg: %v", err)
	}
	return path
}

func newFakeV4L2Driver(t *testing.T, index int, body string) *V4L2Driver {
	t.Helper()

	driver := NewV4L2Driver(NewMockDiscovery(DevicePath(index)))
	driver.ffmpegPath = fakeFFmpeg(t, body)
	return driver
}

func TestV4L2Driver_ReadFrames(t *testing.T) {
	ctx := context.Background()

	// 4x2 bgr24 = 24バイトのフレームを6枚出力して終了する
	driver := newFakeV4L2Driver(t, 17, `
i=0
while [ $i -lt 6 ]; do
	printf '%024d' $i
	sleep 0.1
	i=$((i+1))
done`)

	handle, err := Open(ctx, driver, Options{DeviceIndex: 17, Width: 4, Height: 2, OpenTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer handle.Release()

	var last uint64
	for i := 0; i < 2; i++ {
		frame, err := handle.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if frame.Seq <= last {
			t.Errorf("Expected increasing sequence, got %d after %d", frame.Seq, last)
		}
		last = frame.Seq
		if frame.Width != 4 || frame.Height != 2 || frame.Format != PixelFormatBGR24 {
			t.Errorf("Unexpected frame geometry %dx%d %s", frame.Width, frame.Height, frame.Format)
		}
		if len(frame.Pix) != 4*2*BytesPerPixel {
			t.Errorf("Expected %d bytes, got %d", 4*2*BytesPerPixel, len(frame.Pix))
		}
	}

	// 出力が終わると読み取り失敗になる
	var readErr error
	for i := 0; i < 10 && readErr == nil; i++ {
		_, readErr = handle.ReadFrame(ctx)
	}
	if !errors.Is(readErr, ErrReadFailure) {
		t.Fatalf("Expected ErrReadFailure after ffmpeg exits, got %v", readErr)
	}
	if !handle.IsOpen() {
		t.Error("Read failure must not release the handle")
	}
}

func TestV4L2Driver_FrameCopy(t *testing.T) {
	ctx := context.Background()

	driver := newFakeV4L2Driver(t, 18, `
i=0
while [ $i -lt 5 ]; do
	printf '%024d' $i
	sleep 0.1
	i=$((i+1))
done`)

	device, err := driver.Open(ctx, Options{DeviceIndex: 18, Width: 4, Height: 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer device.Close()

	first, err := device.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	snapshot := string(first.Pix)

	second, err := device.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	// 内部バッファが再利用されても返したフレームは変わらない
	if string(first.Pix) != snapshot {
		t.Error("Returned frame was modified by a later read")
	}
	if string(second.Pix) == snapshot {
		t.Error("Expected a different frame on the second read")
	}
}

func TestV4L2Driver_ReleaseStopsProcess(t *testing.T) {
	ctx := context.Background()

	// 1フレームだけ出力して待ち続ける
	driver := newFakeV4L2Driver(t, 19, `
printf '%024d' 1
exec sleep 30`)

	handle, err := Open(ctx, driver, Options{DeviceIndex: 19, Width: 4, Height: 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := handle.ReadFrame(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)

	released := make(chan error, 1)
	go func() {
		released <- handle.Release()
	}()

	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Release failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Release did not return promptly")
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrHandleClosed) {
			t.Errorf("Expected ErrHandleClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Blocked read did not return after release")
	}
}

func TestV4L2Driver_ProcessExitsBeforeFirstFrame(t *testing.T) {
	driver := newFakeV4L2Driver(t, 20, `
echo "Cannot open video device" >&2
exit 1`)

	_, err := driver.Open(context.Background(), Options{DeviceIndex: 20, Width: 4, Height: 2})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
}
