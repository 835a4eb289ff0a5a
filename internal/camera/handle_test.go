package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHandle_OpenReadRelease(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver()

	handle, err := Open(ctx, driver, Options{DeviceIndex: 0})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !handle.IsOpen() {
		t.Error("Expected handle to be open")
	}
	if handle.DriverName() != "mock" {
		t.Errorf("Expected driver name mock, got %s", handle.DriverName())
	}

	frame, err := handle.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Empty() {
		t.Error("Expected non-empty frame")
	}
	if frame.Format != PixelFormatBGR24 {
		t.Errorf("Expected bgr24, got %s", frame.Format)
	}

	if err := handle.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if handle.IsOpen() {
		t.Error("Expected handle to be closed after release")
	}
	if !driver.LastDevice().Closed() {
		t.Error("Expected device to be closed after release")
	}

	// 解放後の読み取りは ErrHandleClosed
	if _, err := handle.ReadFrame(ctx); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Expected ErrHandleClosed, got %v", err)
	}

	// 二回目の解放もエラーにならない
	if err := handle.Release(); err != nil {
		t.Errorf("Second release failed: %v", err)
	}
}

func TestHandle_ExclusiveOpen(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver()

	first, err := Open(ctx, driver, Options{DeviceIndex: 7})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err = Open(ctx, driver, Options{DeviceIndex: 7})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable for second open, got %v", err)
	}
	if driver.Opens() != 1 {
		t.Errorf("Expected driver to be opened once, got %d", driver.Opens())
	}

	// 別のデバイス番号は開ける
	other, err := Open(ctx, driver, Options{DeviceIndex: 8})
	if err != nil {
		t.Fatalf("Open of another index failed: %v", err)
	}
	_ = other.Release()

	// 解放後は再び開ける
	_ = first.Release()
	again, err := Open(ctx, driver, Options{DeviceIndex: 7})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	_ = again.Release()
}

func TestHandle_OpenFailure(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver()
	driver.SetOpenError(errors.New("permission denied"))

	_, err := Open(ctx, driver, Options{DeviceIndex: 1})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}

	// 失敗時はデバイス番号が解放されている
	driver.SetOpenError(nil)
	handle, err := Open(ctx, driver, Options{DeviceIndex: 1})
	if err != nil {
		t.Fatalf("Open after failure should succeed: %v", err)
	}
	_ = handle.Release()

	if _, err := Open(ctx, nil, Options{DeviceIndex: 1}); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable for nil driver, got %v", err)
	}
}

func TestHandle_ReadFailure(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver()
	driver.SetFailAfter(2)

	handle, err := Open(ctx, driver, Options{DeviceIndex: 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer handle.Release()

	for i := 0; i < 2; i++ {
		if _, err := handle.ReadFrame(ctx); err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
	}

	if _, err := handle.ReadFrame(ctx); !errors.Is(err, ErrReadFailure) {
		t.Fatalf("Expected ErrReadFailure, got %v", err)
	}

	// 内部でリトライしない
	if reads := driver.LastDevice().Reads(); reads != 3 {
		t.Errorf("Expected 3 device reads, got %d", reads)
	}
	if !handle.IsOpen() {
		t.Error("Read failure must not release the handle")
	}
	if handle.FramesRead() != 2 {
		t.Errorf("Expected 2 frames read, got %d", handle.FramesRead())
	}
}

func TestHandle_ReleaseUnblocksRead(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver()
	driver.SetInterval(time.Hour)

	handle, err := Open(ctx, driver, Options{DeviceIndex: 3})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// 最初のフレームはすぐに返る
	if _, err := handle.ReadFrame(ctx); err != nil {
		t.Fatalf("First read failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := handle.ReadFrame(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = handle.Release()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrHandleClosed) {
			t.Errorf("Expected ErrHandleClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Blocked read did not return after release")
	}
}

func TestHandle_ContextCanceled(t *testing.T) {
	driver := NewMockDriver()
	driver.SetInterval(time.Hour)

	handle, err := Open(context.Background(), driver, Options{DeviceIndex: 4})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer handle.Release()

	if _, err := handle.ReadFrame(context.Background()); err != nil {
		t.Fatalf("First read failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := handle.ReadFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if !handle.IsOpen() {
		t.Error("Expected handle to stay open after a canceled read")
	}
}

func TestHandle_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	driver := NewMockDriver()
	driver.SetInterval(time.Millisecond)

	handle, err := Open(ctx, driver, Options{DeviceIndex: 5})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer handle.Release()

	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)

	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				frame, err := handle.ReadFrame(ctx)
				if err != nil {
					t.Errorf("ReadFrame failed: %v", err)
					return
				}
				mu.Lock()
				if seen[frame.Seq] {
					t.Errorf("Frame %d delivered twice", frame.Seq)
				}
				seen[frame.Seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Errorf("Expected 20 distinct frames, got %d", len(seen))
	}
}

func TestHandle_NilIsClosed(t *testing.T) {
	var handle *Handle

	if handle.IsOpen() {
		t.Error("Expected nil handle to be closed")
	}
	if _, err := handle.ReadFrame(context.Background()); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Expected ErrHandleClosed, got %v", err)
	}
	if err := handle.Release(); err != nil {
		t.Errorf("Release of nil handle failed: %v", err)
	}
}
