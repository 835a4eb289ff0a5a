package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// 使用中のデバイス番号
var (
	heldMu  sync.Mutex
	heldIdx = make(map[int]struct{})
)

// Handle は開かれたキャプチャデバイスへの排他的な参照
type Handle struct {
	driver   string
	index    int
	device   Device
	openedAt time.Time

	readMu sync.Mutex
	closed atomic.Bool
	reads  atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// Open はデバイスを取得してHandleを返す
func Open(ctx context.Context, driver Driver, opts Options) (*Handle, error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: ドライバーが指定されていません", ErrDeviceUnavailable)
	}

	if !acquireIndex(opts.DeviceIndex) {
		return nil, fmt.Errorf("%w: デバイス %d は既に使用中です", ErrDeviceUnavailable, opts.DeviceIndex)
	}

	device, err := driver.Open(ctx, opts)
	if err != nil {
		releaseIndex(opts.DeviceIndex)
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w (%s): %w", ErrDeviceUnavailable, driver.Name(), err)
	}

	return &Handle{
		driver:   driver.Name(),
		index:    opts.DeviceIndex,
		device:   device,
		openedAt: time.Now(),
	}, nil
}

// ReadFrame は次のフレームを読み取る
func (h *Handle) ReadFrame(ctx context.Context) (Frame, error) {
	if h == nil || h.closed.Load() {
		return Frame{}, ErrHandleClosed
	}

	h.readMu.Lock()
	defer h.readMu.Unlock()

	// 待機中に解放された場合
	if h.closed.Load() {
		return Frame{}, ErrHandleClosed
	}

	frame, err := h.device.Read(ctx)
	if err != nil {
		if h.closed.Load() {
			return Frame{}, ErrHandleClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		return Frame{}, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}

	h.reads.Add(1)
	return frame, nil
}

// Release はデバイスを解放する。何度呼んでもよい
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}

	h.closeOnce.Do(func() {
		h.closed.Store(true)
		// 読み取りロックは取らない（ブロック中の Read は Close で戻る）
		if err := h.device.Close(); err != nil {
			h.closeErr = fmt.Errorf("デバイス %d の解放に失敗: %w", h.index, err)
		}
		releaseIndex(h.index)
	})

	return h.closeErr
}

// IsOpen はHandleが解放されていなければtrueを返す
func (h *Handle) IsOpen() bool {
	return h != nil && !h.closed.Load()
}

// DeviceIndex はデバイス番号を返す
func (h *Handle) DeviceIndex() int {
	return h.index
}

// DriverName はデバイスを開いたドライバー名を返す
func (h *Handle) DriverName() string {
	return h.driver
}

// OpenedAt はデバイスを開いた時刻を返す
func (h *Handle) OpenedAt() time.Time {
	return h.openedAt
}

// FramesRead はこれまでに読み取りに成功したフレーム数を返す
func (h *Handle) FramesRead() uint64 {
	return h.reads.Load()
}

func acquireIndex(index int) bool {
	heldMu.Lock()
	defer heldMu.Unlock()

	if _, held := heldIdx[index]; held {
		return false
	}
	heldIdx[index] = struct{}{}
	return true
}

func releaseIndex(index int) {
	heldMu.Lock()
	defer heldMu.Unlock()
	delete(heldIdx, index)
}
