package camera

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errDeviceClosed = errors.New("デバイスはクローズされています")

// TestPatternDriver はカメラの代わりに合成画像を生成するドライバー
type TestPatternDriver struct{}

// NewTestPatternDriver は新しいTestPatternDriverを作成する
func NewTestPatternDriver() *TestPatternDriver {
	return &TestPatternDriver{}
}

// Name はドライバー名を返す
func (d *TestPatternDriver) Name() string {
	return DriverTestPattern
}

// Open は合成画像デバイスを作成する
func (d *TestPatternDriver) Open(_ context.Context, opts Options) (Device, error) {
	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}

	interval := time.Second / 30
	if opts.FPS > 0 {
		interval = time.Second / time.Duration(opts.FPS)
	}

	return newPatternDevice(width, height, interval), nil
}

// PatternFrame は通し番号 seq に対応する合成フレームを生成する
// 同じ引数に対しては常に同じ画素データを返す
func PatternFrame(width, height int, seq uint64) Frame {
	pix := make([]byte, width*height*BytesPerPixel)
	bar := int(seq*8) % width

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * BytesPerPixel
			if x >= bar && x < bar+8 {
				pix[i], pix[i+1], pix[i+2] = 255, 255, 255
				continue
			}
			pix[i] = byte(seq)                // B
			pix[i+1] = byte(y * 255 / height) // G
			pix[i+2] = byte(x * 255 / width)  // R
		}
	}

	return Frame{
		Width:  width,
		Height: height,
		Format: PixelFormatBGR24,
		Pix:    pix,
		Seq:    seq,
	}
}

// patternDevice は一定間隔で合成フレームを返す
type patternDevice struct {
	width    int
	height   int
	interval time.Duration

	mu   sync.Mutex
	seq  uint64
	last time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func newPatternDevice(width, height int, interval time.Duration) *patternDevice {
	return &patternDevice{
		width:    width,
		height:   height,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Read は前回の読み取りから interval 経過するまで待ってフレームを返す
func (d *patternDevice) Read(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if wait := d.interval - time.Since(d.last); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-d.done:
			return Frame{}, errDeviceClosed
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}

	select {
	case <-d.done:
		return Frame{}, errDeviceClosed
	default:
	}

	d.seq++
	d.last = time.Now()

	frame := PatternFrame(d.width, d.height, d.seq)
	frame.Timestamp = d.last
	return frame, nil
}

// Close はデバイスを閉じる
func (d *patternDevice) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	return nil
}

// MockDriver はテスト用のドライバー実装
type MockDriver struct {
	mu        sync.Mutex
	name      string
	width     int
	height    int
	interval  time.Duration
	openErr   error
	failAfter int
	opens     int
	devices   []*MockDevice
}

// NewMockDriver は新しいMockDriverを作成する
func NewMockDriver() *MockDriver {
	return &MockDriver{
		name:     "mock",
		width:    64,
		height:   48,
		interval: 5 * time.Millisecond,
	}
}

// Name はドライバー名を返す
func (m *MockDriver) Name() string {
	return m.name
}

// Open はモックデバイスを作成する
func (m *MockDriver) Open(_ context.Context, _ Options) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}

	dev := &MockDevice{
		patternDevice: newPatternDevice(m.width, m.height, m.interval),
		failAfter:     m.failAfter,
	}
	m.devices = append(m.devices, dev)
	return dev, nil
}

// SetOpenError はテスト用にOpen失敗を設定する
func (m *MockDriver) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetFailAfter は n 回の読み取り後に失敗するよう設定する（0は失敗しない）
func (m *MockDriver) SetFailAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// SetInterval はフレーム間隔を設定する
func (m *MockDriver) SetInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = interval
}

// Opens はOpenが呼ばれた回数を返す
func (m *MockDriver) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// LastDevice は最後に開いたデバイスを返す
func (m *MockDriver) LastDevice() *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.devices) == 0 {
		return nil
	}
	return m.devices[len(m.devices)-1]
}

// MockDevice はテスト用のデバイス実装
type MockDevice struct {
	*patternDevice

	stateMu   sync.Mutex
	failAfter int
	reads     int
	closed    bool
}

// Read は合成フレームを返す。failAfter 回を超えると失敗する
func (d *MockDevice) Read(ctx context.Context) (Frame, error) {
	d.stateMu.Lock()
	d.reads++
	fail := d.failAfter > 0 && d.reads > d.failAfter
	d.stateMu.Unlock()

	if fail {
		return Frame{}, errors.New("モック: フレームの読み取りに失敗")
	}
	return d.patternDevice.Read(ctx)
}

// Close はデバイスを閉じる
func (d *MockDevice) Close() error {
	d.stateMu.Lock()
	d.closed = true
	d.stateMu.Unlock()
	return d.patternDevice.Close()
}

// Reads はReadが呼ばれた回数を返す
func (d *MockDevice) Reads() int {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.reads
}

// Closed はCloseが呼ばれたかを返す
func (d *MockDevice) Closed() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.closed
}
