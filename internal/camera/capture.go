package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// stderrの保持上限
const stderrTailSize = 2048

// V4L2Driver はffmpeg経由でV4L2デバイスから生フレームを取得する
type V4L2Driver struct {
	discovery  Discovery
	ffmpegPath string
}

// NewV4L2Driver は新しいV4L2Driverを作成する
func NewV4L2Driver(discovery Discovery) *V4L2Driver {
	return &V4L2Driver{
		discovery:  discovery,
		ffmpegPath: "ffmpeg",
	}
}

// Name はドライバー名を返す
func (d *V4L2Driver) Name() string {
	return DriverV4L2
}

// Open はffmpegを起動し、最初のフレームが届くまで待つ
func (d *V4L2Driver) Open(ctx context.Context, opts Options) (Device, error) {
	devicePath := DevicePath(opts.DeviceIndex)
	if !d.discovery.IsDeviceAvailable(ctx, devicePath) {
		return nil, fmt.Errorf("%w: デバイスが利用できません: %s", ErrDeviceUnavailable, devicePath)
	}

	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("無効な解像度: %dx%d", opts.Width, opts.Height)
	}

	// プロセスの寿命は Open のコンテキストではなく Close で決まる
	procCtx, cancel := context.WithCancel(context.Background())

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
	}
	if opts.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(opts.FPS))
	}
	args = append(args,
		"-i", devicePath,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-",
	)
	cmd := exec.CommandContext(procCtx, d.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	dev := &v4l2Device{
		cmd:    cmd,
		cancel: cancel,
		width:  opts.Width,
		height: opts.Height,
		next:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go dev.pump(stdout)

	// 最初のフレームでデバイスの動作を確認
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
	defer cancelWait()

	if _, err := dev.Read(waitCtx); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("%w: 最初のフレームを取得できません: %v (stderr: %s)", ErrDeviceUnavailable, err, stderr.String())
	}

	return dev, nil
}

// v4l2Device はffmpegの出力から最新フレームを保持する
type v4l2Device struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	width  int
	height int

	mu     sync.Mutex
	latest []byte
	spare  []byte
	seq    uint64
	ts     time.Time
	next   chan struct{} // 新しいフレームが届くとクローズされる
	err    error

	done      chan struct{}
	closeOnce sync.Once
}

// pump はffmpegの出力を1フレームずつ読み取る
func (d *v4l2Device) pump(r io.Reader) {
	defer close(d.done)

	size := d.width * d.height * BytesPerPixel
	for {
		buf := d.takeSpare(size)
		if _, err := io.ReadFull(r, buf); err != nil {
			d.mu.Lock()
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = errors.New("ffmpegの出力が終了しました")
			}
			d.err = err
			d.mu.Unlock()
			return
		}

		d.mu.Lock()
		d.spare = d.latest
		d.latest = buf
		d.seq++
		d.ts = time.Now()
		close(d.next)
		d.next = make(chan struct{})
		d.mu.Unlock()
	}
}

// takeSpare は再利用可能なバッファを返す
func (d *v4l2Device) takeSpare(size int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.spare
	d.spare = nil
	if len(buf) != size {
		buf = make([]byte, size)
	}
	return buf
}

// Read は次のフレームを待って、そのコピーを返す
func (d *v4l2Device) Read(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	next := d.next
	d.mu.Unlock()

	select {
	case <-next:
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return Frame{}, d.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pix := make([]byte, len(d.latest))
	copy(pix, d.latest)

	return Frame{
		Width:     d.width,
		Height:    d.height,
		Format:    PixelFormatBGR24,
		Pix:       pix,
		Seq:       d.seq,
		Timestamp: d.ts,
	}, nil
}

// Close はffmpegを停止する
func (d *v4l2Device) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		<-d.done
		// キャンセルによる終了コードは無視する
		_ = d.cmd.Wait()
	})
	return nil
}

// tailBuffer は書き込まれたデータの末尾だけを保持する
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
