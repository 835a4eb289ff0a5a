// Package service はキャプチャデバイスとHTTPサーバーのライフサイクルを管理する
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"camcast/internal/camera"
	"camcast/internal/config"
	"camcast/internal/encoding"
	"camcast/internal/server"
	"camcast/internal/stream"
)

// ライフサイクル関連のエラー
var (
	ErrAlreadyRunning = errors.New("サービスは既に起動しています")
	ErrClosed         = errors.New("サービスは終了済みです")
)

// Options はControllerの作成に必要な依存関係
type Options struct {
	Config  *config.Config
	Driver  camera.Driver
	Encoder *encoding.Encoder
	Logger  *slog.Logger
}

// Controller はキャプチャデバイスとHTTPサーバーの起動・停止を制御する
// 配信の可否（Gate）を決める唯一の場所でもある
type Controller struct {
	cfg     *config.Config
	driver  camera.Driver
	encoder *encoding.Encoder
	logger  *slog.Logger

	state    *stateMachine
	gate     *stream.Gate
	registry *stream.Registry

	// Start / Stop / Quit を直列化する
	opMu   sync.Mutex
	closed bool

	mu        sync.RWMutex
	handle    *camera.Handle
	srv       *server.Server
	addr      net.Addr
	port      int
	serveDone chan error
}

// New は新しいControllerを作成する
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, errors.New("設定が指定されていません")
	}
	if opts.Driver == nil {
		return nil, errors.New("キャプチャドライバーが指定されていません")
	}

	encoder := opts.Encoder
	if encoder == nil {
		encoder = encoding.New(opts.Config.Stream.JPEGQuality)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:      opts.Config,
		driver:   opts.Driver,
		encoder:  encoder,
		logger:   logger,
		state:    newStateMachine(),
		gate:     stream.NewGate(),
		registry: stream.NewRegistry(),
	}, nil
}

// Start はデバイスを開き、portText のポートでHTTPサーバーを起動する
// 失敗した場合は取得済みの資源を解放し、状態は Idle に戻る
func (c *Controller) Start(ctx context.Context, portText string) error {
	port, err := ParsePort(portText)
	if err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err := c.state.Transition(StateStarting); err != nil {
		return fmt.Errorf("%w (状態: %s)", ErrAlreadyRunning, c.state.Current())
	}

	if err := c.start(ctx, port); err != nil {
		if rbErr := c.state.Transition(StateIdle); rbErr != nil {
			c.logger.Error("状態のロールバックに失敗しました", "error", rbErr)
		}
		c.logger.Warn("サービスの起動に失敗しました", "port", port, "error", err)
		return err
	}

	if err := c.state.Transition(StateRunning); err != nil {
		return err
	}

	c.logger.Info("サービスを起動しました",
		"addr", c.Addr().String(),
		"driver", c.driver.Name(),
		"device", c.cfg.Capture.DeviceIndex)
	return nil
}

// start は Starting 状態で資源を順に取得する
func (c *Controller) start(ctx context.Context, port int) error {
	if probePort(ctx, port, c.cfg.Server.ProbeTimeout) {
		return fmt.Errorf("%w: %d", ErrPortInUse, port)
	}

	handle, err := camera.Open(ctx, c.driver, camera.Options{
		DeviceIndex: c.cfg.Capture.DeviceIndex,
		Width:       c.cfg.Capture.Width,
		Height:      c.cfg.Capture.Height,
		FPS:         c.cfg.Capture.FPS,
		OpenTimeout: c.cfg.Capture.OpenTimeout,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(c.cfg.Server, c, c.logger)
	if err != nil {
		_ = handle.Release()
		return fmt.Errorf("サーバーの作成に失敗: %w", err)
	}

	ln, err := listen(ctx, c.cfg.ListenAddress(port))
	if err != nil {
		_ = handle.Release()
		return err
	}

	done := make(chan error, 1)

	c.mu.Lock()
	c.handle = handle
	c.srv = srv
	c.addr = ln.Addr()
	c.port = port
	c.serveDone = done
	c.mu.Unlock()

	c.gate.Enable()

	go func() {
		err := srv.Serve(ln)
		if err != nil {
			c.logger.Error("HTTPサーバーが停止しました", "error", err)
		}
		done <- err
	}()

	return nil
}

// Stop は配信を止め、デバイスを解放してHTTPサーバーを停止する
// Idle の場合は何もしない
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.stop(ctx)
}

// stop は opMu を保持した状態で呼ぶ
func (c *Controller) stop(ctx context.Context) error {
	if c.state.Current() == StateIdle {
		return nil
	}

	if err := c.state.Transition(StateStopping); err != nil {
		return err
	}

	// 配信中のセッションは次のフレームまでに終了する
	c.gate.Disable()

	c.mu.Lock()
	handle, srv, done := c.handle, c.srv, c.serveDone
	c.handle = nil
	c.srv = nil
	c.addr = nil
	c.port = 0
	c.serveDone = nil
	c.mu.Unlock()

	var errs []error

	if err := handle.Release(); err != nil {
		errs = append(errs, err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, c.cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := <-done; err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.registry.Wait(shutdownCtx); err != nil {
		c.logger.Warn("終了していないセッションがあります", "sessions", c.registry.Count(), "error", err)
	}

	if err := c.state.Transition(StateIdle); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("サービスを停止しました")
	return errors.Join(errs...)
}

// Quit はサービスを停止し、以後の Start を受け付けなくする
func (c *Controller) Quit(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.closed {
		return nil
	}

	err := c.stop(ctx)
	c.closed = true
	c.logger.Info("サービスを終了しました")
	return err
}

// StopStreaming は配信だけを止める。デバイスとサーバーは動作を続ける
func (c *Controller) StopStreaming() {
	c.gate.Disable()
	c.logger.Info("配信を停止しました", "sessions", c.registry.Count())
}

// OpenSession は配信セッションを作成して登録する
func (c *Controller) OpenSession(kind stream.Kind, remote string) (*stream.Session, func()) {
	s := stream.NewSession(stream.SessionConfig{
		Kind:          kind,
		Remote:        remote,
		Gate:          c.gate,
		Source:        c,
		Encoder:       c.encoder,
		FrameInterval: c.cfg.Stream.FrameInterval,
		Logger:        c.logger,
	})
	c.registry.Add(s)

	return s, func() { c.registry.Remove(s) }
}

// ReadFrame は現在開いているデバイスから1フレームを読み取る
func (c *Controller) ReadFrame(ctx context.Context) (camera.Frame, error) {
	return c.CaptureHandle().ReadFrame(ctx)
}

// CaptureHandle は開いているデバイスのHandleを返す。開いていなければnil
// 返されたHandleは借用であり、呼び出し側で解放してはいけない
func (c *Controller) CaptureHandle() *camera.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

// State は現在の状態を返す
func (c *Controller) State() State {
	return c.state.Current()
}

// Streaming は配信が許可されていればtrueを返す
func (c *Controller) Streaming() bool {
	return c.gate.Allowed()
}

// Addr はリッスン中のアドレスを返す。起動していなければnil
func (c *Controller) Addr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

// Sessions は配信中のセッション数を返す
func (c *Controller) Sessions() int {
	return c.registry.Count()
}

// Status は現在の状態を返す
func (c *Controller) Status() server.Status {
	c.mu.RLock()
	handle, port := c.handle, c.port
	c.mu.RUnlock()

	status := server.Status{
		State:     string(c.state.Current()),
		Port:      port,
		Streaming: c.gate.Allowed(),
		Device: server.DeviceStatus{
			Driver: c.driver.Name(),
			Index:  c.cfg.Capture.DeviceIndex,
		},
		Sessions:  c.registry.List(),
		Timestamp: time.Now(),
	}

	if handle != nil {
		status.Device.Open = handle.IsOpen()
		status.Device.FramesRead = handle.FramesRead()
		openedAt := handle.OpenedAt()
		status.Device.OpenedAt = &openedAt
	}
	if startedAt := c.state.StartedAt(); !startedAt.IsZero() {
		status.StartedAt = &startedAt
	}

	return status
}

// NewFromConfig は設定のドライバー名からControllerを作成する
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Controller, error) {
	driver, err := camera.LookupDriver(cfg.Capture.Driver)
	if err != nil {
		return nil, err
	}

	return New(Options{
		Config:  cfg,
		Driver:  driver,
		Encoder: encoding.New(cfg.Stream.JPEGQuality),
		Logger:  logger,
	})
}
