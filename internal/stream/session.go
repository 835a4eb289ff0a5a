package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"camcast/internal/camera"

	"github.com/google/uuid"
)

// DefaultFrameInterval はフレーム間の既定の待ち時間
const DefaultFrameInterval = 30 * time.Millisecond

// ErrStreamingDisabled は配信が許可されていない状態でセッションを開始した場合のエラー
var ErrStreamingDisabled = errors.New("配信は停止されています")

// Kind はセッションの配信方式
type Kind string

const (
	KindMJPEG     Kind = "mjpeg"
	KindWebSocket Kind = "websocket"
	KindSnapshot  Kind = "snapshot"
)

// State はセッションの状態
type State int32

const (
	StateNegotiating State = iota
	StateStreaming
	StateClosed
)

// String は状態名を返す
func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameSource はフレームの取得元
type FrameSource interface {
	ReadFrame(ctx context.Context) (camera.Frame, error)
}

// FrameEncoder はフレームを配信用のバイト列に変換する
type FrameEncoder interface {
	EncodeForTransport(frame camera.Frame) ([]byte, error)
}

// ChunkWriter はエンコード済みの1フレームをクライアントに書き込む
type ChunkWriter interface {
	WriteChunk(data []byte) error
}

// Info はセッションの状態のスナップショット
type Info struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Remote     string    `json:"remote"`
	State      string    `json:"state"`
	FramesSent uint64    `json:"frames_sent"`
	StartedAt  time.Time `json:"started_at"`
}

// SessionConfig はセッションの作成に必要な依存関係
type SessionConfig struct {
	Kind          Kind
	Remote        string
	Gate          *Gate
	Source        FrameSource
	Encoder       FrameEncoder
	FrameInterval time.Duration
	Logger        *slog.Logger
}

// Session はクライアント1件分の配信
type Session struct {
	id        string
	kind      Kind
	remote    string
	startedAt time.Time

	gate     *Gate
	source   FrameSource
	encoder  FrameEncoder
	interval time.Duration
	logger   *slog.Logger

	state      atomic.Int32
	framesSent atomic.Uint64
}

// NewSession は新しいSessionを作成する
func NewSession(cfg SessionConfig) *Session {
	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	return &Session{
		id:        id,
		kind:      cfg.Kind,
		remote:    cfg.Remote,
		startedAt: time.Now(),
		gate:      cfg.Gate,
		source:    cfg.Source,
		encoder:   cfg.Encoder,
		interval:  interval,
		logger:    logger.With("session", id, "kind", string(cfg.Kind), "remote", cfg.Remote),
	}
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// State は現在の状態を返す
func (s *Session) State() State {
	return State(s.state.Load())
}

// FramesSent は書き込みに成功したフレーム数を返す
func (s *Session) FramesSent() uint64 {
	return s.framesSent.Load()
}

// Info はセッションのスナップショットを返す
func (s *Session) Info() Info {
	return Info{
		ID:         s.id,
		Kind:       s.kind,
		Remote:     s.remote,
		State:      s.State().String(),
		FramesSent: s.FramesSent(),
		StartedAt:  s.startedAt,
	}
}

// Admit は配信が許可されているか確認する
// 許可されていなければセッションは終了状態になり ErrStreamingDisabled を返す
func (s *Session) Admit() error {
	if s.gate == nil || !s.gate.Allowed() {
		s.state.Store(int32(StateClosed))
		return ErrStreamingDisabled
	}
	return nil
}

// Run はセッションが終わるまでフレームを書き込み続ける
//
// Gate の無効化による終了は nil、クライアントの切断は ctx のエラーを返す。
// 読み取り・エンコード・書き込みの失敗はこのセッションだけを終了させる。
func (s *Session) Run(ctx context.Context, w ChunkWriter) error {
	defer s.state.Store(int32(StateClosed))

	if s.gate == nil {
		return ErrStreamingDisabled
	}
	// 許可の確認より先に取得して、確認直後の無効化も取りこぼさない
	revoked := s.gate.Revoked()
	if err := s.Admit(); err != nil {
		return err
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 無効化でブロック中の ReadFrame も戻す
	go func() {
		select {
		case <-revoked:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.state.Store(int32(StateStreaming))
	s.logger.Debug("配信を開始しました")

	timer := time.NewTimer(s.interval)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-revoked:
			s.logger.Debug("配信が停止されたためセッションを終了します", "frames", s.FramesSent())
			return nil
		default:
		}

		err := s.step(ctx, w)
		if err != nil {
			switch {
			case isClosed(revoked):
				s.logger.Debug("配信が停止されたためセッションを終了します", "frames", s.FramesSent())
				return nil
			case parent.Err() != nil:
				s.logger.Debug("クライアントが切断しました", "frames", s.FramesSent())
				return parent.Err()
			default:
				s.logger.Warn("セッションを終了します", "error", err, "frames", s.FramesSent())
				return err
			}
		}

		timer.Reset(s.interval)
		select {
		case <-timer.C:
		case <-revoked:
			s.logger.Debug("配信が停止されたためセッションを終了します", "frames", s.FramesSent())
			return nil
		case <-parent.Done():
			s.logger.Debug("クライアントが切断しました", "frames", s.FramesSent())
			return parent.Err()
		}
	}
}

// step は1フレームを読み取り、エンコードして書き込む
func (s *Session) step(ctx context.Context, w ChunkWriter) error {
	frame, err := s.source.ReadFrame(ctx)
	if err != nil {
		return fmt.Errorf("フレームの取得に失敗: %w", err)
	}

	data, err := s.encoder.EncodeForTransport(frame)
	if err != nil {
		return fmt.Errorf("フレームのエンコードに失敗: %w", err)
	}

	if err := w.WriteChunk(data); err != nil {
		return fmt.Errorf("チャンクの書き込みに失敗: %w", err)
	}

	s.framesSent.Add(1)
	return nil
}

// Snapshot は1フレームだけ取得してエンコード済みのデータを返す
func (s *Session) Snapshot(ctx context.Context) ([]byte, error) {
	defer s.state.Store(int32(StateClosed))

	revoked := s.gate.Revoked()
	if err := s.Admit(); err != nil {
		return nil, err
	}
	s.state.Store(int32(StateStreaming))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-revoked:
			cancel()
		case <-ctx.Done():
		}
	}()

	frame, err := s.source.ReadFrame(ctx)
	if err != nil {
		if isClosed(revoked) {
			return nil, ErrStreamingDisabled
		}
		return nil, fmt.Errorf("フレームの取得に失敗: %w", err)
	}

	data, err := s.encoder.EncodeForTransport(frame)
	if err != nil {
		return nil, fmt.Errorf("フレームのエンコードに失敗: %w", err)
	}

	s.framesSent.Add(1)
	return data, nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
