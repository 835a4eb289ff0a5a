// Package preview はキャプチャデバイスの映像を一定間隔でローカル表示に送る
package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"camcast/internal/camera"
	"camcast/internal/config"
)

// 1回の読み取りを待つ上限
const readTimeout = time.Second

// HandleSource は現在開いているキャプチャデバイスを提供する
type HandleSource interface {
	CaptureHandle() *camera.Handle
}

// DisplayEncoder はフレームを表示用の画像に変換する
type DisplayEncoder interface {
	EncodeForDisplay(frame camera.Frame, targetWidth int) (image.Image, error)
}

// Sink はプレビュー画像の表示先
type Sink interface {
	// Publish は新しい画像を表示する
	Publish(img image.Image)

	// Clear は表示を消す
	Clear()
}

// Loop はプレビューの更新ループ
// 配信の可否とは無関係に、デバイスが開いている間は表示を更新する
type Loop struct {
	source   HandleSource
	encoder  DisplayEncoder
	sink     Sink
	interval time.Duration
	width    int
	logger   *slog.Logger

	cleared   bool
	published atomic.Uint64
	failures  atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New は新しいLoopを作成する
func New(source HandleSource, encoder DisplayEncoder, sink Sink, cfg config.PreviewConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		source:   source,
		encoder:  encoder,
		sink:     sink,
		interval: cfg.Interval,
		width:    cfg.Width,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start は更新ループを別ゴルーチンで開始する
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("プレビューは既に開始されています")
	}
	if l.interval <= 0 {
		return fmt.Errorf("無効なプレビュー間隔: %v", l.interval)
	}

	l.running = true
	l.wg.Add(1)
	go l.run(ctx)

	return nil
}

// Stop は更新ループを停止し、終了を待つ
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}

	close(l.stopCh)
	l.wg.Wait()

	l.running = false
	// 再開可能にする
	l.stopCh = make(chan struct{})
}

// run は ticker ごとに Tick を呼ぶ
func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick は1回分の更新を行う。画像を表示できた場合にtrueを返す
// 読み取りや変換の失敗はこの回だけ読み飛ばす
func (l *Loop) Tick(ctx context.Context) bool {
	handle := l.source.CaptureHandle()
	if !handle.IsOpen() {
		l.clear()
		return false
	}

	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	frame, err := handle.ReadFrame(readCtx)
	if err != nil {
		if errors.Is(err, camera.ErrHandleClosed) {
			l.clear()
			return false
		}
		l.failures.Add(1)
		l.logger.Debug("プレビューのフレーム取得に失敗しました", "error", err)
		return false
	}

	img, err := l.encoder.EncodeForDisplay(frame, l.width)
	if err != nil {
		l.failures.Add(1)
		l.logger.Debug("プレビュー画像の変換に失敗しました", "error", err)
		return false
	}

	l.sink.Publish(img)
	l.cleared = false
	l.published.Add(1)
	return true
}

// clear は表示を一度だけ消す
func (l *Loop) clear() {
	if l.cleared {
		return
	}
	l.sink.Clear()
	l.cleared = true
}

// Published は表示した画像の枚数を返す
func (l *Loop) Published() uint64 {
	return l.published.Load()
}

// Failures は読み飛ばした回数を返す
func (l *Loop) Failures() uint64 {
	return l.failures.Load()
}

// LatestSink は最後に受け取った画像だけを保持するSink
type LatestSink struct {
	mu      sync.RWMutex
	img     image.Image
	updated time.Time
	clears  int
}

// NewLatestSink は新しいLatestSinkを作成する
func NewLatestSink() *LatestSink {
	return &LatestSink{}
}

// Publish は画像を保持する
func (s *LatestSink) Publish(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	s.updated = time.Now()
}

// Clear は保持している画像を破棄する
func (s *LatestSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = nil
	s.updated = time.Now()
	s.clears++
}

// Latest は最後に受け取った画像と時刻を返す
func (s *LatestSink) Latest() (image.Image, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img, s.updated
}

// Clears は Clear が呼ばれた回数を返す
func (s *LatestSink) Clears() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clears
}
