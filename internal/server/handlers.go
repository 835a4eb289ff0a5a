package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"camcast/internal/stream"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketの設定
const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsReadLimit    = 512
)

// Handler はHTTPエンドポイントの実装
type Handler struct {
	backend  Backend
	logger   *slog.Logger
	index    []byte
	upgrader websocket.Upgrader
}

// NewHandler は新しいHandlerを作成する
func NewHandler(backend Backend, logger *slog.Logger) (*Handler, error) {
	index, err := indexHTML()
	if err != nil {
		return nil, err
	}

	return &Handler{
		backend: backend,
		logger:  logger,
		index:   index,
		upgrader: websocket.Upgrader{
			// 閲覧ページは任意のオリジンから開かれる
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Index は閲覧ページを返す
func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", h.index)
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はサービス状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.Status())
}

// StopStream は配信を停止する。デバイスとサーバーは動作したまま
func (h *Handler) StopStream(c *gin.Context) {
	h.backend.StopStreaming()
	h.logger.Info("クライアントの要求で配信を停止しました", "remote", c.ClientIP())
	c.String(http.StatusOK, "Stream stopped")
}

// VideoFeed はMJPEGストリーミングエンドポイントの実装
func (h *Handler) VideoFeed(c *gin.Context) {
	session, release := h.backend.OpenSession(stream.KindMJPEG, c.Request.RemoteAddr)
	defer release()

	if err := session.Admit(); err != nil {
		respondStreamingDisabled(c)
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", stream.MJPEGContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	if _, ok := c.Writer.(http.Flusher); !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	// 接続の終了は次の書き込みで検知される
	err := session.Run(c.Request.Context(), stream.NewMJPEGWriter(c.Writer))
	h.logSessionEnd(session, err)
}

// Snapshot は現在のフレームを1枚のJPEGとして返す
func (h *Handler) Snapshot(c *gin.Context) {
	session, release := h.backend.OpenSession(stream.KindSnapshot, c.Request.RemoteAddr)
	defer release()

	data, err := session.Snapshot(c.Request.Context())
	if errors.Is(err, stream.ErrStreamingDisabled) {
		respondStreamingDisabled(c)
		return
	}
	if err != nil {
		h.logger.Warn("スナップショットの取得に失敗しました", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "capture_failed",
			Message:   "フレームを取得できませんでした",
			Timestamp: time.Now(),
		})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// WebSocket はWebSocketストリーミングエンドポイントの実装
func (h *Handler) WebSocket(c *gin.Context) {
	session, release := h.backend.OpenSession(stream.KindWebSocket, c.Request.RemoteAddr)
	defer release()

	if err := session.Admit(); err != nil {
		respondStreamingDisabled(c)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocketのアップグレードに失敗しました", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// クライアントからのメッセージは読み捨て、切断を検知する
	go func() {
		defer cancel()
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writer := stream.NewWSWriter(conn, wsWriteTimeout)
	err = session.Run(ctx, writer)
	h.logSessionEnd(session, err)

	if err == nil {
		_ = writer.Close("stream stopped")
	}
}

// logSessionEnd はセッションの終了理由を記録する
func (h *Handler) logSessionEnd(session *stream.Session, err error) {
	attrs := []any{"session", session.ID(), "frames", session.FramesSent()}
	switch {
	case err == nil:
		h.logger.Info("配信を終了しました", attrs...)
	case errors.Is(err, context.Canceled):
		h.logger.Info("クライアントが切断しました", attrs...)
	default:
		h.logger.Warn("配信が異常終了しました", append(attrs, "error", err)...)
	}
}

// respondStreamingDisabled は配信停止中のレスポンスを返す
func respondStreamingDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:     "streaming_disabled",
		Message:   "配信は停止されています",
		Details:   stringPtr("操作パネルからサービスを再起動してください"),
		Timestamp: time.Now(),
	})
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}
