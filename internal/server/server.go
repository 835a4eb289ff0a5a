package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"camcast/internal/config"

	"github.com/gin-gonic/gin"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewRouter はルートを設定したginエンジンを作成する
func NewRouter(backend Backend, logger *slog.Logger) (*gin.Engine, error) {
	handler, err := NewHandler(backend, logger)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/", handler.Index)
	router.GET("/video_feed", handler.VideoFeed)
	router.GET("/stop_stream", handler.StopStream)
	router.GET("/snapshot.jpg", handler.Snapshot)
	router.GET("/ws", handler.WebSocket)

	// ヘルスチェックとAPI
	router.GET("/health", handler.HealthCheck)
	router.GET("/api/status", handler.GetStatus)

	return router, nil
}

// New は新しいServerインスタンスを作成する
func New(cfg config.ServerConfig, backend Backend, logger *slog.Logger) (*Server, error) {
	router, err := NewRouter(backend, logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}, nil
}

// Serve は ln で接続の受け付けを開始し、Shutdown されるまでブロックする
// Shutdown / Close による終了では nil を返す
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTPサーバーを起動しています", "addr", ln.Addr().String())

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("サーバーの実行に失敗: %w", err)
	}
	return nil
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// ctx が先に終わった場合は残りの接続を強制的に閉じる
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("サーバーをシャットダウンしています...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		closeErr := s.httpServer.Close()
		return errors.Join(fmt.Errorf("サーバーのシャットダウンに失敗: %w", err), closeErr)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
