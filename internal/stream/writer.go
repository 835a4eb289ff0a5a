package stream

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// MJPEGの境界文字列
const (
	MJPEGBoundary    = "frame"
	MJPEGContentType = "multipart/x-mixed-replace; boundary=" + MJPEGBoundary
)

var (
	partHeader  = []byte("--" + MJPEGBoundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n")
)

// MJPEGWriter はJPEGをmultipart/x-mixed-replaceのパートとして書き込む
type MJPEGWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewMJPEGWriter は新しいMJPEGWriterを作成する
// w が http.Flusher を実装していれば、パートごとにフラッシュする
func NewMJPEGWriter(w io.Writer) *MJPEGWriter {
	flusher, _ := w.(http.Flusher)
	return &MJPEGWriter{w: w, flusher: flusher}
}

// WriteChunk は1パートを書き込む
func (m *MJPEGWriter) WriteChunk(data []byte) error {
	if _, err := m.w.Write(partHeader); err != nil {
		return err
	}
	if _, err := m.w.Write(data); err != nil {
		return err
	}
	if _, err := m.w.Write(partTrailer); err != nil {
		return err
	}

	if m.flusher != nil {
		m.flusher.Flush()
	}
	return nil
}

// WSWriter はJPEGをWebSocketのバイナリメッセージとして送る
type WSWriter struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSWriter は新しいWSWriterを作成する
func NewWSWriter(conn *websocket.Conn, writeTimeout time.Duration) *WSWriter {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSWriter{conn: conn, writeTimeout: writeTimeout}
}

// WriteChunk は1フレームを1メッセージとして送る
func (w *WSWriter) WriteChunk(data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("WebSocketへの送信に失敗: %w", err)
	}
	return nil
}

// Close は正常終了のクローズメッセージを送る
func (w *WSWriter) Close(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	return w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeTimeout))
}
