package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ポート番号の範囲
const (
	minPort = 1
	maxPort = 65535
)

// ErrInvalidPort はポート番号として解釈できない入力
var ErrInvalidPort = errors.New("無効なポート番号")

// ErrPortInUse は既に使用中のポート
var ErrPortInUse = errors.New("ポートは既に使用されています")

// ParsePort は操作パネルで入力された文字列をポート番号に変換する
// 前後の空白は無視する。符号や数字以外の文字を含む入力は受け付けない
func ParsePort(text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: 空の入力", ErrInvalidPort)
	}

	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPort, text)
		}
	}

	port, err := strconv.Atoi(text)
	if err != nil || port < minPort || port > maxPort {
		return 0, fmt.Errorf("%w: %q (%d-%dの範囲で指定してください)", ErrInvalidPort, text, minPort, maxPort)
	}

	return port, nil
}

// probePort は localhost:port に接続できれば true を返す
// 判定は目安であり、実際の衝突はバインド時に検出する
func probePort(ctx context.Context, port int, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// listen はアドレスにバインドする。失敗は ErrPortInUse として返す
func listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPortInUse, addr, err)
	}
	return ln, nil
}
