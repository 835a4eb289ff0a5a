package stream

import "sync"

// Gate は配信の可否を表す共有フラグ
// 無効化されると、有効だった期間に Revoked で取得したチャネルがクローズされる
type Gate struct {
	mu      sync.Mutex
	enabled bool
	revoked chan struct{}
}

// NewGate は無効状態のGateを作成する
func NewGate() *Gate {
	revoked := make(chan struct{})
	close(revoked)
	return &Gate{revoked: revoked}
}

// Enable は配信を許可する
func (g *Gate) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.enabled {
		return
	}
	g.enabled = true
	g.revoked = make(chan struct{})
}

// Disable は配信を停止する。配信中のセッションには Revoked で通知される
func (g *Gate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return
	}
	g.enabled = false
	close(g.revoked)
}

// Allowed は配信が許可されていればtrueを返す
func (g *Gate) Allowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Revoked は現在の許可期間が終わるとクローズされるチャネルを返す
// 無効状態で呼ぶとクローズ済みのチャネルが返る
func (g *Gate) Revoked() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revoked
}
