package stream

import (
	"context"
	"sort"
	"sync"
)

// Registry は配信中のセッションを管理する
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	changed  chan struct{}
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		changed:  make(chan struct{}),
	}
}

// Add はセッションを登録する
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Remove はセッションの登録を解除する
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID()]; !ok {
		return
	}
	delete(r.sessions, s.ID())

	close(r.changed)
	r.changed = make(chan struct{})
}

// Count は登録中のセッション数を返す
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List は登録中のセッションのスナップショットを開始順に返す
func (r *Registry) List() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Wait はすべてのセッションが解除されるか ctx が終わるまで待つ
func (r *Registry) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if len(r.sessions) == 0 {
			r.mu.Unlock()
			return nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
