package service

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State はサービスのライフサイクル状態
//
// 許可される遷移:
//
//	idle     -> starting
//	starting -> running | idle（起動失敗時のロールバック）
//	running  -> stopping
//	stopping -> idle
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// ErrInvalidTransition は許可されていない状態遷移
var ErrInvalidTransition = errors.New("不正な状態遷移")

// stateMachine は現在の状態を保持し、遷移を検証する
type stateMachine struct {
	mu        sync.RWMutex
	state     State
	startedAt time.Time
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateIdle}
}

// Current は現在の状態を返す
func (m *stateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StartedAt は Running に遷移した時刻を返す。Running でなければゼロ値
func (m *stateMachine) StartedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startedAt
}

// Transition は next へ遷移する。許可されていない遷移は ErrInvalidTransition を返す
func (m *stateMachine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !allowedTransition(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}

	switch next {
	case StateRunning:
		m.startedAt = time.Now()
	case StateIdle:
		m.startedAt = time.Time{}
	}

	m.state = next
	return nil
}

func allowedTransition(cur, next State) bool {
	switch cur {
	case StateIdle:
		return next == StateStarting
	case StateStarting:
		return next == StateRunning || next == StateIdle
	case StateRunning:
		return next == StateStopping
	case StateStopping:
		return next == StateIdle
	default:
		return false
	}
}
