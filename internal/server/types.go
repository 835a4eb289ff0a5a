package server

import (
	"time"

	"camcast/internal/stream"
)

// Backend はハンドラーが必要とするサービス側の機能
type Backend interface {
	// Status は現在の状態を返す
	Status() Status

	// OpenSession は配信セッションを作成して登録する
	// 返された関数はセッション終了時に必ず呼ぶ
	OpenSession(kind stream.Kind, remote string) (*stream.Session, func())

	// StopStreaming は配信を停止する。キャプチャデバイスは開いたまま
	StopStreaming()
}

// Status はサービスの状態
type Status struct {
	State     string        `json:"state"`
	Port      int           `json:"port,omitempty"`
	Streaming bool          `json:"streaming"`
	Device    DeviceStatus  `json:"device"`
	Sessions  []stream.Info `json:"sessions"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// DeviceStatus はキャプチャデバイスの状態
type DeviceStatus struct {
	Driver     string     `json:"driver"`
	Index      int        `json:"index"`
	Open       bool       `json:"open"`
	FramesRead uint64     `json:"frames_read"`
	OpenedAt   *time.Time `json:"opened_at,omitempty"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
