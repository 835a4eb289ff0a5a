// Package server は、カメラ映像を配信するHTTPサーバーを提供します。
//
// 責務:
//   - 閲覧ページ（埋め込みHTML）の配信
//   - MJPEG（/video_feed）とWebSocket（/ws）によるストリーミング配信
//   - 配信停止（/stop_stream）とスナップショット（/snapshot.jpg）
//   - ヘルスチェックと状態取得API
//   - 指定されたリスナーでの起動とグレースフルシャットダウン
//
// 仕様:
//   - ルーティングはginを使用
//   - WebSocketはgorilla/websocketを使用
//   - 配信の可否やセッションの生成は Backend に委譲する
package server
