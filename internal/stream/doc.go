// Package stream はネットワーククライアント1件分のフレーム配信を扱う
//
// Session は Gate が有効な間だけカメラからフレームを読み取り、
// JPEGにエンコードしてチャンク単位でクライアントへ書き込む。
// Gate が無効化されると、配信中のすべてのセッションは次のフレームまでに終了する。
package stream
