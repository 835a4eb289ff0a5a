// Package camera は、キャプチャデバイスの排他的な所有と読み取りを担います。
//
// # 責務
// - キャプチャデバイスのオープンと解放（Handle）
// - フレームのブロッキング読み取り
// - キャプチャドライバー（v4l2 / testsrc / gocv）の登録と選択
// - V4L2デバイスの検出
//
// # 仕様
//   - 1つのデバイス番号に対して同時に開けるHandleは1つだけ
//   - ReadFrame は内部のミューテックスで直列化される
//   - Release は冪等で、解放後の ReadFrame は ErrHandleClosed を返す
//   - 読み取り失敗は ErrReadFailure として返し、内部でリトライしない
//
// # 前提要件
//   - v4l2ドライバー: ffmpeg と v4l-utils
//     Ubuntu/Debian: sudo apt install ffmpeg v4l-utils
//   - gocvドライバー: OpenCV 4 と `-tags gocv` でのビルド
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
