// Package encoding はキャプチャしたフレームを配信用JPEGと表示用画像に変換する
package encoding

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"camcast/internal/camera"

	"github.com/disintegration/imaging"
)

// DefaultQuality は配信用JPEGの既定品質
const DefaultQuality = 80

// ErrInvalidFrame は画像として扱えないフレームを表す
var ErrInvalidFrame = errors.New("無効なフレーム")

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Encoder はフレームの変換を行う。状態を持たないため並行に利用できる
type Encoder struct {
	quality int
}

// New は新しいEncoderを作成する。範囲外の品質は既定値に置き換える
func New(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{quality: quality}
}

// Quality はJPEG品質を返す
func (e *Encoder) Quality() int {
	return e.quality
}

// EncodeForTransport はフレームをJPEGにエンコードする
// 同じフレームからは常に同じバイト列が得られる
func (e *Encoder) EncodeForTransport(frame camera.Frame) ([]byte, error) {
	img, err := ToImage(frame)
	if err != nil {
		return nil, err
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// EncodeForDisplay はフレームをRGBに変換し、幅 targetWidth に合わせて縮尺する
// 高さは縦横比から決まる。targetWidth が0以下なら元の大きさのまま返す
func (e *Encoder) EncodeForDisplay(frame camera.Frame, targetWidth int) (image.Image, error) {
	img, err := ToImage(frame)
	if err != nil {
		return nil, err
	}

	if targetWidth <= 0 || targetWidth == frame.Width {
		return img, nil
	}

	return imaging.Resize(img, targetWidth, 0, imaging.Linear), nil
}

// ToImage はフレームの画素データを *image.RGBA に変換する
func ToImage(frame camera.Frame) (*image.RGBA, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: %dx%d, %d bytes", ErrInvalidFrame, frame.Width, frame.Height, len(frame.Pix))
	}

	var ri, bi int
	switch frame.Format {
	case camera.PixelFormatBGR24:
		ri, bi = 2, 0
	case camera.PixelFormatRGB24:
		ri, bi = 0, 2
	default:
		return nil, fmt.Errorf("%w: 未対応の画素形式 %q", ErrInvalidFrame, frame.Format)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	src := frame.Pix
	dst := img.Pix
	n := frame.Width * frame.Height
	for p := 0; p < n; p++ {
		s := p * camera.BytesPerPixel
		d := p * 4
		dst[d] = src[s+ri]
		dst[d+1] = src[s+1]
		dst[d+2] = src[s+bi]
		dst[d+3] = 0xff
	}

	return img, nil
}
