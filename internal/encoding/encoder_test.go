package encoding

import (
	"bytes"
	"errors"
	"image/jpeg"
	"sync"
	"testing"

	"camcast/internal/camera"
)

func TestEncodeForTransport_Deterministic(t *testing.T) {
	enc := New(80)
	frame := camera.PatternFrame(64, 48, 3)

	first, err := enc.EncodeForTransport(frame)
	if err != nil {
		t.Fatalf("EncodeForTransport failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		again, err := enc.EncodeForTransport(frame)
		if err != nil {
			t.Fatalf("EncodeForTransport failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("Encoding %d differs from the first one", i)
		}
	}

	img, err := jpeg.Decode(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("Output is not a valid JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("Expected 64x48, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestEncodeForTransport_Concurrent(t *testing.T) {
	enc := New(75)
	frame := camera.PatternFrame(32, 24, 1)

	want, err := enc.EncodeForTransport(frame)
	if err != nil {
		t.Fatalf("EncodeForTransport failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := enc.EncodeForTransport(frame)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, want) {
				errs <- errors.New("concurrent encoding differs")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestEncodeForTransport_InvalidFrame(t *testing.T) {
	enc := New(80)

	testCases := []struct {
		name  string
		frame camera.Frame
	}{
		{"empty", camera.Frame{}},
		{"short buffer", camera.Frame{Width: 4, Height: 4, Format: camera.PixelFormatBGR24, Pix: make([]byte, 10)}},
		{"unknown format", camera.Frame{Width: 1, Height: 1, Format: "yuyv", Pix: make([]byte, 3)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := enc.EncodeForTransport(tc.frame); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Expected ErrInvalidFrame, got %v", err)
			}
		})
	}
}

func TestToImage_ChannelOrder(t *testing.T) {
	bgr := camera.Frame{Width: 1, Height: 1, Format: camera.PixelFormatBGR24, Pix: []byte{10, 20, 30}}
	img, err := ToImage(bgr)
	if err != nil {
		t.Fatalf("ToImage failed: %v", err)
	}
	if got := img.Pix[:4]; got[0] != 30 || got[1] != 20 || got[2] != 10 || got[3] != 255 {
		t.Errorf("BGR conversion: got %v", got)
	}

	rgb := camera.Frame{Width: 1, Height: 1, Format: camera.PixelFormatRGB24, Pix: []byte{10, 20, 30}}
	img, err = ToImage(rgb)
	if err != nil {
		t.Fatalf("ToImage failed: %v", err)
	}
	if got := img.Pix[:4]; got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Errorf("RGB passthrough: got %v", got)
	}
}

func TestEncodeForDisplay(t *testing.T) {
	enc := New(80)
	frame := camera.PatternFrame(640, 480, 1)

	testCases := []struct {
		name        string
		targetWidth int
		wantW       int
		wantH       int
	}{
		{"preview width", 760, 760, 570},
		{"downscale", 320, 320, 240},
		{"same size", 640, 640, 480},
		{"no scaling", 0, 640, 480},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := enc.EncodeForDisplay(frame, tc.targetWidth)
			if err != nil {
				t.Fatalf("EncodeForDisplay failed: %v", err)
			}
			b := img.Bounds()
			if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
				t.Errorf("Expected %dx%d, got %dx%d", tc.wantW, tc.wantH, b.Dx(), b.Dy())
			}
		})
	}
}

func TestNew_QualityFallback(t *testing.T) {
	if q := New(0).Quality(); q != DefaultQuality {
		t.Errorf("Expected default quality %d, got %d", DefaultQuality, q)
	}
	if q := New(55).Quality(); q != 55 {
		t.Errorf("Expected quality 55, got %d", q)
	}
}
