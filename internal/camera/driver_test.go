package camera

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestLookupDriver(t *testing.T) {
	for _, name := range []string{DriverV4L2, DriverTestPattern} {
		driver, err := LookupDriver(name)
		if err != nil {
			t.Fatalf("LookupDriver(%s) failed: %v", name, err)
		}
		if driver.Name() != name {
			t.Errorf("Expected driver %s, got %s", name, driver.Name())
		}
	}

	if _, err := LookupDriver("no-such-driver"); err == nil {
		t.Error("Expected error for unknown driver")
	}

	names := DriverNames()
	if len(names) < 2 {
		t.Errorf("Expected at least 2 registered drivers, got %v", names)
	}
}

func TestV4L2Driver_DeviceUnavailable(t *testing.T) {
	driver := NewV4L2Driver(NewMockDiscovery())

	_, err := driver.Open(context.Background(), Options{DeviceIndex: 0, Width: 640, Height: 480})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestTestPatternDriver(t *testing.T) {
	ctx := context.Background()
	driver := NewTestPatternDriver()

	device, err := driver.Open(ctx, Options{FPS: 100})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer device.Close()

	first, err := device.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if first.Width != 640 || first.Height != 480 {
		t.Errorf("Expected default 640x480, got %dx%d", first.Width, first.Height)
	}
	if len(first.Pix) != 640*480*BytesPerPixel {
		t.Errorf("Unexpected pixel buffer size %d", len(first.Pix))
	}

	second, err := device.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if second.Seq != first.Seq+1 {
		t.Errorf("Expected sequential frames, got %d then %d", first.Seq, second.Seq)
	}

	_ = device.Close()
	if _, err := device.Read(ctx); err == nil {
		t.Error("Expected error after close")
	}
}

func TestPatternFrame_Deterministic(t *testing.T) {
	a := PatternFrame(32, 24, 5)
	b := PatternFrame(32, 24, 5)
	c := PatternFrame(32, 24, 6)

	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("Expected identical pixels for the same sequence number")
	}
	if bytes.Equal(a.Pix, c.Pix) {
		t.Error("Expected different pixels for different sequence numbers")
	}
}
