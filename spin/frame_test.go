package spin

import (
	"bytes"
	"image"
	"testing"
	"time"
)

func grayFrame(w, h int) *BufferFrame {
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = byte(i)
	}
	return &BufferFrame{Pix: pix, W: w, H: h, Format: PixelFormatMono8, Stamp: time.Now()}
}

func TestImageMono8(t *testing.T) {
	f := grayFrame(4, 2)
	im, err := Image(f)
	if err != nil {
		t.Fatal(err)
	}
	g, ok := im.(*image.Gray)
	if !ok {
		t.Fatalf("expected *image.Gray, got %T", im)
	}
	if g.Pix[5] != 5 {
		t.Errorf("pixel mismatch, got %d", g.Pix[5])
	}
}

func TestImageBGRSwapsChannels(t *testing.T) {
	f := &BufferFrame{
		Pix:    []byte{10, 20, 30}, // B, G, R
		W:      1,
		H:      1,
		Format: PixelFormatBGR8,
	}
	im, err := Image(f)
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := im.At(0, 0).RGBA()
	if r>>8 != 30 || g>>8 != 20 || b>>8 != 10 {
		t.Errorf("expected RGB 30,20,10 got %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestImageBayerRejected(t *testing.T) {
	f := &BufferFrame{Pix: make([]byte, 4), W: 2, H: 2, Format: PixelFormatBayerRG8}
	if _, err := Image(f); err == nil {
		t.Fatal("expected raw bayer to have no image representation")
	}
}

func TestEncodeFrame(t *testing.T) {
	f := grayFrame(8, 8)
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, f, "png"); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("no png bytes written")
	}
	buf.Reset()
	if err := EncodeFrame(&buf, f, ".jpg"); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("no jpeg bytes written")
	}
	if err := EncodeFrame(&buf, f, "tiff"); err == nil {
		t.Fatal("expected unknown extension to be rejected")
	}
}

func TestDeviceMessageUnwraps(t *testing.T) {
	inner := DeviceError{Op: "Init", Msg: "Camera is on a wrong subnet."}
	if got := DeviceMessage(inner); got != "Camera is on a wrong subnet." {
		t.Errorf("got %q", got)
	}
	if got := DeviceMessage(ErrTimeout); got != "" {
		t.Errorf("expected empty message for non-device error, got %q", got)
	}
}

func TestIsInvalidParameter(t *testing.T) {
	err := InvalidParameterError{Param: "gain", Value: -1, Hint: "a non-negative dB value"}
	if !IsInvalidParameter(err) {
		t.Error("expected true for InvalidParameterError")
	}
	if IsInvalidParameter(ErrTimeout) {
		t.Error("expected false for sentinel error")
	}
}
