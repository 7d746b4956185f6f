package sink

import (
	"io/ioutil"
	"os"
	"path"
	"testing"
	"time"

	"github.com/gilbo123/spincam/imgrec"
	"github.com/gilbo123/spincam/spin"
)

// compile-time capability checks
var (
	_ Sink     = (*ImageSink)(nil)
	_ Sink     = (*FITSSink)(nil)
	_ Sink     = (*MJPEGSink)(nil)
	_ Sink     = (*GIFSink)(nil)
	_ Streamer = (*ZMQSink)(nil)
)

func grayFrame(w, h int, v byte) *spin.BufferFrame {
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = v
	}
	return &spin.BufferFrame{Pix: pix, W: w, H: h, Format: spin.PixelFormatMono8, Stamp: time.Now()}
}

func TestParseBackend(t *testing.T) {
	cases := []struct {
		in   string
		want Backend
		ok   bool
	}{
		{"image", Image, true},
		{"img", Image, true},
		{"FITS", FITS, true},
		{"mjpeg", MJPEG, true},
		{"avi", MJPEG, true},
		{"gif", GIF, true},
		{"zmq", ZMQ, true},
		{"stream", ZMQ, true},
		{"mpeg4", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseBackend(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseBackend(%q) = %v, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseBackend(%q) should fail", tc.in)
		}
	}
}

func TestImageSinkWritesStills(t *testing.T) {
	dir := t.TempDir()
	s, err := NewImageSink(Options{Folder: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(grayFrame(8, 8, 40), "cam-SIM0001_img-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path.Join(dir, "cam-SIM0001_img-1.png")); err != nil {
		t.Fatalf("expected png on disk: %v", err)
	}
}

func TestImageSinkJPEGWithFilters(t *testing.T) {
	dir := t.TempDir()
	s, err := NewImageSink(Options{Folder: dir, Ext: "jpg", Quality: 80, Grayscale: true, Gamma: 1.4})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(grayFrame(8, 8, 40), "frame"); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path.Join(dir, "frame.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() == 0 {
		t.Fatal("empty jpeg written")
	}
}

func TestFITSSinkWritesCube(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFITSSink(Options{Folder: dir, VideoName: "run1"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Write(grayFrame(8, 8, byte(10*i)), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(path.Join(dir, "run1.fits"))
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 || string(b[:6]) != "SIMPLE" {
		t.Fatal("output does not look like a FITS file")
	}
}

func TestFITSSinkWritesThroughRecorder(t *testing.T) {
	root := t.TempDir()
	rec := &imgrec.Recorder{Root: root, Prefix: "cube"}
	s, err := NewFITSSink(Options{Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Write(grayFrame(8, 8, byte(10*i)), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	day := time.Now().Format("2006-01-02")
	b, err := ioutil.ReadFile(path.Join(root, day, "cube000001.fits"))
	if err != nil {
		t.Fatalf("expected cube in the recorder's dated folder: %v", err)
	}
	if len(b) == 0 || string(b[:6]) != "SIMPLE" {
		t.Fatal("output does not look like a FITS file")
	}
}

func TestFITSSinkRejectsGeometryChange(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFITSSink(Options{Folder: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(grayFrame(8, 8, 0), "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(grayFrame(4, 4, 0), "y"); err == nil {
		t.Fatal("expected geometry mismatch to be rejected")
	}
}

func TestMJPEGSinkConcatenatesFrames(t *testing.T) {
	dir := t.TempDir()
	s, err := NewMJPEGSink(Options{Folder: dir, VideoName: "run1", Quality: 75})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := s.Write(grayFrame(8, 8, byte(i)), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if s.Frames() != 4 {
		t.Errorf("expected 4 frames, got %d", s.Frames())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(path.Join(dir, "run1.mjpeg"))
	if err != nil {
		t.Fatal(err)
	}
	// JFIF SOI marker
	if len(b) < 2 || b[0] != 0xff || b[1] != 0xd8 {
		t.Fatal("output does not start with a JPEG SOI marker")
	}
}

func TestGIFSinkWritesAnimation(t *testing.T) {
	dir := t.TempDir()
	s, err := NewGIFSink(Options{Folder: dir, VideoName: "run1", FPS: 20})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Write(grayFrame(8, 8, byte(50*i)), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(path.Join(dir, "run1.gif"))
	if err != nil {
		t.Fatal(err)
	}
	if len(b) < 6 || string(b[:6]) != "GIF89a" {
		t.Fatal("output does not look like an animated GIF")
	}
}

func TestBindLogsAndContinues(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFITSSink(Options{Folder: dir})
	if err != nil {
		t.Fatal(err)
	}
	cb := Bind(s, nil)
	f := grayFrame(8, 8, 1)
	cb(f, "cam-SIM0001_img-1", true)
	// geometry mismatch fails inside the sink; the callback must swallow it
	bad := grayFrame(4, 4, 1)
	cb(bad, "cam-SIM0001_img-2", true)
}
