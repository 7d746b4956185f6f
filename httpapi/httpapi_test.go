package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gilbo123/spincam/camera"
	"github.com/gilbo123/spincam/imgrec"
	"github.com/gilbo123/spincam/recovery"
	"github.com/gilbo123/spincam/spin"
)

func testServer(t *testing.T, n int) (*httptest.Server, *camera.Cameras, *spin.SimSystem) {
	t.Helper()
	sys := spin.NewSimSystem(n)
	cams, err := camera.NewCameras(sys)
	if err != nil {
		t.Fatal(err)
	}
	cams.SetLogger(log.New(ioutil.Discard, "", 0))
	fixer := recovery.NewFixer(sys)
	fixer.SetLogger(log.New(ioutil.Discard, "", 0))
	rec := &imgrec.Recorder{Root: t.TempDir()}
	srv := httptest.NewServer(NewServer(cams, fixer, rec).Routes())
	t.Cleanup(srv.Close)
	return srv, cams, sys
}

func postJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestListCameras(t *testing.T) {
	srv, _, _ := testServer(t, 2)
	resp, err := http.Get(srv.URL + "/cameras")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var infos []CameraInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(infos))
	}
	if infos[0].Serial != "SIM0001" || infos[0].Initialised {
		t.Errorf("unexpected first camera %+v", infos[0])
	}
}

func TestUnknownSerialIs404(t *testing.T) {
	srv, _, _ := testServer(t, 1)
	resp := postJSON(t, srv.URL+"/camera/NOPE/initialise", struct{}{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInitialiseAndSetters(t *testing.T) {
	srv, cams, _ := testServer(t, 1)
	base := srv.URL + "/camera/SIM0001"

	// setter before initialise conflicts
	resp := postJSON(t, base+"/gain", map[string]interface{}{"mode": "off", "db": 10.0})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before initialise, got %d", resp.StatusCode)
	}

	resp = postJSON(t, base+"/initialise", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialise: %d", resp.StatusCode)
	}

	resp = postJSON(t, base+"/gain", map[string]interface{}{"mode": "off", "db": 10.0})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("gain: %d", resp.StatusCode)
	}
	c, _ := cams.BySerial("SIM0001")
	g, _ := c.Device().GetFloat(spin.FeatGain)
	if g != 10 {
		t.Errorf("expected 10dB on device, got %g", g)
	}

	// bad parameter is a 400
	resp = postJSON(t, base+"/exposure", map[string]interface{}{"mode": "sometimes"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad mode, got %d", resp.StatusCode)
	}
}

func TestTemperatureEnvelope(t *testing.T) {
	srv, _, _ := testServer(t, 1)
	base := srv.URL + "/camera/SIM0001"
	resp := postJSON(t, base+"/initialise", struct{}{})
	resp.Body.Close()
	resp, err := http.Get(base + "/temperature")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f FloatT
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 42.5 {
		t.Errorf("expected 42.5, got %g", f.F64)
	}
}

func TestGrabFramePNG(t *testing.T) {
	srv, cams, _ := testServer(t, 1)
	base := srv.URL + "/camera/SIM0001"
	resp := postJSON(t, base+"/initialise", struct{}{})
	resp.Body.Close()
	resp, err := http.Get(base + "/frame?fmt=png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := ioutil.ReadAll(resp.Body)
		t.Fatalf("grab: %d %s", resp.StatusCode, b)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %s", ct)
	}
	im, _, err := image.Decode(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := cams.BySerial("SIM0001")
	if c.IsStreaming() {
		t.Error("camera should be stopped after a one-shot grab")
	}
	if im.Bounds().Dx() == 0 {
		t.Error("empty image")
	}
}

func TestAcquireStopRoundTrip(t *testing.T) {
	srv, cams, _ := testServer(t, 1)
	base := srv.URL + "/camera/SIM0001"
	resp := postJSON(t, base+"/initialise", struct{}{})
	resp.Body.Close()
	c, _ := cams.BySerial("SIM0001")
	if err := c.SetFrameRate(100); err != nil {
		t.Fatal(err)
	}

	resp = postJSON(t, srv.URL+"/acquire", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acquire: %d", resp.StatusCode)
	}

	// second acquire while running conflicts
	resp = postJSON(t, srv.URL+"/acquire", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double acquire, got %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/acquiring")
	if err != nil {
		t.Fatal(err)
	}
	var b BoolT
	json.NewDecoder(resp.Body).Decode(&b)
	resp.Body.Close()
	if !b.Bool {
		t.Error("expected acquiring true")
	}

	resp = postJSON(t, srv.URL+"/stop", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d", resp.StatusCode)
	}
	// the run winds down asynchronously
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/acquiring")
		if err != nil {
			t.Fatal(err)
		}
		json.NewDecoder(resp.Body).Decode(&b)
		resp.Body.Close()
		if !b.Bool {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("run did not stop")
}

func TestRecoveryRoutes(t *testing.T) {
	srv, cams, _ := testServer(t, 1)
	resp := postJSON(t, srv.URL+"/camera/SIM0001/force-ip", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("force-ip: %d", resp.StatusCode)
	}
	c, _ := cams.BySerial("SIM0001")
	d := c.Device().(*spin.SimDevice)
	if d.ForceIPCount != 1 {
		t.Errorf("expected 1 force-IP, got %d", d.ForceIPCount)
	}
	resp = postJSON(t, srv.URL+"/camera/SIM0001/reset", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d", resp.StatusCode)
	}
	if d.ResetCount != 1 {
		t.Errorf("expected 1 reset, got %d", d.ResetCount)
	}
}

func TestAutowriteRoutes(t *testing.T) {
	srv, _, _ := testServer(t, 1)
	resp := postJSON(t, srv.URL+"/autowrite/enabled", BoolT{Bool: true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set enabled: %d", resp.StatusCode)
	}
	resp, err := http.Get(srv.URL + "/autowrite/enabled")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var b BoolT
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	if !b.Bool {
		t.Error("enabled did not round trip")
	}
}

func TestAcquireFramesQueryParam(t *testing.T) {
	srv, cams, _ := testServer(t, 1)
	resp := postJSON(t, srv.URL+"/camera/SIM0001/initialise", struct{}{})
	resp.Body.Close()
	c, _ := cams.BySerial("SIM0001")
	if err := c.SetFrameRate(100); err != nil {
		t.Fatal(err)
	}
	resp = postJSON(t, fmt.Sprintf("%s/acquire?frames=%d", srv.URL, 3), struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acquire: %d", resp.StatusCode)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/acquiring")
		if err != nil {
			t.Fatal(err)
		}
		var b BoolT
		json.NewDecoder(resp.Body).Decode(&b)
		resp.Body.Close()
		if !b.Bool {
			resp, err = http.Get(srv.URL + "/last-error")
			if err != nil {
				t.Fatal(err)
			}
			var s StrT
			json.NewDecoder(resp.Body).Decode(&s)
			resp.Body.Close()
			if s.Str != "" {
				t.Fatalf("run failed: %s", s.Str)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("bounded run did not finish")
}
