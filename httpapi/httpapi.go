/*
Package httpapi exposes the camera stack over HTTP.

Routes follow the one-verb-per-endpoint style: GET reads a value back as a
small JSON envelope, POST accepts the same envelope.  Camera-scoped routes
live under /camera/{serial}; acquisition control and the image recorder
knobs are global.
*/
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"github.com/gilbo123/spincam/camera"
	"github.com/gilbo123/spincam/imgrec"
	"github.com/gilbo123/spincam/recovery"
	"github.com/gilbo123/spincam/spin"
)

// FloatT is a float JSON envelope.
type FloatT struct {
	F64 float64 `json:"f64"`
}

// StrT is a string JSON envelope.
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a bool JSON envelope.
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is an int JSON envelope.
type IntT struct {
	Int int `json:"int"`
}

// CameraInfo is the identity and state snapshot served for one camera.
type CameraInfo struct {
	Serial      string `json:"serial"`
	Model       string `json:"model"`
	Vendor      string `json:"vendor"`
	Firmware    string `json:"firmware"`
	Initialised bool   `json:"initialised"`
	Streaming   bool   `json:"streaming"`
}

// Server adapts the camera coordinator to HTTP.
type Server struct {
	cams  *camera.Cameras
	fixer *recovery.Fixer
	rec   *imgrec.Recorder

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	lastErr error
}

// NewServer builds a Server.  fixer and rec may be nil to disable the
// recovery routes and the autowrite routes respectively.
func NewServer(cams *camera.Cameras, fixer *recovery.Fixer, rec *imgrec.Recorder) *Server {
	return &Server{cams: cams, fixer: fixer, rec: rec}
}

// Routes builds the chi router for the whole API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/cameras", s.listCameras)
	r.Post("/acquire", s.acquire)
	r.Post("/stop", s.stop)
	r.Get("/acquiring", s.acquiring)
	r.Get("/last-error", s.lastError)
	r.Route("/camera/{serial}", func(r chi.Router) {
		r.Post("/initialise", s.withCamera(initialise))
		r.Post("/deinitialise", s.withCamera(deinitialise))
		r.Get("/info", s.withCamera(info))
		r.Get("/temperature", s.withCamera(temperature))
		r.Post("/acquisition-mode", s.withCamera(setStr((*camera.Camera).SetAcquisitionMode)))
		r.Post("/buffer-mode", s.withCamera(setStr((*camera.Camera).SetStreamBufferMode)))
		r.Post("/pixel-format", s.withCamera(setStr((*camera.Camera).SetPixelFormat)))
		r.Get("/pixel-format", s.withCamera(getPixelFormat))
		r.Post("/frame-rate", s.withCamera(setFloat((*camera.Camera).SetFrameRate)))
		r.Post("/packet-size", s.withCamera(setInt((*camera.Camera).SetPacketSize)))
		r.Post("/throughput-limit", s.withCamera(setInt((*camera.Camera).SetThroughputLimit)))
		r.Post("/exposure", s.withCamera(setExposure))
		r.Post("/gain", s.withCamera(setGain))
		r.Post("/gamma", s.withCamera(setGamma))
		r.Post("/white-balance", s.withCamera(setWhiteBalance))
		r.Post("/trigger", s.withCamera(setTrigger))
		r.Post("/trigger/software", s.withCamera(fireTrigger))
		r.Get("/frame", s.withCamera(grabFrame))
		if s.fixer != nil {
			r.Post("/force-ip", s.recover(s.fixer.ForceIP))
			r.Post("/reset", s.recover(s.fixer.Reset))
		}
	})
	if s.rec != nil {
		r.Post("/autowrite/root", s.setRecRoot)
		r.Get("/autowrite/root", s.getRecRoot)
		r.Post("/autowrite/enabled", s.setRecEnabled)
		r.Get("/autowrite/enabled", s.getRecEnabled)
	}
	return r
}

// httpError maps stack errors onto status codes: caller mistakes are 400,
// lifecycle violations 409, everything else 500.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case spin.IsInvalidParameter(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, spin.ErrNotInitialised), errors.Is(err, spin.ErrInvalidState), errors.Is(err, spin.ErrNotWritable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	out := make([]CameraInfo, 0, s.cams.Len())
	for _, c := range s.cams.Cameras() {
		out = append(out, snapshot(c))
	}
	respondJSON(w, out)
}

func snapshot(c *camera.Camera) CameraInfo {
	return CameraInfo{
		Serial:      c.Serial(),
		Model:       c.Model(),
		Vendor:      c.Vendor(),
		Firmware:    c.Firmware(),
		Initialised: c.IsInitialised(),
		Streaming:   c.IsStreaming(),
	}
}

// withCamera resolves {serial} and hands the camera to the handler.
func (s *Server) withCamera(fn func(*camera.Camera, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.cams.BySerial(chi.URLParam(r, "serial"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		fn(c, w, r)
	}
}

func (s *Server) recover(action func(spin.Device) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.cams.BySerial(chi.URLParam(r, "serial"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err := action(c.Device()); err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func initialise(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	if err := c.Initialise(); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func deinitialise(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	if err := c.Deinitialise(); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func info(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	respondJSON(w, snapshot(c))
}

func temperature(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	t, err := c.Temperature()
	if err != nil {
		httpError(w, err)
		return
	}
	respondJSON(w, FloatT{F64: t})
}

func getPixelFormat(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	pf, err := c.PixelFormat()
	if err != nil {
		httpError(w, err)
		return
	}
	respondJSON(w, StrT{Str: pf})
}

// setStr adapts a string setter method to a handler consuming StrT.
func setStr(set func(*camera.Camera, string) error) func(*camera.Camera, http.ResponseWriter, *http.Request) {
	return func(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
		v := StrT{}
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		if err := set(c, v.Str); err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func setFloat(set func(*camera.Camera, float64) error) func(*camera.Camera, http.ResponseWriter, *http.Request) {
	return func(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
		v := FloatT{}
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		if err := set(c, v.F64); err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func setInt(set func(*camera.Camera, int) error) func(*camera.Camera, http.ResponseWriter, *http.Request) {
	return func(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
		v := IntT{}
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		if err := set(c, v.Int); err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func setExposure(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	v := struct {
		Mode string  `json:"mode"`
		US   float64 `json:"us"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := c.SetExposure(v.Mode, v.US); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func setGain(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	v := struct {
		Mode string  `json:"mode"`
		DB   float64 `json:"db"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := c.SetGain(v.Mode, v.DB); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func setGamma(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	v := struct {
		Enabled bool    `json:"enabled"`
		Gamma   float64 `json:"gamma"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := c.SetGamma(v.Enabled, v.Gamma); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func setWhiteBalance(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	v := struct {
		Mode string  `json:"mode"`
		Red  float64 `json:"red"`
		Blue float64 `json:"blue"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := c.SetWhiteBalance(v.Mode, v.Red, v.Blue); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func setTrigger(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	v := struct {
		Mode   string `json:"mode"`
		Source string `json:"source"`
		Line   int    `json:"line"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := c.SetTrigger(v.Mode, v.Source, v.Line); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func fireTrigger(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	if err := c.ExecuteSoftwareTrigger(); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// grabFrame takes one picture and returns it in the format given by the fmt
// query parameter, default png.  The camera is started for the grab and
// stopped again if it was idle.
func grabFrame(c *camera.Camera, w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "png"
	}
	wasStreaming := c.IsStreaming()
	if !wasStreaming {
		if err := c.StartAcquisition(); err != nil {
			httpError(w, err)
			return
		}
		defer c.StopAcquisition()
	}
	f, err := c.NextFrame(camera.DefaultGrabTimeout)
	if err != nil {
		httpError(w, err)
		return
	}
	defer f.Release()
	proc := camera.NewProcessor()
	out, err := proc.Convert(f)
	if err != nil {
		httpError(w, err)
		return
	}
	defer out.Release()
	switch format {
	case "jpg", "jpeg":
		w.Header().Set("Content-Type", "image/jpeg")
	default:
		format = "png"
		w.Header().Set("Content-Type", "image/png")
	}
	w.WriteHeader(http.StatusOK)
	if err := spin.EncodeFrame(w, out, format); err != nil {
		// headers are gone; nothing to do but drop the connection
		return
	}
}

// acquire starts an acquisition run in the background.  The frame target
// comes from the frames query parameter or a JSON body {"int": N}; zero
// runs until /stop.
func (s *Server) acquire(w http.ResponseWriter, r *http.Request) {
	target := 0
	if q := r.URL.Query().Get("frames"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		target = n
	} else if r.Body != nil && r.ContentLength > 0 {
		v := IntT{}
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		target = v.Int
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		http.Error(w, "acquisition already running", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.cams.Recorder = s.rec
	go func() {
		err := s.cams.Acquire(ctx, target)
		if serr := s.cams.StopAll(); serr != nil && err == nil {
			err = serr
		}
		s.mu.Lock()
		s.running = false
		s.lastErr = err
		s.mu.Unlock()
	}()
	w.WriteHeader(http.StatusOK)
}

// stop cancels a running acquisition.
func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		http.Error(w, "no acquisition running", http.StatusConflict)
		return
	}
	s.cancel()
	w.WriteHeader(http.StatusOK)
}

// lastError reports the outcome of the most recently finished run, ""
// when it ended cleanly.
func (s *Server) lastError(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	msg := ""
	if s.lastErr != nil {
		msg = s.lastErr.Error()
	}
	s.mu.Unlock()
	respondJSON(w, StrT{Str: msg})
}

// acquiring reports whether a run is in flight.
func (s *Server) acquiring(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	respondJSON(w, BoolT{Bool: running})
}

func (s *Server) setRecRoot(w http.ResponseWriter, r *http.Request) {
	v := StrT{}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	s.rec.Root = v.Str
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getRecRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StrT{Str: s.rec.Root})
}

func (s *Server) setRecEnabled(w http.ResponseWriter, r *http.Request) {
	v := BoolT{}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	s.rec.Enabled = v.Bool
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getRecEnabled(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, BoolT{Bool: s.rec.Enabled})
}
