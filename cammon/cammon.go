/*
Package cammon contains the machinery for a camera health monitor.

It samples the device temperature of every initialised camera every
<duration> and stores up to N samples per camera to return over HTTP.
*/
package cammon

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/brandondube/ringo"
	"github.com/go-chi/chi"

	"github.com/gilbo123/spincam/camera"
)

// ring holds the sample history for one camera.
type ring struct {
	T    ringo.CircleF64
	Time ringo.CircleTime
}

// Monitor stores ring buffers of camera temperatures and serves the slices
// over HTTP.
type Monitor struct {
	mu    sync.Mutex
	rings map[string]*ring

	cams     *camera.Cameras
	capacity int
	ticker   *time.Ticker
	stop     chan struct{}
	log      *log.Logger
}

type tempdata struct {
	T    *[]float64   `json:"temp"`
	Time *[]time.Time `json:"timestamp"`
}

// New creates a Monitor sampling every tick, keeping capacity samples per
// camera.
func New(cams *camera.Cameras, tick time.Duration, capacity int) *Monitor {
	return &Monitor{
		rings:    map[string]*ring{},
		cams:     cams,
		capacity: capacity,
		ticker:   time.NewTicker(tick),
		stop:     make(chan struct{}),
		log:      log.Default(),
	}
}

// SetLogger replaces the monitor's logger.
func (m *Monitor) SetLogger(l *log.Logger) { m.log = l }

// Start triggers operation of the monitor.
func (m *Monitor) Start() {
	go m.runner()
}

// Stop kills the monitor.  It may not be restarted.
func (m *Monitor) Stop() {
	close(m.stop)
}

func (m *Monitor) runner() {
	for {
		select {
		case t := <-m.ticker.C:
			m.sample(t)
		case <-m.stop:
			m.ticker.Stop()
			return
		}
	}
}

// sample reads every initialised camera once.  Deinitialised cameras are
// skipped rather than flooding the log; they come and go during recovery.
func (m *Monitor) sample(t time.Time) {
	for _, c := range m.cams.Cameras() {
		if !c.IsInitialised() {
			continue
		}
		temp, err := c.Temperature()
		if err != nil {
			m.log.Printf("cammon: cam %s: %v", c.Serial(), err)
			continue
		}
		m.append(c.Serial(), t, temp)
	}
}

func (m *Monitor) append(serial string, t time.Time, temp float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg, ok := m.rings[serial]
	if !ok {
		rg = &ring{}
		rg.T.Init(m.capacity)
		rg.Time.Init(m.capacity)
		m.rings[serial] = rg
	}
	rg.T.Append(temp)
	rg.Time.Append(t)
}

// Serials returns the cameras with recorded samples.
func (m *Monitor) Serials() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rings))
	for s := range m.rings {
		out = append(out, s)
	}
	return out
}

// History returns the recorded samples for one camera, oldest first.
func (m *Monitor) History(serial string) ([]float64, []time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg, ok := m.rings[serial]
	if !ok {
		return nil, nil, false
	}
	return rg.T.Contiguous(), rg.Time.Contiguous(), true
}

// HTTPYield returns the temperature history of every camera as JSON, keyed
// by serial.
func (m *Monitor) HTTPYield(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := map[string]tempdata{}
	for serial, rg := range m.rings {
		bufT := rg.T.Contiguous()
		bufTime := rg.Time.Contiguous()
		out[serial] = tempdata{T: &bufT, Time: &bufTime}
	}
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Routes mounts the monitor's endpoints on a chi router.
func (m *Monitor) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/temperatures", m.HTTPYield)
	return r
}
