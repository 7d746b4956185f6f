package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/gilbo123/spincam/camera"
	"github.com/gilbo123/spincam/cammon"
	"github.com/gilbo123/spincam/httpapi"
	"github.com/gilbo123/spincam/imgrec"
	"github.com/gilbo123/spincam/recovery"
	"github.com/gilbo123/spincam/sink"
	"github.com/gilbo123/spincam/spin"
	"github.com/gilbo123/spincam/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "spincam.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// Ext is the still image extension
	Ext string `yaml:"Ext"`

	// Enabled turns automatic saving on
	Enabled bool `yaml:"Enabled"`
}

type sinkcfg struct {
	// Backend selects the sink: image, fits, mjpeg, gif, or zmq.
	// Empty disables event-driven delivery; cameras are polled instead.
	Backend   string  `yaml:"Backend"`
	Folder    string  `yaml:"Folder"`
	VideoName string  `yaml:"VideoName"`
	Ext       string  `yaml:"Ext"`
	FPS       float64 `yaml:"FPS"`
	Quality   int     `yaml:"Quality"`
	Addr      string  `yaml:"Addr"`
	Grayscale bool    `yaml:"Grayscale"`
	Gamma     float64 `yaml:"Gamma"`
}

type camdefaults struct {
	AcquisitionMode string  `yaml:"AcquisitionMode"`
	FrameRate       float64 `yaml:"FrameRate"`
	ExposureMode    string  `yaml:"ExposureMode"`
	ExposureUS      float64 `yaml:"ExposureUS"`
	GainMode        string  `yaml:"GainMode"`
	GainDB          float64 `yaml:"GainDB"`
	PixelFormat     string  `yaml:"PixelFormat"`
	BufferMode      string  `yaml:"BufferMode"`
}

type monitor struct {
	TickSeconds float64 `yaml:"TickSeconds"`
	Capacity    int     `yaml:"Capacity"`
}

type config struct {
	Addr       string      `yaml:"Addr"`
	SimCameras int         `yaml:"SimCameras"`
	Defaults   camdefaults `yaml:"Defaults"`
	Recorder   recorder    `yaml:"Recorder"`
	Sink       sinkcfg     `yaml:"Sink"`
	Monitor    monitor     `yaml:"Monitor"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:       ":8000",
		SimCameras: 2,
		Defaults: camdefaults{
			AcquisitionMode: "continuous",
			FrameRate:       30,
			ExposureMode:    "continuous",
			GainMode:        "continuous",
			PixelFormat:     spin.PixelFormatBayerRG8,
			BufferMode:      "newest-only",
		},
		Recorder: recorder{Root: "frames", Ext: "png"},
		Sink:     sinkcfg{Folder: "frames", FPS: 10},
		Monitor:  monitor{TickSeconds: 5, Capacity: 720},
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `spincamd exposes control of machine vision cameras over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	spincamd <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `spincamd is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

The Defaults block is applied to every camera at bootup.  Values above a
camera's maximum are clamped, not rejected, so a config shared across a
mixed fleet does the right thing on each body.

Sink.Backend selects event-driven delivery: image, fits, mjpeg, gif, or zmq.
When empty, cameras are polled and frames go to the recorder when enabled.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("spincamd version %v\n", Version)
}

// applyDefaults pushes the config's Defaults block onto one camera.
func applyDefaults(c *camera.Camera, d camdefaults) error {
	if err := c.SetAcquisitionMode(d.AcquisitionMode); err != nil {
		return err
	}
	if err := c.SetFrameRate(d.FrameRate); err != nil {
		return err
	}
	if err := c.SetExposure(d.ExposureMode, d.ExposureUS); err != nil {
		return err
	}
	if err := c.SetGain(d.GainMode, d.GainDB); err != nil {
		return err
	}
	if err := c.SetPixelFormat(d.PixelFormat); err != nil {
		return err
	}
	return c.SetStreamBufferMode(d.BufferMode)
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)

	sys := spin.NewSimSystem(cfg.SimCameras)
	defer sys.Release()
	log.Printf("camera library %s", sys.Version())

	cams, err := camera.NewCameras(sys)
	if err != nil {
		log.Fatal(err)
	}
	if err := cams.InitialiseAll(); err != nil {
		log.Fatal(err)
	}
	for _, c := range cams.Cameras() {
		if err := applyDefaults(c, cfg.Defaults); err != nil {
			log.Fatalf("cam %s: applying defaults: %v", c.Serial(), err)
		}
		log.Printf("cam %s: %s %s fw %s", c.Serial(), c.Vendor(), c.Model(), c.Firmware())
	}

	rec := &imgrec.Recorder{
		Root:    cfg.Recorder.Root,
		Prefix:  cfg.Recorder.Prefix,
		Ext:     cfg.Recorder.Ext,
		Enabled: cfg.Recorder.Enabled,
	}
	cams.Recorder = rec

	var snk sink.Sink
	if cfg.Sink.Backend != "" {
		backend, err := sink.ParseBackend(cfg.Sink.Backend)
		if err != nil {
			log.Fatal(err)
		}
		snk, err = sink.New(backend, sink.Options{
			Folder:    cfg.Sink.Folder,
			VideoName: cfg.Sink.VideoName,
			Ext:       cfg.Sink.Ext,
			FPS:       cfg.Sink.FPS,
			Quality:   cfg.Sink.Quality,
			Addr:      cfg.Sink.Addr,
			Grayscale: cfg.Sink.Grayscale,
			Gamma:     cfg.Sink.Gamma,
			Recorder:  rec,
		})
		if err != nil {
			log.Fatal(err)
		}
		defer snk.Close()
		if streamer, ok := snk.(sink.Streamer); ok {
			log.Printf("streaming frames on %s", streamer.Endpoint())
		}
		cb := sink.Bind(snk, log.Default())
		for _, c := range cams.Cameras() {
			if err := c.SetCallback(cb); err != nil {
				log.Fatalf("cam %s: attaching sink: %v", c.Serial(), err)
			}
		}
	}

	fixer := recovery.NewFixer(sys)
	api := httpapi.NewServer(cams, fixer, rec)
	mon := cammon.New(cams, util.SecsToDuration(cfg.Monitor.TickSeconds), cfg.Monitor.Capacity)
	mon.Start()
	defer mon.Stop()

	mux := chi.NewRouter()
	mux.Mount("/", api.Routes())
	mux.Mount("/monitor", mon.Routes())

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	log.Println("now listening for requests at ", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	if err := cams.StopAll(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := cams.DeinitialiseAll(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
