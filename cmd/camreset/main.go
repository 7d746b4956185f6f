// Command camreset recovers wedged machine vision cameras from the shell.
//
// It can force IP reassignment or issue a device reset, against every
// camera or a single serial, and can list cameras seen on the raw USB bus
// when the vendor SDK no longer enumerates them.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/theckman/yacspin"
	"gopkg.in/yaml.v2"

	"github.com/gilbo123/spincam/recovery"
	"github.com/gilbo123/spincam/spin"
)

// ConfigFileName maps serial numbers to human names for nicer output.
const ConfigFileName = "camreset.yml"

type config struct {
	// Cameras maps serial number to a role label, e.g. "12345": "north rig"
	Cameras map[string]string `yaml:"Cameras"`
}

func loadconfig() config {
	cfg := config{Cameras: map[string]string{}}
	f, err := os.Open(ConfigFileName)
	if err != nil {
		return cfg
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Printf("ignoring malformed %s: %v", ConfigFileName, err)
	}
	return cfg
}

func (c config) label(serial string) string {
	if name, ok := c.Cameras[serial]; ok {
		return fmt.Sprintf("%s (%s)", serial, name)
	}
	return serial
}

func usage() {
	str := `camreset recovers wedged machine vision cameras

Usage:
	camreset <command> [serial]

Commands:
	list              enumerate cameras and their identity
	usb               list cameras seen on the raw USB bus
	force-all         force IP reassignment on every camera
	reset-all         reset every camera
	force <serial>    force IP reassignment on one camera
	reset <serial>    reset one camera

A camreset.yml file mapping serials to names decorates the output:
	Cameras:
	  "12345": north rig`
	fmt.Println(str)
}

func spinner(msg string) (*yacspin.Spinner, error) {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " " + msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		return nil, err
	}
	return s, s.Start()
}

// enumerate builds the fixer, exiting nonzero when no cameras are found.
func enumerate() (*recovery.Fixer, []spin.Device, spin.System) {
	sys := spin.NewSimSystem(2)
	fixer := recovery.NewFixer(sys)
	devs, err := sys.Cameras()
	if err != nil {
		log.Fatal(err)
	}
	if len(devs) == 0 {
		log.Fatal(spin.ErrNoCameras)
	}
	return fixer, devs, sys
}

func list(cfg config) {
	_, devs, sys := enumerate()
	defer sys.Release()
	for _, d := range devs {
		serial, _ := d.GetString(spin.FeatDeviceSerialNumber)
		model, _ := d.GetString(spin.FeatDeviceModelName)
		fmt.Printf("%s  %s\n", cfg.label(serial), model)
	}
}

func usb() {
	cams, err := recovery.ListUSB()
	if err != nil {
		log.Printf("usb enumeration: %v", err)
	}
	if len(cams) == 0 {
		fmt.Println("no cameras on the USB bus")
		os.Exit(1)
	}
	for _, c := range cams {
		fmt.Println(c)
	}
}

func runAll(cfg config, verb string, action func(*recovery.Fixer) error) {
	fixer, devs, sys := enumerate()
	defer sys.Release()
	s, err := spinner(fmt.Sprintf("%s %d cameras", verb, len(devs)))
	if err != nil {
		log.Fatal(err)
	}
	if err := action(fixer); err != nil {
		s.StopFail()
		log.Fatal(err)
	}
	s.Stop()
}

func runOne(cfg config, serial, verb string, action func(*recovery.Fixer, spin.Device) error) {
	fixer, _, sys := enumerate()
	defer sys.Release()
	dev, err := fixer.BySerial(serial)
	if err != nil {
		log.Fatal(err)
	}
	s, serr := spinner(fmt.Sprintf("%s %s", verb, cfg.label(serial)))
	if serr != nil {
		log.Fatal(serr)
	}
	if err := action(fixer, dev); err != nil {
		s.StopFail()
		log.Fatal(err)
	}
	s.Stop()
}

func main() {
	args := os.Args
	if len(args) == 1 {
		usage()
		return
	}
	cfg := loadconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "list":
		list(cfg)
	case "usb":
		usb()
	case "force-all":
		runAll(cfg, "forcing IP on", func(f *recovery.Fixer) error { return f.ForceAll() })
	case "reset-all":
		runAll(cfg, "resetting", func(f *recovery.Fixer) error { return f.ResetAll() })
	case "force":
		if len(args) < 3 {
			log.Fatal("force requires a serial number")
		}
		runOne(cfg, args[2], "forcing IP on", func(f *recovery.Fixer, d spin.Device) error { return f.ForceIP(d) })
	case "reset":
		if len(args) < 3 {
			log.Fatal("reset requires a serial number")
		}
		runOne(cfg, args[2], "resetting", func(f *recovery.Fixer, d spin.Device) error { return f.Reset(d) })
	default:
		usage()
		os.Exit(1)
	}
}
