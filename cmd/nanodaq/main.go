package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/nanocal/nanodaq/acquire"
	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/experiment"
	httpexp "github.com/nanocal/nanodaq/generichttp/experiment"
	"github.com/nanocal/nanodaq/mccdaq"
	"github.com/nanocal/nanodaq/monitor"
	"github.com/nanocal/nanodaq/profile"
	"github.com/nanocal/nanodaq/server/middleware/locker"
	"github.com/nanocal/nanodaq/settings"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "nanodaq.yml"
)

func root() {
	str := `nanodaq drives a nanocalorimeter through an MCC DAQ board: it plays voltage
or temperature programs on the analog outputs while capturing the analog inputs,
and converts the capture to physical units with a calibration.

Usage:
	nanodaq <command>

Commands:
	run
	fastheat <programs.yml>
	iso <chN> <temp|volt> <value>
	mkcal
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `nanodaq is amenable to configuration via its .yaml file, nanodaq.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html

Every key may also be set from the environment, with the prefix NANODAQ_ and
a double underscore between levels, e.g.
	NANODAQ_EXPERIMENT__SCAN__SAMPLERATE=20000
	NANODAQ_DAQ__SIMULATE=true

run starts the HTTP server at Addr.  The experiment is mounted at /experiment,
GET /experiment/endpoints lists the routes.

fastheat arms and runs a program file directly, without the server, and saves
the dataset to Experiment.Paths.Data.  Program files look like
	ch0:
	  time: [0, 1000, 2000]
	  volt: [0, 1, 0]
	ch1:
	  time: [0, 2000]
	  temp: [25, 25]
with time in milliseconds.  Every channel must end at the same time.

iso holds one output channel at a voltage, or at a temperature through the
calibration.

mkcal writes the default calibration to Experiment.Paths.Calibration, or
calibration.json if that is empty.`
	fmt.Println(str)
}

func loadconf() settings.Settings {
	c, err := settings.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := loadconf()
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
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("nanodaq version %v\n", Version)
}

func calpath(c settings.Settings) string {
	if c.Experiment.Paths.Calibration != "" {
		return c.Experiment.Paths.Calibration
	}
	return "calibration.json"
}

func mkcal() {
	c := loadconf()
	path := calpath(c)
	err := calibration.Default().Save(path)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("wrote default calibration to", path)
}

// openBoard connects to the configured board, retrying while the device
// enumerates.  A build without driver support fails immediately.
func openBoard(c settings.Settings) (mccdaq.Board, error) {
	if c.DAQ.Simulate {
		log.Println("using a simulated board")
		return &mccdaq.Mock{}, nil
	}
	iface, err := mccdaq.ParseInterfaceType(c.DAQ.Interface)
	if err != nil {
		return nil, err
	}
	var (
		dev       *mccdaq.Device
		permanent error
	)
	op := func() error {
		d, err := mccdaq.Open(iface, c.DAQ.Code)
		if errors.Is(err, mccdaq.ErrNoDriver) {
			permanent = err
			return nil
		}
		if err != nil {
			log.Printf("opening DAQ: %v, retrying", err)
			return err
		}
		dev = d
		return nil
	}
	err = backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func setup(c settings.Settings) (*experiment.Manager, mccdaq.Board) {
	board, err := openBoard(c)
	if err != nil {
		log.Fatalf("error connecting to DAQ: %v", err)
	}
	var cal *calibration.Calibration
	if c.Experiment.Paths.Calibration != "" {
		cal, err = calibration.Load(c.Experiment.Paths.Calibration)
		if err != nil {
			log.Fatalf("error loading calibration: %v", err)
		}
		log.Println("loaded calibration", cal.Comment)
	}
	return experiment.New(board, c, cal), board
}

func run() {
	c := loadconf()
	mgr, board := setup(c)

	hub := monitor.NewHub()
	observers := acquire.Observers{hub}
	mgr.AddListener(hub)

	var mq *monitor.MQTT
	if c.Monitor.MQTTBroker != "" {
		var err error
		mq, err = monitor.NewMQTT(c.Monitor.MQTTBroker, c.Monitor.MQTTTopic)
		if err != nil {
			log.Println("error connecting to MQTT broker, events will not be published", err)
		} else {
			observers = append(observers, mq)
			mgr.AddListener(mq)
		}
	}
	mgr.Observer = observers

	httper := httpexp.NewHTTPExperiment(mgr, hub)
	lock := locker.New("stop", "state", "dataset", "monitor")
	locker.Inject(httper, lock)
	mgr.AddListener(httpexp.RunLock{Locker: lock})

	r := chi.NewRouter()
	r.Use(lock.Check)
	httper.RT().Bind(r)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/experiment", r)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		mgr.StopInput()
		hub.Close()
		if mq != nil {
			mq.Close()
		}
		board.Close()
		os.Exit(0)
	}()
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, root))
}

// spinObserver shows drained buffers on a spinner
type spinObserver struct {
	s *yacspin.Spinner
}

func (o spinObserver) Drained(d acquire.Drain) {
	o.s.Message(fmt.Sprintf("buffer %d, %s half", d.Buffer, d.Half))
}

func fastheat(args []string) {
	if len(args) != 1 {
		log.Fatal("usage: nanodaq fastheat <programs.yml>")
	}
	programs, err := profile.LoadPrograms(args[0])
	if err != nil {
		log.Fatal(err)
	}
	c := loadconf()
	mgr, board := setup(c)
	defer board.Close()

	err = mgr.Arm(programs)
	if err != nil {
		log.Fatal(err)
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " fast heating",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	mgr.Observer = spinObserver{spinner}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	spinner.Start()
	err = mgr.Run(ctx)
	out := filepath.Join(c.Experiment.Paths.Data, experiment.DatasetFile)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		if errors.Is(err, experiment.ErrIncomplete) {
			log.Println("partial dataset saved to", out)
		}
		os.Exit(1)
	}
	spinner.StopMessage("dataset saved to " + out)
	spinner.Stop()
}

func iso(args []string) {
	if len(args) != 3 {
		log.Fatal("usage: nanodaq iso <chN> <temp|volt> <value>")
	}
	ch, err := profile.ParseChannel(args[0])
	if err != nil {
		log.Fatal(err)
	}
	domain, err := profile.ParseDomain(strings.ToLower(args[1]))
	if err != nil {
		log.Fatal(err)
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		log.Fatal(err)
	}
	c := loadconf()
	mgr, board := setup(c)
	defer board.Close()
	volts, err := mgr.Hold(ch, value, domain)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s held at %g %s (%g V)\n", profile.ChannelName(ch), value, domain, volts)
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
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
	case "fastheat":
		fastheat(args[2:])
		return
	case "iso":
		iso(args[2:])
		return
	case "mkcal":
		mkcal()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
