// Package experiment exposes an experiment.Manager over HTTP.
//
// Runs, monitoring and modulation are long lived; the routes that start them
// return 202 (accepted) immediately and the caller polls GET /state or listens
// on the websocket mounted at /monitor/ws.
package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"go/types"
	"log"
	"net/http"

	"github.com/nanocal/nanodaq/acquire"
	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/dataset"
	"github.com/nanocal/nanodaq/experiment"
	"github.com/nanocal/nanodaq/generichttp"
	"github.com/nanocal/nanodaq/generichttp/daq"
	"github.com/nanocal/nanodaq/profile"
	"github.com/nanocal/nanodaq/server"
	"github.com/nanocal/nanodaq/server/middleware/locker"
	"github.com/nanocal/nanodaq/settings"
)

// Manager is the part of an experiment.Manager served here
type Manager interface {
	daq.DAC

	Arm(profile.Programs) error
	Programs() profile.Programs
	Run(context.Context) error
	StopInput()
	State() experiment.State
	Err() error
	Busy() bool
	ReadDataset() (*dataset.Dataset, error)
	Hold(int, float64, profile.Domain) (float64, error)
	Calibration() *calibration.Calibration
	SetCalibration(*calibration.Calibration) error
	Settings() settings.Settings
	Monitor(context.Context) (acquire.Session, error)
	Modulate(context.Context, int) (acquire.Session, error)
}

// HTTPExperiment holds the routes of one manager
type HTTPExperiment struct {
	m Manager

	RouteTable generichttp.RouteTable
}

// NewHTTPExperiment builds the route table for m.  If ws is not nil it is
// served at GET /monitor/ws.
func NewHTTPExperiment(m Manager, ws http.Handler) HTTPExperiment {
	h := HTTPExperiment{m: m}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/arm"}:         Arm(m),
		{Method: http.MethodGet, Path: "/programs"}:     Programs(m),
		{Method: http.MethodPost, Path: "/run"}:         Run(m),
		{Method: http.MethodPost, Path: "/stop"}:        Stop(m),
		{Method: http.MethodGet, Path: "/state"}:        generichttp.GetString(func() (string, error) { return m.State().String(), nil }),
		{Method: http.MethodGet, Path: "/error"}:        LastError(m),
		{Method: http.MethodGet, Path: "/busy"}:         generichttp.GetBool(func() (bool, error) { return m.Busy(), nil }),
		{Method: http.MethodGet, Path: "/dataset"}:      Dataset(m),
		{Method: http.MethodGet, Path: "/dataset.fits"}: DatasetFile(m),
		{Method: http.MethodPost, Path: "/iso"}:         Iso(m),
		{Method: http.MethodGet, Path: "/calibration"}:  GetCalibration(m),
		{Method: http.MethodPost, Path: "/calibration"}: SetCalibration(m),
		{Method: http.MethodGet, Path: "/settings"}:     Settings(m),
		{Method: http.MethodPost, Path: "/monitor"}:     Monitor(m),
		{Method: http.MethodPost, Path: "/modulate"}:    Modulate(m),
	}
	if ws != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/monitor/ws"}] = ws.ServeHTTP
	}
	daq.HTTPBasicDAC(m, rt)
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPExperiment) RT() generichttp.RouteTable {
	return h.RouteTable
}

func busyStatus(err error) int {
	if errors.Is(err, experiment.ErrBusy) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// Arm validates and loads the programs in the body, {"ch0": {"time": [...], "volt": [...]}, ...}
func Arm(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]profile.Program
		err := json.NewDecoder(r.Body).Decode(&raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		programs, err := profile.DecodePrograms(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = m.Arm(programs)
		if err != nil {
			http.Error(w, err.Error(), busyStatus(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Programs returns the armed programs
func Programs(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.ReplyJSON(w, m.Programs().Encode())
	}
}

// Run starts the armed programs in the background
func Run(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Busy() {
			http.Error(w, experiment.ErrBusy.Error(), http.StatusConflict)
			return
		}
		if m.State() != experiment.Armed {
			http.Error(w, experiment.ErrNotArmed.Error(), http.StatusConflict)
			return
		}
		go func() {
			if err := m.Run(context.Background()); err != nil {
				log.Printf("experiment run ended with error: %v", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	}
}

// Stop ends the active run or monitor
func Stop(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.StopInput()
		w.WriteHeader(http.StatusOK)
	}
}

// LastError returns the error of the last run as {"str": ...}, empty if it succeeded
func LastError(m Manager) http.HandlerFunc {
	return generichttp.GetString(func() (string, error) {
		if err := m.Err(); err != nil {
			return err.Error(), nil
		}
		return "", nil
	})
}

// Dataset returns the dataset of the last run as JSON
func Dataset(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := m.ReadDataset()
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		server.ReplyJSON(w, ds.View())
	}
}

// DatasetFile serves the FITS file saved by the last run
func DatasetFile(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dir := m.Settings().Experiment.Paths.Data
		if dir == "" {
			dir = "."
		}
		server.ReplyWithFile(w, r, experiment.DatasetFile, dir)
	}
}

type isoRequest struct {
	Channel int     `json:"channel"`
	Domain  string  `json:"domain"`
	Value   float64 `json:"value"`
}

// Iso holds one output channel at a static value, {"channel": 0, "domain": "temp", "value": 25}.
// The voltage written is returned as {"f64": volts}.
func Iso(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req isoRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Domain == "" {
			req.Domain = profile.Voltage.String()
		}
		domain, err := profile.ParseDomain(req.Domain)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		volts, err := m.Hold(req.Channel, req.Value, domain)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, experiment.ErrBusy) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		hp := server.HumanPayload{T: types.Float64, Float: volts}
		hp.EncodeAndRespond(w, r)
	}
}

// GetCalibration returns the calibration in file form
func GetCalibration(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := m.Calibration().Write(w); err != nil {
			log.Printf("error encoding calibration %v", err)
		}
	}
}

// SetCalibration replaces the calibration with the file in the body
func SetCalibration(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cal, err := calibration.Read(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = m.SetCalibration(cal)
		if err != nil {
			http.Error(w, err.Error(), busyStatus(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Settings returns the active settings
func Settings(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.ReplyJSON(w, m.Settings())
	}
}

// Monitor starts monitoring the inputs in the background
func Monitor(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Busy() {
			http.Error(w, experiment.ErrBusy.Error(), http.StatusConflict)
			return
		}
		go func() {
			sess, err := m.Monitor(context.Background())
			if err != nil {
				log.Printf("monitor ended with error: %v", err)
				return
			}
			log.Printf("monitor ended (%s) after %d halves", sess.Reason, sess.Halves())
		}()
		w.WriteHeader(http.StatusAccepted)
	}
}

type channel struct {
	Channel int `json:"channel"`
}

// Modulate starts the modulation sine on {"channel": n} in the background
func Modulate(m Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req channel
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if m.Busy() {
			http.Error(w, experiment.ErrBusy.Error(), http.StatusConflict)
			return
		}
		go func() {
			sess, err := m.Modulate(context.Background(), req.Channel)
			if err != nil {
				log.Printf("modulation ended with error: %v", err)
				return
			}
			log.Printf("modulation ended (%s) after %d halves", sess.Reason, sess.Halves())
		}()
		w.WriteHeader(http.StatusAccepted)
	}
}

// RunLock locks l while a run is in progress so the outputs cannot be
// changed underneath it
type RunLock struct {
	*locker.Locker
}

// StateChanged satisfies experiment.Listener
func (l RunLock) StateChanged(s experiment.State) {
	if s == experiment.Running {
		l.Lock()
		return
	}
	l.Unlock()
}
