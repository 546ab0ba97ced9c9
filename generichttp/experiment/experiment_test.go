package experiment_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/nanocal/nanodaq/calibration"
	"github.com/nanocal/nanodaq/dataset"
	"github.com/nanocal/nanodaq/experiment"
	httpexp "github.com/nanocal/nanodaq/generichttp/experiment"
	"github.com/nanocal/nanodaq/mccdaq"
	"github.com/nanocal/nanodaq/server"
	"github.com/nanocal/nanodaq/server/middleware/locker"
	"github.com/nanocal/nanodaq/settings"
)

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

// frontEnd reads a steady heater and ambient
func frontEnd(ch int, t float64) float64 {
	switch ch {
	case calibration.ChanHeaterCurrent:
		return 0.1
	case calibration.ChanAux:
		return 0.25
	case calibration.ChanHeaterVoltage:
		return 0.2
	}
	return 0
}

const programs = `{
	"ch0": {"time": [0, 2000], "volt": [0.5, 0.5]},
	"ch1": {"time": [0, 2000], "volt": [0, 1]}
}`

func setup(t *testing.T) (*httptest.Server, *experiment.Manager, *mccdaq.Mock) {
	t.Helper()
	cfg := settings.Default()
	cfg.Experiment.Scan.SampleRate = 100
	cfg.Experiment.Scan.PollInterval = time.Millisecond
	cfg.Experiment.Paths.Data = t.TempDir()
	clk := &stepClock{t: time.Unix(0, 0), step: 50 * time.Millisecond}
	board := &mccdaq.Mock{Now: clk.Now, Signal: frontEnd}
	mgr := experiment.New(board, cfg, nil)

	r := chi.NewRouter()
	httpexp.NewHTTPExperiment(mgr, nil).RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mgr, board
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, b
}

func waitFor(t *testing.T, srv *httptest.Server, state string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		_, b := call(t, srv, http.MethodGet, "/state", "")
		var s server.StrT
		if err := json.Unmarshal(b, &s); err != nil {
			t.Fatal(err)
		}
		if s.Str == state {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never became %s, last %s", state, s.Str)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestArmRunAndFetch(t *testing.T) {
	srv, _, _ := setup(t)
	if code, _ := call(t, srv, http.MethodGet, "/dataset", ""); code != http.StatusNotFound {
		t.Errorf("dataset before any run: expected 404, got %d", code)
	}
	if code, _ := call(t, srv, http.MethodPost, "/run", ""); code != http.StatusConflict {
		t.Errorf("run before arm: expected 409, got %d", code)
	}
	if code, b := call(t, srv, http.MethodPost, "/arm", programs); code != http.StatusOK {
		t.Fatalf("arm: expected 200, got %d %s", code, b)
	}
	if _, b := call(t, srv, http.MethodGet, "/programs", ""); !bytes.Contains(b, []byte(`"ch1"`)) {
		t.Errorf("expected the armed programs to list ch1, got %s", b)
	}
	if code, _ := call(t, srv, http.MethodPost, "/run", ""); code != http.StatusAccepted {
		t.Fatalf("run: expected 202, got %d", code)
	}
	waitFor(t, srv, "done")

	code, b := call(t, srv, http.MethodGet, "/dataset", "")
	if code != http.StatusOK {
		t.Fatalf("dataset: expected 200, got %d", code)
	}
	var view dataset.View
	if err := json.Unmarshal(b, &view); err != nil {
		t.Fatal(err)
	}
	if n := len(view.Data["time"]); n != 200 {
		t.Errorf("expected 200 samples, got %d", n)
	}

	code, b = call(t, srv, http.MethodGet, "/dataset.fits", "")
	if code != http.StatusOK {
		t.Fatalf("dataset file: expected 200, got %d", code)
	}
	ds, err := dataset.Read(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if ds.Checksum() != view.Checksum {
		t.Errorf("file checksum %d differs from served %d", ds.Checksum(), view.Checksum)
	}
	if code, _ := call(t, srv, http.MethodPost, "/run", ""); code != http.StatusConflict {
		t.Errorf("run after done without re-arm: expected 409, got %d", code)
	}
}

func TestArmRejectsBadPrograms(t *testing.T) {
	srv, _, _ := setup(t)
	bad := map[string]string{
		"not json":     `{"ch0":`,
		"channel name": `{"heater": {"time": [0, 1000], "volt": [0, 0]}}`,
		"two domains":  `{"ch0": {"time": [0, 1000], "volt": [0, 0], "temp": [0, 0]}}`,
		"mismatch":     `{"ch0": {"time": [0, 1000], "volt": [0, 0]}, "ch1": {"time": [0, 2000], "volt": [0, 0]}}`,
	}
	for name, body := range bad {
		if code, _ := call(t, srv, http.MethodPost, "/arm", body); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, code)
		}
	}
	if _, b := call(t, srv, http.MethodGet, "/state", ""); !bytes.Contains(b, []byte("unarmed")) {
		t.Errorf("expected the manager to stay unarmed, got %s", b)
	}
}

func TestIsoAndOutput(t *testing.T) {
	srv, mgr, board := setup(t)
	code, b := call(t, srv, http.MethodPost, "/iso", `{"channel": 3, "domain": "temp", "value": 4.2}`)
	if code != http.StatusOK {
		t.Fatalf("iso: expected 200, got %d %s", code, b)
	}
	var f server.FloatT
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatal(err)
	}
	want := mgr.Calibration().Inverse([]float64{4.2})[0]
	if v, _ := board.Static(3); f.F64 != want || v != want {
		t.Errorf("expected %f V, got %f (board %f)", want, f.F64, v)
	}
	if code, _ := call(t, srv, http.MethodPost, "/iso", `{"channel": 0, "domain": "amps", "value": 1}`); code != http.StatusBadRequest {
		t.Errorf("unknown domain: expected 400, got %d", code)
	}
	if code, _ := call(t, srv, http.MethodPost, "/output", `{"channel": 1, "voltage": 0.75}`); code != http.StatusOK {
		t.Fatalf("output: expected 200, got %d", code)
	}
	if v, ok := board.Static(1); !ok || v != 0.75 {
		t.Errorf("expected 0.75 V on ch1, got %f", v)
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	srv, mgr, _ := setup(t)
	code, b := call(t, srv, http.MethodGet, "/calibration", "")
	if code != http.StatusOK {
		t.Fatalf("get calibration: expected 200, got %d", code)
	}
	var file map[string]interface{}
	if err := json.Unmarshal(b, &file); err != nil {
		t.Fatal(err)
	}
	file["Info"] = "bench chip 7"
	edited, err := json.Marshal(file)
	if err != nil {
		t.Fatal(err)
	}
	if code, _ := call(t, srv, http.MethodPost, "/calibration", string(edited)); code != http.StatusOK {
		t.Fatalf("set calibration: expected 200, got %d", code)
	}
	if got := mgr.Calibration().Comment; got != "bench chip 7" {
		t.Errorf("expected the new calibration comment, got %q", got)
	}
	if code, _ := call(t, srv, http.MethodPost, "/calibration", "[1, 2"); code != http.StatusBadRequest {
		t.Errorf("garbage calibration: expected 400, got %d", code)
	}
}

func TestSettingsAndEndpoints(t *testing.T) {
	srv, _, _ := setup(t)
	_, b := call(t, srv, http.MethodGet, "/settings", "")
	var s settings.Settings
	if err := json.Unmarshal(b, &s); err != nil {
		t.Fatal(err)
	}
	if s.Experiment.Scan.SampleRate != 100 {
		t.Errorf("expected the served sample rate to be 100, got %f", s.Experiment.Scan.SampleRate)
	}
	_, b = call(t, srv, http.MethodGet, "/endpoints", "")
	var routes []string
	if err := json.Unmarshal(b, &routes); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"POST /arm", "GET /dataset.fits", "POST /output", "POST /modulate"} {
		found := false
		for _, r := range routes {
			found = found || r == want
		}
		if !found {
			t.Errorf("expected %q among %v", want, routes)
		}
	}
}

func TestRunLock(t *testing.T) {
	l := httpexp.RunLock{Locker: locker.New()}
	l.StateChanged(experiment.Running)
	if !l.Locked() {
		t.Error("running did not lock")
	}
	l.StateChanged(experiment.Done)
	if l.Locked() {
		t.Error("done did not unlock")
	}
}
