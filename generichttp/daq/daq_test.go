package daq

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nanocal/nanodaq/generichttp"
)

type recorder struct {
	ch  int
	v   float64
	err error
}

func (r *recorder) Output(ch int, v float64) error {
	r.ch, r.v = ch, v
	return r.err
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/output", strings.NewReader(body))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestOutput(t *testing.T) {
	d := &recorder{}
	w := post(Output(d), `{"channel": 2, "voltage": 1.25}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if d.ch != 2 || d.v != 1.25 {
		t.Errorf("expected channel 2 at 1.25 V, got %d at %v", d.ch, d.v)
	}
}

func TestOutputErrors(t *testing.T) {
	d := &recorder{}
	if w := post(Output(d), `{"channel":`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}
	d.err = errors.New("channel out of range")
	if w := post(Output(d), `{"channel": 9, "voltage": 0}`); w.Code != http.StatusInternalServerError {
		t.Errorf("device error: expected 500, got %d", w.Code)
	}
}

func TestHTTPBasicDAC(t *testing.T) {
	table := generichttp.RouteTable{}
	HTTPBasicDAC(&recorder{}, table)
	if _, ok := table[generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}]; !ok {
		t.Error("POST /output was not added to the table")
	}
}
