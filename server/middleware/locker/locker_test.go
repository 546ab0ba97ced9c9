package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nanocal/nanodaq/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func router(l *Locker) http.Handler {
	rt := table{
		{Method: http.MethodPost, Path: "/arm"}:  func(w http.ResponseWriter, r *http.Request) {},
		{Method: http.MethodPost, Path: "/stop"}: func(w http.ResponseWriter, r *http.Request) {},
		{Method: http.MethodGet, Path: "/state"}: func(w http.ResponseWriter, r *http.Request) {},
	}
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)
	return r
}

func do(h http.Handler, method, path, body string) int {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w.Code
}

func TestLockBlocksUnsafeMethods(t *testing.T) {
	l := New("stop")
	h := router(l)
	if code := do(h, http.MethodPost, "/arm", ""); code != http.StatusOK {
		t.Fatalf("unlocked: expected 200, got %d", code)
	}
	if code := do(h, http.MethodPost, "/lock", `{"bool": true}`); code != http.StatusOK {
		t.Fatalf("locking: expected 200, got %d", code)
	}
	if !l.Locked() {
		t.Fatal("POST /lock true did not lock")
	}
	if code := do(h, http.MethodPost, "/arm", ""); code != http.StatusLocked {
		t.Errorf("locked arm: expected 423, got %d", code)
	}
	if code := do(h, http.MethodPost, "/stop", ""); code != http.StatusOK {
		t.Errorf("unprotected stop: expected 200, got %d", code)
	}
	if code := do(h, http.MethodGet, "/state", ""); code != http.StatusOK {
		t.Errorf("locked GET: expected 200, got %d", code)
	}
	if code := do(h, http.MethodPost, "/lock", `{"bool": false}`); code != http.StatusOK {
		t.Fatalf("unlocking: expected 200, got %d", code)
	}
	if code := do(h, http.MethodPost, "/arm", ""); code != http.StatusOK {
		t.Errorf("unlocked again: expected 200, got %d", code)
	}
}

func TestHTTPGet(t *testing.T) {
	l := New()
	l.Lock()
	w := httptest.NewRecorder()
	l.HTTPGet(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"bool":true}` {
		t.Errorf("expected {\"bool\":true}, got %s", got)
	}
}

func TestHTTPSetRejectsGarbage(t *testing.T) {
	if code := do(router(New()), http.MethodPost, "/lock", "yes"); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}
