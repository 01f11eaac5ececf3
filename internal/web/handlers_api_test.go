package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"espnow-lamp/internal/actuator"
	"espnow-lamp/internal/espnow"
	"espnow-lamp/internal/node"
	"espnow-lamp/internal/store"
)

var (
	lampMAC   = espnow.MAC{0x24, 0x6F, 0x28, 0x00, 0x00, 0x02}
	switchMAC = espnow.MAC{0x24, 0x6F, 0x28, 0x00, 0x00, 0x01}
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	srv  *Server
	node *node.Node
	db   *store.BoltStore
	air  *espnow.Air
	act  *actuator.LogActuator
}

// setupTestServer runs a real node on a loopback air with a bolt store.
func setupTestServer(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	logger := newTestLogger()

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	air := espnow.NewAir(logger)
	radio := air.Join(lampMAC)
	t.Cleanup(func() { radio.Close() })

	act := actuator.NewLogActuator(logger)
	n := node.New(radio, act, db, node.NewEventBus(logger), node.Config{Name: "desk"}, logger)
	if err := n.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(n.Stop)

	srv, err := NewServer(n, db, logger, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)

	return &testEnv{srv: srv, node: n, db: db, air: air, act: act}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var st map[string]any
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return st
}

func TestAPIState(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "GET", "/api/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	st := decodeState(t, w)
	if st["name"] != "desk" || st["level"] != float64(0) || st["status"] != "unbound" || st["bound"] != false {
		t.Errorf("state = %v", st)
	}
	if st["direction"] != "up" {
		t.Errorf("direction = %v, want up", st["direction"])
	}
}

func TestAPISetLevel(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		body      string
		wantCode  int
		wantLevel float64
	}{
		{`{"level": 40}`, http.StatusOK, 40},
		{`{"level": 150}`, http.StatusOK, 100},
		{`{"level": -3}`, http.StatusOK, 0},
		{`{}`, http.StatusBadRequest, 0},
		{`not json`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			w := env.do(t, "POST", "/api/level", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if st := decodeState(t, w); st["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %v", st["level"], tt.wantLevel)
			}
			if got := env.act.Level(); float64(got) != tt.wantLevel {
				t.Errorf("actuator = %d, want %v", got, tt.wantLevel)
			}
		})
	}

	env.node.Stop() // flushes the pending level write
	saved, err := env.db.Level()
	if err != nil {
		t.Fatal(err)
	}
	if saved != 0 {
		t.Errorf("stored level = %d, want 0", saved)
	}
}

func TestAPIGesture(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "POST", "/api/gesture", `{"gesture":"single"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("single: status = %d", w.Code)
	}
	if st := decodeState(t, w); st["level"] != float64(100) {
		t.Errorf("after toggle level = %v, want 100", st["level"])
	}

	// At 100 the ramp flips downward.
	w = env.do(t, "POST", "/api/gesture", `{"gesture":"hold"}`)
	if st := decodeState(t, w); st["level"] != float64(100) || st["direction"] != "down" {
		t.Errorf("after hold state = %v", st)
	}
	w = env.do(t, "POST", "/api/gesture", `{"gesture":"hold"}`)
	if st := decodeState(t, w); st["level"] != float64(92) {
		t.Errorf("after second hold level = %v, want 92", st["level"])
	}

	w = env.do(t, "POST", "/api/gesture", `{"gesture":"double"}`)
	if st := decodeState(t, w); st["status"] != "bound" || st["bound"] != true {
		t.Errorf("after double state = %v", st)
	}
}

func TestAPIGestureInvalid(t *testing.T) {
	env := setupTestServer(t)
	for _, body := range []string{`{"gesture":"triple"}`, `{}`, `[`} {
		if w := env.do(t, "POST", "/api/gesture", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
		}
	}
	if env.node.State().Level != 0 {
		t.Error("invalid gestures must not change the level")
	}
}

func TestAPIPeersFromPairing(t *testing.T) {
	env := setupTestServer(t)

	sw := env.air.Join(switchMAC)
	t.Cleanup(func() { sw.Close() })
	if err := sw.RequestBind(context.Background(), espnow.AttributeKey1, time.Second); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		peers, err := env.db.ListPeers()
		if err != nil {
			t.Fatal(err)
		}
		if len(peers) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("peer was not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w := env.do(t, "GET", "/api/peers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var peers []store.Peer
	if err := json.NewDecoder(w.Body).Decode(&peers); err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 {
		t.Fatalf("peers = %v", peers)
	}
	p := peers[0]
	if p.MAC != switchMAC.String() || p.InitiatorAttribute != uint16(espnow.AttributeKey1) || !p.Bound || p.Binds != 1 {
		t.Errorf("peer = %+v", p)
	}
}

func TestAPIDeletePeer(t *testing.T) {
	env := setupTestServer(t)
	if err := env.db.SavePeer(&store.Peer{MAC: switchMAC.String(), InitiatorAttribute: 0x0101, Bound: true}); err != nil {
		t.Fatal(err)
	}

	// Path MAC is normalized before lookup.
	if w := env.do(t, "DELETE", "/api/peers/246F28000001", ""); w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d, body = %s", w.Code, w.Body)
	}
	if _, err := env.db.GetPeer(switchMAC.String()); err == nil {
		t.Error("peer still stored after delete")
	}
	if w := env.do(t, "DELETE", "/api/peers/24:6f:28:00:00:01", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
	if w := env.do(t, "DELETE", "/api/peers/zz", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad mac: status = %d, want 400", w.Code)
	}
}

func TestAPIPeersWithoutStore(t *testing.T) {
	logger := newTestLogger()
	air := espnow.NewAir(logger)
	radio := air.Join(lampMAC)
	defer radio.Close()
	n := node.New(radio, actuator.NewLogActuator(logger), nil, node.NewEventBus(logger), node.Config{}, logger)

	srv, err := NewServer(n, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/peers", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("status = %d, body = %q", w.Code, w.Body)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/peers/246F28000001", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("delete status = %d, want 404", w.Code)
	}
}

func TestAPIVersion(t *testing.T) {
	env := setupTestServer(t, WithVersion("1.2.3"))
	w := env.do(t, "GET", "/api/version", "")
	if !strings.Contains(w.Body.String(), `"version":"1.2.3"`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestIndexPage(t *testing.T) {
	env := setupTestServer(t, WithVersion("1.2.3"))
	if err := env.db.SavePeer(&store.Peer{MAC: switchMAC.String(), InitiatorAttribute: 0x0101, Bound: true}); err != nil {
		t.Fatal(err)
	}
	env.node.SetLevel(37, "test")

	w := env.do(t, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"<h1>desk</h1>", "1.2.3", ">37<", "unbound", switchMAC.String(), "0x0101"} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q", want)
		}
	}

	if w := env.do(t, "GET", "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown page status = %d, want 404", w.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := setupTestServer(t, WithAPIKey("secret"))

	if w := env.do(t, "GET", "/api/state", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", w.Code)
	}
	if w := env.do(t, "GET", "/api/state", "", "X-API-Key", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}
	if w := env.do(t, "GET", "/api/state", "", "X-API-Key", "secret"); w.Code != http.StatusOK {
		t.Errorf("right key: status = %d, want 200", w.Code)
	}
	// Pages are not key-protected.
	if w := env.do(t, "GET", "/", ""); w.Code != http.StatusOK {
		t.Errorf("index: status = %d, want 200", w.Code)
	}
}

func TestCORS(t *testing.T) {
	env := setupTestServer(t, WithAllowedOrigins([]string{"http://panel.local"}))

	w := env.do(t, "POST", "/api/level", `{"level":5}`, "Origin", "http://evil.example")
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin: status = %d, want 403", w.Code)
	}
	if env.node.State().Level != 0 {
		t.Error("forbidden request changed the level")
	}

	w = env.do(t, "POST", "/api/level", `{"level":5}`, "Origin", "http://panel.local")
	if w.Code != http.StatusOK {
		t.Errorf("allowed origin: status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("allow-origin = %q", got)
	}

	w = env.do(t, "OPTIONS", "/api/level", "", "Origin", "http://panel.local")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight: status = %d, want 204", w.Code)
	}
	w = env.do(t, "OPTIONS", "/api/level", "", "Origin", "http://evil.example")
	if w.Code != http.StatusForbidden {
		t.Errorf("bad preflight: status = %d, want 403", w.Code)
	}

	// Reads are not origin-checked.
	if w := env.do(t, "GET", "/api/state", "", "Origin", "http://evil.example"); w.Code != http.StatusOK {
		t.Errorf("GET foreign origin: status = %d, want 200", w.Code)
	}
}
