package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/audit"
	"github.com/nerrad567/ddc-bridge/internal/bridges/ddc"
	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/hw/simulated"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ddc-bridge/migrations"
)

type nopPublisher struct{}

func (nopPublisher) PublishState(context.Context, int, vcp.Feature, string) error { return nil }
func (nopPublisher) PublishAvailability(context.Context, int, bool) error         { return nil }
func (nopPublisher) Announce(context.Context, registry.Device) error              { return nil }

// busyEngine reports every tick as overlapping.
type busyEngine struct {
	*engine.Engine
}

func (busyEngine) Tick(context.Context) (engine.TickResult, error) {
	return engine.TickResult{}, engine.ErrTickInProgress
}

type fakeHealth struct{ msg ddc.HealthMessage }

func (f fakeHealth) Current() ddc.HealthMessage { return f.msg }

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

type fakeBroker int

func (f fakeBroker) Clients() int { return int(f) }

// checkFunc adapts a function to HealthChecker.
type checkFunc func(context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv     *Server
	handler http.Handler
	port    *simulated.Port
	eng     *engine.Engine
	reg     *registry.Registry
	repo    *audit.SQLiteRepository
	db      *database.DB
}

// testServer builds a server over a real engine driving two simulated
// displays, with a command log in a temp database.
func testServer(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	port := simulated.NewWithDisplays(2)
	inputs := map[string]int{"HDMI": 17, "DisplayPort": 15}
	devices, err := registry.DevicesFromConfig([]config.DisplayConfig{
		{ID: ptr(0), Name: "Left", Inputs: inputs},
		{ID: ptr(1), Inputs: inputs},
	})
	if err != nil {
		t.Fatalf("DevicesFromConfig: %v", err)
	}
	reg, err := registry.New(port, devices)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	t.Cleanup(reg.Close)

	eng := engine.New(engine.Config{PollInterval: time.Hour, HardwareTimeout: 50 * time.Millisecond}, reg, port, nopPublisher{})
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("engine Start: %v", err)
	}

	db, err := database.Open(ctx, database.Config{
		Path:       filepath.Join(t.TempDir(), "api.db"),
		Migrations: migrations.FS,
	})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := audit.NewSQLiteRepository(db.DB)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:   log,
		Displays: reg,
		Engine:   eng,
		Router:   eng.Router(),
		Commands: repo,
		MQTT:     fakeConn(true),
		DB:       db,
		Version:  "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testEnv{srv: srv, handler: srv.buildRouter(), port: port, eng: eng, reg: reg, repo: repo, db: db}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_Validation(t *testing.T) {
	log := logging.Default()
	env := testServer(t)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Displays: env.reg, Engine: env.eng, Router: env.eng.Router()}},
		{"no displays", Deps{Logger: log, Engine: env.eng, Router: env.eng.Router()}},
		{"no router", Deps{Logger: log, Displays: env.reg, Engine: env.eng}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t)
	rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	env = testServer(t, func(d *Deps) {
		d.Health = fakeHealth{msg: ddc.HealthMessage{Bridge: "desk", Status: ddc.HealthDegraded, Reason: "displays unavailable"}}
	})
	msg := decode[ddc.HealthMessage](t, env.do(t, http.MethodGet, "/api/v1/health", "", ""))
	if msg.Status != ddc.HealthDegraded || msg.Reason != "displays unavailable" {
		t.Errorf("health = %+v", msg)
	}
}

func TestListDisplays(t *testing.T) {
	env := testServer(t)
	env.port.Unplug(1)
	if _, err := env.eng.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/displays", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		Displays []DisplayResponse `json:"displays"`
		Count    int               `json:"count"`
	}](t, rec)

	if body.Count != 2 || len(body.Displays) != 2 {
		t.Fatalf("count = %d", body.Count)
	}
	d0 := body.Displays[0]
	if d0.Index != 0 || d0.Name != "Left" || d0.Status != registry.StatusOnline {
		t.Errorf("display 0 = %+v", d0)
	}
	if got := d0.State["input"].Value; got != "DisplayPort" {
		t.Errorf("display 0 input = %q, want DisplayPort", got)
	}
	if body.Displays[1].Status != registry.StatusUnavailable {
		t.Errorf("display 1 status = %s, want unavailable", body.Displays[1].Status)
	}
}

func TestGetDisplay(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/displays/1", http.StatusOK},
		{"/api/v1/displays/9", http.StatusNotFound},
		{"/api/v1/displays/abc", http.StatusBadRequest},
		{"/api/v1/displays/-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "", "")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	d := decode[DisplayResponse](t, env.do(t, http.MethodGet, "/api/v1/displays/1", "", ""))
	if d.Name != "Display 1" || len(d.Features) != 2 {
		t.Errorf("display = %+v", d)
	}
}

func TestSetFeature(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPut, "/api/v1/displays/0/input", "application/json", `{"value":"HDMI"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[CommandResponse](t, rec)
	if resp.Stage != string(engine.StagePublished) || resp.Raw == nil || *resp.Raw != 17 {
		t.Errorf("response = %+v", resp)
	}
	if got := env.port.Value(0, uint8(vcp.CodeInputSource)); got != 17 {
		t.Errorf("hardware input = %d, want 17", got)
	}

	// Plain text bodies are accepted too.
	rec = env.do(t, http.MethodPut, "/api/v1/displays/1/gamer_mode", "text/plain", "FPS")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.port.Value(1, uint8(vcp.CodeGamerMode)); got != 11 {
		t.Errorf("hardware gamer mode = %d, want 11", got)
	}
}

func TestSetFeature_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		ctype  string
		body   string
		unplug bool
		status int
		code   string
	}{
		{"bad json", "/api/v1/displays/0/input", "application/json", "{", false, http.StatusBadRequest, ErrCodeBadRequest},
		{"malformed index", "/api/v1/displays/01/input", "application/json", `{"value":"HDMI"}`, false, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown display", "/api/v1/displays/5/input", "application/json", `{"value":"HDMI"}`, false, http.StatusNotFound, ErrCodeNotFound},
		{"unknown feature", "/api/v1/displays/0/brightness", "application/json", `{"value":"50"}`, false, http.StatusNotFound, ErrCodeNotFound},
		{"invalid symbol", "/api/v1/displays/0/input", "application/json", `{"value":"VGA"}`, false, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"unavailable", "/api/v1/displays/1/input", "application/json", `{"value":"HDMI"}`, true, http.StatusServiceUnavailable, ErrCodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			if tt.unplug {
				env.port.Unplug(1)
				if _, err := env.eng.Tick(context.Background()); err != nil {
					t.Fatalf("Tick: %v", err)
				}
			}

			rec := env.do(t, http.MethodPut, tt.path, tt.ctype, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if e := decode[Error](t, rec); e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
			if len(env.port.Writes()) != 0 {
				t.Error("no hardware write expected")
			}
		})
	}
}

func TestSetFeature_NoChangeSentinel(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPut, "/api/v1/displays/0/input", "text/plain", "OFF")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if resp := decode[CommandResponse](t, rec); resp.Stage != string(engine.StageIgnored) {
		t.Errorf("stage = %q", resp.Stage)
	}
}

func TestSetFeature_HardwareFailure(t *testing.T) {
	env := testServer(t)
	env.port.SetWriteFailure(0, true)

	rec := env.do(t, http.MethodPut, "/api/v1/displays/0/input", "application/json", `{"value":"HDMI"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if e := decode[Error](t, rec); e.Code != ErrCodeHardware {
		t.Errorf("code = %q", e.Code)
	}
}

func TestReconcile(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/reconcile", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["devices"] != float64(2) {
		t.Errorf("devices = %v, want 2", body["devices"])
	}

	busy := testServer(t, func(d *Deps) { d.Engine = busyEngine{Engine: d.Engine.(*engine.Engine)} })
	rec = busy.do(t, http.MethodPost, "/api/v1/reconcile", "", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestReconcile_SurvivesClientHangup(t *testing.T) {
	env := testServer(t)

	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, body %s", i, rec.Code, rec.Body.String())
		}
	}

	for _, info := range env.reg.Snapshot() {
		if info.Status != registry.StatusOnline {
			t.Errorf("display %d status = %s, want online", info.Index, info.Status)
		}
	}
	if got := env.eng.Stats().ReadsFailed; got != 0 {
		t.Errorf("ReadsFailed = %d, want 0", got)
	}
}

func TestListCommands(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	for _, e := range []audit.Entry{
		{Source: "mqtt", Identifier: "0:input", Display: ptr(0), Feature: "input", Value: "HDMI", Stage: "published"},
		{Source: "api", Identifier: "1:input", Display: ptr(1), Feature: "input", Value: "VGA", Stage: "rejected"},
	} {
		if err := env.repo.Create(ctx, &e); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	tests := []struct {
		query string
		total int
	}{
		{"", 2},
		{"?display=1", 1},
		{"?stage=published", 1},
		{"?source=api&display=0", 0},
		{"?limit=1", 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/commands"+tt.query, "", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if res := decode[audit.ListResult](t, rec); res.Total != tt.total {
				t.Errorf("total = %d, want %d", res.Total, tt.total)
			}
		})
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/commands?display=x", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad display filter status = %d", rec.Code)
	}

	none := testServer(t, func(d *Deps) { d.Commands = nil })
	if rec := none.do(t, http.MethodGet, "/api/v1/commands", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", rec.Code)
	}
}

func TestCommandsRecordedThroughRecorder(t *testing.T) {
	env := testServer(t)
	rec := audit.NewRecorder(env.repo, 0, nil)
	env.eng.SetObserver(rec)

	env.do(t, http.MethodPut, "/api/v1/displays/0/input", "application/json", `{"value":"HDMI"}`)
	env.do(t, http.MethodPut, "/api/v1/displays/0/input", "application/json", `{"value":"VGA"}`)
	rec.Close()

	res := decode[audit.ListResult](t, env.do(t, http.MethodGet, "/api/v1/commands?source=api", "", ""))
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}
	if res.Entries[0].Stage != "rejected" || res.Entries[1].Stage != "published" {
		t.Errorf("stages = %s, %s", res.Entries[0].Stage, res.Entries[1].Stage)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPut, "/api/v1/displays/0/input", "application/json", `{"value":"HDMI"}`)

	m := decode[SystemMetrics](t, env.do(t, http.MethodGet, "/api/v1/metrics", "", ""))
	if m.Version != "test" || !m.MQTT.Connected {
		t.Errorf("metrics = %+v", m)
	}
	if m.Displays.Total != 2 || m.Displays.Online != 2 {
		t.Errorf("displays = %+v", m.Displays)
	}
	if m.Engine.CommandsApplied != 1 {
		t.Errorf("commands applied = %d, want 1", m.Engine.CommandsApplied)
	}
	if m.Database == nil || m.Database.OpenConnections < 0 {
		t.Fatalf("database = %+v", m.Database)
	}
	if m.Database.Path != env.db.Path() {
		t.Errorf("database path = %q, want %q", m.Database.Path, env.db.Path())
	}
	if m.Database.SchemaVersion != "20260101_000000" || m.Database.PendingMigrations != 0 {
		t.Errorf("schema = %q pending = %d", m.Database.SchemaVersion, m.Database.PendingMigrations)
	}
	if m.MQTT.BrokerClients != nil {
		t.Errorf("broker clients = %d without an embedded broker", *m.MQTT.BrokerClients)
	}
}

func TestMetrics_EmbeddedBroker(t *testing.T) {
	env := testServer(t, func(d *Deps) { d.Broker = fakeBroker(3) })

	m := decode[SystemMetrics](t, env.do(t, http.MethodGet, "/api/v1/metrics", "", ""))
	if m.MQTT.BrokerClients == nil || *m.MQTT.BrokerClients != 3 {
		t.Errorf("broker clients = %v, want 3", m.MQTT.BrokerClients)
	}
}

func TestReady(t *testing.T) {
	down := errors.New("broker unreachable")

	tests := []struct {
		name       string
		checks     func(env *testEnv) map[string]HealthChecker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			checks:     func(*testEnv) map[string]HealthChecker { return nil },
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all healthy",
			checks: func(env *testEnv) map[string]HealthChecker {
				return map[string]HealthChecker{
					"database": env.db,
					"mqtt":     checkFunc(func(context.Context) error { return nil }),
				}
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"database": "ok", "mqtt": "ok"},
		},
		{
			name: "one failing",
			checks: func(env *testEnv) map[string]HealthChecker {
				return map[string]HealthChecker{
					"database": env.db,
					"mqtt":     checkFunc(func(context.Context) error { return down }),
				}
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "ok", "mqtt": down.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.srv.checks = tt.checks(env)

			rec := env.do(t, http.MethodGet, "/api/v1/ready", "", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			got := decode[ReadyResponse](t, rec)
			if got.Ready != (tt.wantStatus == http.StatusOK) {
				t.Errorf("ready = %v", got.Ready)
			}
			if len(got.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", got.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if got.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, got.Checks[name], want)
				}
			}
		})
	}
}

func TestNotFoundAndMethod(t *testing.T) {
	env := testServer(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/displays/0", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := testServer(t)
	big := `{"value":"` + strings.Repeat("x", maxRequestBodySize) + `"}`

	rec := env.do(t, http.MethodPut, "/api/v1/displays/0/input", "application/json", big)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartAndClose(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	if err := env.srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if err := env.srv.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := testServer(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func ptr(v int) *int { return &v }
