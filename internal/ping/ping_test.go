package ping

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"babyvpn-wails/internal/generator"
	"babyvpn-wails/internal/models"
	"babyvpn-wails/internal/ports"
)

// fakeEngine 读取生成的配置，在 http-in 端口上起一个假的 HTTP 代理
type fakeEngine struct {
	t       *testing.T
	state   *models.AppState
	status  int
	delay   time.Duration
	spawnOK bool

	mu        sync.Mutex
	live      map[int]bool
	maxLive   int
	launched  int
	problems  []string
	addDenied int
}

func newFakeEngine(t *testing.T, state *models.AppState, status int) *fakeEngine {
	return &fakeEngine{t: t, state: state, status: status, spawnOK: true, live: make(map[int]bool)}
}

func (f *fakeEngine) problem(format string, args ...any) {
	f.mu.Lock()
	f.problems = append(f.problems, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeEngine) launch(binary, configPath, logPath string) (Instance, error) {
	if !f.spawnOK {
		return nil, errors.New("launch refused")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg generator.EngineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Primary().Mux != nil {
		f.problem("probe config has mux: %s", configPath)
	}
	httpPort := cfg.Inbounds[1].Port

	if _, err := f.state.AddEntry(models.ServerEntry{}); errors.Is(err, models.ErrProbeInFlight) {
		f.mu.Lock()
		f.addDenied++
		f.mu.Unlock()
	}

	f.mu.Lock()
	if f.live[httpPort] {
		f.problems = append(f.problems, fmt.Sprintf("port %d reused while live", httpPort))
	}
	f.live[httpPort] = true
	f.launched++
	if len(f.live) > f.maxLive {
		f.maxLive = len(f.live)
	}
	f.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", httpPort))
	if err != nil {
		f.release(httpPort)
		return nil, err
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		w.WriteHeader(f.status)
	})}
	go srv.Serve(ln)

	return &fakeInstance{engine: f, srv: srv, port: httpPort}, nil
}

func (f *fakeEngine) release(port int) {
	f.mu.Lock()
	delete(f.live, port)
	f.mu.Unlock()
}

type fakeInstance struct {
	engine *fakeEngine
	srv    *http.Server
	port   int
	once   sync.Once
}

func (i *fakeInstance) Stop() {
	i.once.Do(func() {
		i.srv.Close()
		i.engine.release(i.port)
	})
}

// freeBase 找一段空闲端口作为测速起始端口
func freeBase(t *testing.T) ports.Pair {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	if port > 65000 {
		port = 40000
	}
	return ports.Pair{Socks: port, HTTP: port + 1}
}

func newState(t *testing.T, n int) *models.AppState {
	t.Helper()
	state := models.NewAppState()
	for i := 0; i < n; i++ {
		ob := &models.Outbound{
			Protocol: models.ProtocolVLESS,
			Address:  fmt.Sprintf("s%d.example.com", i),
			Port:     443,
			UserID:   "id",
			Network:  models.NetworkTCP,
			Security: models.SecurityNone,
			Mux:      &models.MuxSettings{Enabled: true, Concurrency: 4},
		}
		if _, err := state.AddEntry(models.NewServerEntry("", "vless://id@x:443", ob)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	return state
}

func newTestOrchestrator(t *testing.T, state *models.AppState, f *fakeEngine) *Orchestrator {
	o := New("xray", t.TempDir(), state, nil)
	o.Grace = 10 * time.Millisecond
	o.Timeout = 2 * time.Second
	o.TargetURL = "http://probe.test/generate_204"
	o.Base = freeBase(t)
	if f != nil {
		o.Launch = f.launch
	}
	return o
}

func TestProbeAll_BoundedAndDisjoint(t *testing.T) {
	state := newState(t, 12)
	f := newFakeEngine(t, state, http.StatusNoContent)
	o := newTestOrchestrator(t, state, f)

	var mu sync.Mutex
	started := map[int]bool{}
	o.OnStart = func(i int) {
		mu.Lock()
		started[i] = true
		mu.Unlock()
	}
	var report Report
	o.OnComplete = func(r Report) { report = r }

	results, err := o.ProbeAll()
	if err != nil {
		t.Fatalf("ProbeAll: %v", err)
	}
	if len(results) != 12 {
		t.Fatalf("results=%d, want=12", len(results))
	}
	for i := 0; i < 12; i++ {
		if !results[i].OK() {
			t.Fatalf("result[%d]=%+v, want success", i, results[i])
		}
	}
	if len(f.problems) > 0 {
		t.Fatalf("problems: %v", f.problems)
	}
	if f.launched != 12 {
		t.Fatalf("launched=%d, want=12", f.launched)
	}
	if f.maxLive > DefaultMaxWorkers {
		t.Fatalf("max concurrent=%d, want<=%d", f.maxLive, DefaultMaxWorkers)
	}
	if f.addDenied != 12 {
		t.Fatalf("add denied %d times, want=12", f.addDenied)
	}
	if len(started) != 12 {
		t.Fatalf("OnStart called for %d entries", len(started))
	}
	if report.TotalCount != 12 || report.SuccessCount != 12 || len(report.Fastest(3)) != 3 {
		t.Fatalf("report=%+v", report)
	}

	if n := state.ProbesInFlight(); n != 0 {
		t.Fatalf("probes in flight=%d after batch", n)
	}
	for i, e := range state.Entries() {
		if e.IsProbing || !e.LastPing.OK() {
			t.Fatalf("entry %d: probing=%v ping=%v", i, e.IsProbing, e.LastPing)
		}
	}
	leftover, _ := filepath.Glob(filepath.Join(o.WorkDir, "ping_*"))
	if len(leftover) != 0 {
		t.Fatalf("probe files left: %v", leftover)
	}
}

func TestProbeAll_FewerEntriesThanWorkers(t *testing.T) {
	state := newState(t, 3)
	f := newFakeEngine(t, state, http.StatusOK)
	o := newTestOrchestrator(t, state, f)

	results, err := o.ProbeAll()
	if err != nil {
		t.Fatalf("ProbeAll: %v", err)
	}
	if len(results) != 3 || f.maxLive > 3 {
		t.Fatalf("results=%d maxLive=%d", len(results), f.maxLive)
	}
}

func TestProbeAll_Empty(t *testing.T) {
	o := newTestOrchestrator(t, models.NewAppState(), nil)
	results, err := o.ProbeAll()
	if err != nil || len(results) != 0 {
		t.Fatalf("results=%v err=%v", results, err)
	}
}

func TestProbe_Classification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		delay  time.Duration
		spawn  bool
		ok     bool
		cause  string
	}{
		{"204", http.StatusNoContent, 0, true, true, ""},
		{"200", http.StatusOK, 0, true, true, ""},
		{"500", http.StatusInternalServerError, 0, true, false, "status: 500"},
		{"302", http.StatusFound, 0, true, false, "status: 302"},
		{"timeout", http.StatusNoContent, time.Second, true, false, "http:"},
		{"spawn", http.StatusNoContent, 0, false, false, "spawn:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := newState(t, 1)
			f := newFakeEngine(t, state, tc.status)
			f.delay = tc.delay
			f.spawnOK = tc.spawn
			o := newTestOrchestrator(t, state, f)
			o.Timeout = 200 * time.Millisecond

			r, err := o.ProbeOne(0)
			if err != nil {
				t.Fatalf("ProbeOne: %v", err)
			}
			if r.OK() != tc.ok {
				t.Fatalf("ok=%v, want=%v (%+v)", r.OK(), tc.ok, r)
			}
			if !tc.ok {
				if r.String() != "Fail" || !strings.HasPrefix(r.Error, tc.cause) {
					t.Fatalf("result=%+v, want Fail with cause %q", r, tc.cause)
				}
			}
			e, _ := state.Entry(0)
			if e.IsProbing || e.LastPing != r {
				t.Fatalf("entry=%+v", e)
			}
		})
	}
}

func TestProbeOne_UsesReservedSlot(t *testing.T) {
	state := newState(t, 1)
	f := newFakeEngine(t, state, http.StatusNoContent)
	o := newTestOrchestrator(t, state, f)

	var port int
	o.Launch = func(binary, configPath, logPath string) (Instance, error) {
		want := fmt.Sprintf("ping_config_%d.json", ports.For(o.Base, DefaultMaxWorkers).Socks)
		if filepath.Base(configPath) != want {
			t.Errorf("config=%s, want=%s", filepath.Base(configPath), want)
		}
		inst, err := f.launch(binary, configPath, logPath)
		port = ports.For(o.Base, DefaultMaxWorkers).HTTP
		return inst, err
	}

	if _, err := o.ProbeOne(0); err != nil {
		t.Fatalf("ProbeOne: %v", err)
	}
	for slot := 0; slot < DefaultMaxWorkers; slot++ {
		if ports.For(o.Base, slot).HTTP == port {
			t.Fatalf("single probe port %d collides with batch slot %d", port, slot)
		}
	}
	if _, err := o.ProbeOne(5); !errors.Is(err, models.ErrIndexOutOfRange) {
		t.Fatalf("err=%v, want ErrIndexOutOfRange", err)
	}
}

func TestProbe_MissingBinary(t *testing.T) {
	state := newState(t, 1)
	o := newTestOrchestrator(t, state, nil)
	o.Binary = filepath.Join(t.TempDir(), "no-such-xray")

	r, err := o.ProbeOne(0)
	if err != nil {
		t.Fatalf("ProbeOne: %v", err)
	}
	if r.OK() || !strings.HasPrefix(r.Error, "spawn:") {
		t.Fatalf("result=%+v, want spawn failure", r)
	}
	leftover, _ := filepath.Glob(filepath.Join(o.WorkDir, "ping_*"))
	if len(leftover) != 0 {
		t.Fatalf("probe files left: %v", leftover)
	}
}

func TestWorkers_PortRange(t *testing.T) {
	cases := []struct {
		base       ports.Pair
		maxWorkers int
		want       int
	}{
		{ports.ProbeBase, 0, DefaultMaxWorkers},
		{ports.ProbeBase, 4, 4},
		{ports.Pair{Socks: 65500, HTTP: 65501}, 50, 17},
		{ports.Pair{Socks: 65534, HTTP: 65535}, 10, 0},
		{ports.Pair{Socks: 70000, HTTP: 70001}, 10, -1},
	}
	for _, tc := range cases {
		o := &Orchestrator{Base: tc.base, MaxWorkers: tc.maxWorkers}
		if got := o.workers(); got != tc.want {
			t.Fatalf("base=%s workers=%d, want=%d", tc.base, got, tc.want)
		}
		if got := o.workers(); got >= 0 && !ports.For(tc.base, got).Valid() {
			t.Fatalf("base=%s reserved slot %d out of range", tc.base, got)
		}
	}

	o := &Orchestrator{Base: ports.Pair{Socks: 65534, HTTP: 65535}}
	if _, err := o.ProbeAll(); !errors.Is(err, ErrNoPorts) {
		t.Fatalf("ProbeAll err=%v, want ErrNoPorts", err)
	}
	o.Base = ports.Pair{Socks: 70000, HTTP: 70001}
	if _, err := o.ProbeOne(0); !errors.Is(err, ErrNoPorts) {
		t.Fatalf("ProbeOne err=%v, want ErrNoPorts", err)
	}
}

func TestPing_PortsCollideWithMain(t *testing.T) {
	state := newState(t, 1)
	o := newTestOrchestrator(t, state, nil)
	o.Base = ports.Pair{Socks: ports.Main.Socks - 2, HTTP: ports.Main.HTTP - 2}
	o.MaxWorkers = 1
	o.Launch = func(binary, configPath, logPath string) (Instance, error) {
		t.Errorf("launched on colliding ports: %s", configPath)
		return nil, errors.New("unexpected launch")
	}

	r, err := o.ProbeOne(0)
	if err != nil {
		t.Fatalf("ProbeOne: %v", err)
	}
	if r.OK() || !strings.HasPrefix(r.Error, "bind:") {
		t.Fatalf("result=%+v, want bind failure", r)
	}
}

func TestNewReport(t *testing.T) {
	entries := []models.ServerEntry{{Alias: "a"}, {Alias: "b"}, {Alias: "c"}, {Alias: "d"}}
	results := map[int]models.PingResult{
		0: models.PingOK(300),
		1: models.PingFail("x"),
		2: models.PingOK(100),
		3: models.PingOK(200),
	}
	r := NewReport(entries, results, time.Now())

	if r.TotalCount != 4 || r.SuccessCount != 3 || r.FailCount != 1 {
		t.Fatalf("counts=%d/%d/%d", r.TotalCount, r.SuccessCount, r.FailCount)
	}
	if r.AvgLatency != 200 || r.MinLatency != 100 || r.MaxLatency != 300 {
		t.Fatalf("avg/min/max=%d/%d/%d", r.AvgLatency, r.MinLatency, r.MaxLatency)
	}
	fastest := r.Fastest(2)
	if len(fastest) != 2 || fastest[0].Alias != "c" || fastest[1].Alias != "d" {
		t.Fatalf("fastest=%+v", fastest)
	}
	if got := r.Fastest(-1); len(got) != 0 {
		t.Fatalf("Fastest(-1)=%+v, want empty", got)
	}
	if got := r.Fastest(10); len(got) != 3 {
		t.Fatalf("Fastest(10)=%d, want=3", len(got))
	}
}
