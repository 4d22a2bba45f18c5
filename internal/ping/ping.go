// Package ping 对保存的服务器做并发延迟测试。
// 每个测速独占一个内核进程和一组端口，测完即销毁。
package ping

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"babyvpn-wails/internal/engine"
	"babyvpn-wails/internal/generator"
	"babyvpn-wails/internal/logger"
	"babyvpn-wails/internal/models"
	"babyvpn-wails/internal/ports"
)

// =============================================================================
// 常量
// =============================================================================

const (
	DefaultGrace      = 2 * time.Second
	DefaultTimeout    = 10 * time.Second
	DefaultTargetURL  = "http://www.google.com/generate_204"
	DefaultMaxWorkers = 10

	maxBodyRead = 64 * 1024
)

var (
	ErrBatchRunning = errors.New("批量测速进行中")
	ErrSingleBusy   = errors.New("单个测速进行中")
	ErrNoPorts      = errors.New("测速端口范围不足")
)

// =============================================================================
// 协作者
// =============================================================================

// Store 测速期间读写服务器列表。worker 只写自己的索引。
type Store interface {
	BeginProbeBatch() []models.ServerEntry
	BeginProbe(index int) (models.ServerEntry, error)
	SetProbing(index int, probing bool)
	SetPingResult(index int, result models.PingResult)
	EndProbe()
}

// Logger 日志输出
type Logger interface {
	Log(source, level, category, message string)
}

// Instance 一个已启动的测速内核
type Instance interface {
	Stop()
}

// Launcher 启动一个绑定到 configPath 的内核实例
type Launcher func(binary, configPath, logPath string) (Instance, error)

// SupervisorLauncher 默认启动方式：每个测速一个独立的 Supervisor
func SupervisorLauncher(binary, configPath, logPath string) (Instance, error) {
	sup := engine.NewSupervisor(binary, configPath, logPath)
	if err := sup.Start(); err != nil {
		sup.Stop()
		return nil, err
	}
	return sup, nil
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator 测速调度器
type Orchestrator struct {
	Binary     string
	WorkDir    string
	Grace      time.Duration
	Timeout    time.Duration
	TargetURL  string
	MaxWorkers int
	Base       ports.Pair
	LogLevel   string

	Store  Store
	Logger Logger
	Launch Launcher

	// UI 回调，在 worker goroutine 中调用
	OnStart    func(index int)
	OnResult   func(index int, result models.PingResult)
	OnComplete func(report Report)

	batchMu  sync.Mutex
	singleMu sync.Mutex
}

// New 使用默认参数创建调度器
func New(binary, workDir string, store Store, log Logger) *Orchestrator {
	return &Orchestrator{
		Binary:     binary,
		WorkDir:    workDir,
		Grace:      DefaultGrace,
		Timeout:    DefaultTimeout,
		TargetURL:  DefaultTargetURL,
		MaxWorkers: DefaultMaxWorkers,
		Base:       ports.ProbeBase,
		Store:      store,
		Logger:     log,
		Launch:     SupervisorLauncher,
	}
}

// workers 批量并发数。偏移 0..workers-1 给批量，偏移 workers 留给 ProbeOne，
// 因此不超过 ports.MaxOffset(Base)。
func (o *Orchestrator) workers() int {
	n := o.MaxWorkers
	if n <= 0 {
		n = DefaultMaxWorkers
	}
	if limit := ports.MaxOffset(o.Base); n > limit {
		n = limit
	}
	return n
}

// ProbeAll 测试全部服务器，并发数 min(N, MaxWorkers)。
// 单个失败不影响其余，全部结束后返回按索引的结果。
func (o *Orchestrator) ProbeAll() (map[int]models.PingResult, error) {
	if !o.batchMu.TryLock() {
		return nil, ErrBatchRunning
	}
	defer o.batchMu.Unlock()

	if o.workers() < 1 {
		return nil, ErrNoPorts
	}

	started := time.Now()
	entries := o.Store.BeginProbeBatch()
	results := make(map[int]models.PingResult, len(entries))
	if len(entries) == 0 {
		return results, nil
	}

	size := len(entries)
	if size > o.workers() {
		size = o.workers()
	}
	o.log("系统", models.LevelInfo, fmt.Sprintf("开始批量测速: %d 个服务器, 并发 %d", len(entries), size))

	// 槽位同时充当信号量和端口偏移
	slots := make(chan int, size)
	for i := 0; i < size; i++ {
		slots <- i
	}

	if o.OnStart != nil {
		for i := range entries {
			o.OnStart(i)
		}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, entry := range entries {
		slot := <-slots
		wg.Add(1)
		go func(index int, entry models.ServerEntry, slot int) {
			defer wg.Done()
			defer func() { slots <- slot }()

			r := o.run(index, entry, slot)
			mu.Lock()
			results[index] = r
			mu.Unlock()
		}(i, entry, slot)
	}
	wg.Wait()

	report := NewReport(entries, results, started)
	o.logReport(report)
	if o.OnComplete != nil {
		o.OnComplete(report)
	}
	return results, nil
}

// ProbeOne 测试单个服务器，使用批量之外的保留端口
func (o *Orchestrator) ProbeOne(index int) (models.PingResult, error) {
	if !o.singleMu.TryLock() {
		return models.PingResult{}, ErrSingleBusy
	}
	defer o.singleMu.Unlock()

	if o.workers() < 0 {
		return models.PingResult{}, ErrNoPorts
	}

	entry, err := o.Store.BeginProbe(index)
	if err != nil {
		return models.PingResult{}, err
	}
	if o.OnStart != nil {
		o.OnStart(index)
	}
	return o.run(index, entry, o.workers()), nil
}

// run 执行一次测速并把结果写回 index 对应条目
func (o *Orchestrator) run(index int, entry models.ServerEntry, slot int) (result models.PingResult) {
	pair := ports.For(o.Base, slot)

	defer func() {
		if r := recover(); r != nil {
			result = models.PingFail(fmt.Sprintf("panic: %v", r))
		}
		o.Store.SetProbing(index, false)
		o.Store.SetPingResult(index, result)
		o.Store.EndProbe()

		if result.OK() {
			o.log(entry.Alias, models.LevelInfo, fmt.Sprintf("延迟: %dms", result.Latency))
		} else {
			o.log(entry.Alias, models.LevelWarn, fmt.Sprintf("测速失败: %s", result.Error))
		}
		if o.OnResult != nil {
			o.OnResult(index, result)
		}
	}()

	return o.probe(entry, pair)
}

func (o *Orchestrator) probe(entry models.ServerEntry, pair ports.Pair) models.PingResult {
	if entry.Outbound == nil {
		return models.PingFail("config: 缺少出站配置")
	}
	if !pair.Valid() || pair.Overlaps(ports.Main) {
		return models.PingFail("bind: 端口不可用 " + pair.String())
	}

	cfgPath, logPath := generator.NewGenerator(o.WorkDir).ProbePaths(pair.Socks)
	cfg := generator.SynthesizeWith(entry.Outbound, generator.Options{
		SocksPort: pair.Socks,
		HTTPPort:  pair.HTTP,
		EnableMux: false,
		LogLevel:  o.LogLevel,
	})
	defer removeFiles(cfgPath, logPath)
	if err := generator.WriteConfig(cfgPath, cfg); err != nil {
		return models.PingFail("config: " + err.Error())
	}

	launch := o.Launch
	if launch == nil {
		launch = SupervisorLauncher
	}
	inst, err := launch(o.Binary, cfgPath, logPath)
	if err != nil {
		return models.PingFail("spawn: " + err.Error())
	}
	defer inst.Stop()

	time.Sleep(o.Grace)
	return o.request(pair)
}

// request 通过本地 HTTP 代理访问测试地址
func (o *Orchestrator) request(pair ports.Pair) models.PingResult {
	target := o.TargetURL
	if target == "" {
		target = DefaultTargetURL
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy:             http.ProxyURL(&url.URL{Scheme: "http", Host: pair.HTTPAddr()}),
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	start := time.Now()
	resp, err := client.Get(target)
	if err != nil {
		return models.PingFail("http: " + err.Error())
	}
	elapsed := time.Since(start)
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyRead))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return models.PingFail(fmt.Sprintf("status: %d", resp.StatusCode))
	}
	return models.PingOK(int(elapsed.Milliseconds()))
}

func (o *Orchestrator) log(source, level, message string) {
	if o.Logger != nil {
		o.Logger.Log(source, level, logger.CategoryPing, message)
	}
}

func removeFiles(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
