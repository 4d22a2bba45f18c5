// Package tunnel 管理主隧道的连接状态机
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"babyvpn-wails/internal/engine"
	"babyvpn-wails/internal/generator"
	"babyvpn-wails/internal/logger"
	"babyvpn-wails/internal/models"
	"babyvpn-wails/internal/ports"
)

// =============================================================================
// 状态与错误
// =============================================================================

// State 连接状态
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

const (
	DefaultGrace        = time.Second
	DefaultVerifyTarget = "www.google.com:80"
	tailOnFailure       = 5
)

var (
	ErrBusy         = errors.New("连接状态切换中")
	ErrNotConnected = errors.New("未连接")
	ErrNoOutbound   = errors.New("服务器缺少出站配置")
	ErrEngineExited = errors.New("内核启动后立即退出")
	ErrVerifyFailed = errors.New("连接检测失败")
)

// =============================================================================
// 协作者
// =============================================================================

// SystemProxy 系统代理开关
type SystemProxy interface {
	Enable(hostPort string) error
	Disable() error
}

// Process 主隧道内核进程，默认为 engine.Supervisor
type Process interface {
	Start() error
	Stop()
	IsRunning() bool
	PID() int
	Exited() <-chan struct{}
	Tail(n int) []string
}

// Store 服务器列表
type Store interface {
	Entry(index int) (models.ServerEntry, error)
	SetActive(index int) error
	ClearActive()
}

// Logger 日志输出
type Logger interface {
	Log(source, level, category, message string)
}

// Option 控制器选项
type Option func(*Controller)

func WithGrace(d time.Duration) Option { return func(c *Controller) { c.grace = d } }

func WithLogger(l Logger) Option { return func(c *Controller) { c.logger = l } }

func WithLogLevel(level string) Option { return func(c *Controller) { c.logLevel = level } }

func WithPorts(p ports.Pair) Option { return func(c *Controller) { c.pair = p } }

// WithProcess 替换内核进程（测试用）
func WithProcess(p Process) Option { return func(c *Controller) { c.proc = p } }

// WithEngineLog 主隧道内核输出的逐行回调，source 为当前服务器别名
func WithEngineLog(fn func(source, line string)) Option {
	return func(c *Controller) { c.engineLog = fn }
}

// WithStateListener 状态变化回调
func WithStateListener(fn func(state State, index int)) Option {
	return func(c *Controller) { c.onState = fn }
}

// =============================================================================
// Controller
// =============================================================================

// Controller 主隧道状态机。生命周期内只有一个内核进程。
type Controller struct {
	opMu sync.Mutex // 串行化状态切换

	mu     sync.RWMutex
	state  State
	active int
	alias  string
	mux    bool

	store      Store
	sysProxy   SystemProxy
	proc       Process
	configPath string
	pair       ports.Pair
	grace      time.Duration
	logLevel   string

	VerifyTarget string

	logger    Logger
	engineLog func(source, line string)
	onState   func(state State, index int)
}

// NewController 创建控制器，binary 为内核路径，配置和日志写在 workDir
func NewController(binary, workDir string, store Store, sysProxy SystemProxy, opts ...Option) *Controller {
	configPath, logPath := generator.NewGenerator(workDir).MainPaths()
	c := &Controller{
		state:        StateDisconnected,
		active:       -1,
		store:        store,
		sysProxy:     sysProxy,
		configPath:   configPath,
		pair:         ports.Main,
		grace:        DefaultGrace,
		VerifyTarget: DefaultVerifyTarget,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.proc == nil {
		c.proc = engine.NewSupervisor(binary, configPath, logPath,
			engine.WithLogSink(c.forwardEngineLine),
			engine.WithEventLog(c.engineEvent),
		)
	}
	return c
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ActiveIndex 已连接的服务器索引，-1 表示未连接
func (c *Controller) ActiveIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Mux 当前连接是否启用了多路复用
func (c *Controller) Mux() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mux
}

// Ports 主隧道端口
func (c *Controller) Ports() ports.Pair { return c.pair }

// Connect 连接 index 对应的服务器
func (c *Controller) Connect(index int, enableMux bool) error {
	if !c.opMu.TryLock() {
		return ErrBusy
	}
	defer c.opMu.Unlock()

	c.mu.RLock()
	state, active := c.state, c.active
	c.mu.RUnlock()
	if state != StateDisconnected {
		if state == StateConnected && index != active {
			return models.ErrSwitchWhileConnected
		}
		return ErrBusy
	}

	entry, err := c.store.Entry(index)
	if err != nil {
		return err
	}
	if entry.Outbound == nil {
		return ErrNoOutbound
	}

	c.setState(StateConnecting, index, entry.Alias, enableMux)
	c.log(entry.Alias, models.LevelInfo, fmt.Sprintf("正在连接 %s (%s)", entry.Outbound.Endpoint(), entry.Outbound.Protocol))

	if err := c.bringUp(index, entry, enableMux); err != nil {
		c.proc.Stop()
		c.store.ClearActive()
		c.setState(StateDisconnected, -1, "", false)
		c.log(entry.Alias, models.LevelError, "连接失败: "+err.Error())
		return err
	}

	c.setState(StateConnected, index, entry.Alias, enableMux)
	c.log(entry.Alias, models.LevelInfo, fmt.Sprintf("已连接，系统代理 %s (PID: %d)", c.pair.HTTPAddr(), c.proc.PID()))
	go c.watchExit(c.proc.Exited(), index)
	return nil
}

// watchExit 内核在连接期间退出时关闭系统代理，回到未连接状态
func (c *Controller) watchExit(exited <-chan struct{}, index int) {
	if exited == nil {
		return
	}
	<-exited

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	state, active, alias := c.state, c.active, c.alias
	c.mu.RUnlock()
	// 已断开或已换成新的进程
	if state != StateConnected || active != index || c.proc.Exited() != exited {
		return
	}
	c.log(alias, models.LevelWarn, "内核意外退出，断开连接")
	c.teardown(false)
}

func (c *Controller) bringUp(index int, entry models.ServerEntry, enableMux bool) error {
	cfg := generator.SynthesizeWith(entry.Outbound, generator.Options{
		SocksPort: c.pair.Socks,
		HTTPPort:  c.pair.HTTP,
		EnableMux: enableMux,
		LogLevel:  c.logLevel,
	})
	if err := generator.WriteConfig(c.configPath, cfg); err != nil {
		return err
	}

	err := c.proc.Start()
	if errors.Is(err, engine.ErrAlreadyRunning) {
		// 上一次异常残留，重启以加载新配置
		c.proc.Stop()
		err = c.proc.Start()
	}
	if err != nil {
		return err
	}

	select {
	case <-c.proc.Exited():
	case <-time.After(c.grace):
	}
	if !c.proc.IsRunning() {
		if tail := c.proc.Tail(tailOnFailure); len(tail) > 0 {
			return fmt.Errorf("%w: %s", ErrEngineExited, strings.Join(tail, " | "))
		}
		return ErrEngineExited
	}

	if err := c.sysProxy.Enable(c.pair.HTTPAddr()); err != nil {
		// 可能已写入部分注册表项，回滚
		c.sysProxy.Disable()
		return fmt.Errorf("设置系统代理失败: %w", err)
	}
	if err := c.store.SetActive(index); err != nil {
		c.sysProxy.Disable()
		return err
	}
	return nil
}

// Disconnect 关闭系统代理并停止内核；未连接时只确保内核已停止
func (c *Controller) Disconnect() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.teardown(false)
}

// Shutdown 程序退出时强制断开
func (c *Controller) Shutdown() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown(true)
}

func (c *Controller) teardown(force bool) error {
	c.mu.RLock()
	state, active, alias := c.state, c.active, c.alias
	c.mu.RUnlock()

	if state == StateDisconnected && !force {
		c.proc.Stop()
		return nil
	}

	c.setState(StateDisconnecting, active, alias, false)

	var proxyErr error
	if state != StateDisconnected {
		if err := c.sysProxy.Disable(); err != nil {
			proxyErr = fmt.Errorf("关闭系统代理失败: %w", err)
			c.log(alias, models.LevelWarn, proxyErr.Error())
		}
	}
	c.proc.Stop()
	c.store.ClearActive()

	c.setState(StateDisconnected, -1, "", false)
	if state != StateDisconnected {
		c.log(alias, models.LevelInfo, "已断开")
	}
	return proxyErr
}

// Verify 通过本地 SOCKS 监听访问外部地址，返回握手耗时
func (c *Controller) Verify(ctx context.Context) (time.Duration, error) {
	if c.State() != StateConnected {
		return 0, ErrNotConnected
	}

	dialer, err := proxy.SOCKS5("tcp", c.pair.SocksAddr(), nil, proxy.Direct)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return 0, fmt.Errorf("%w: dialer does not support context", ErrVerifyFailed)
	}

	start := time.Now()
	conn, err := ctxDialer.DialContext(ctx, "tcp", c.VerifyTarget)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	host, _, _ := net.SplitHostPort(c.VerifyTarget)
	if _, err := fmt.Fprintf(conn, "HEAD / HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", host); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if !strings.HasPrefix(status, "HTTP/") {
		return 0, fmt.Errorf("%w: unexpected reply %q", ErrVerifyFailed, strings.TrimSpace(status))
	}
	return time.Since(start), nil
}

func (c *Controller) setState(state State, index int, alias string, mux bool) {
	c.mu.Lock()
	c.state = state
	c.active = index
	c.alias = alias
	c.mux = mux
	c.mu.Unlock()

	if c.onState != nil {
		c.onState(state, index)
	}
}

func (c *Controller) forwardEngineLine(line string) {
	if c.engineLog == nil {
		return
	}
	c.mu.RLock()
	alias := c.alias
	c.mu.RUnlock()
	if alias == "" {
		alias = logger.SourceSystem
	}
	c.engineLog(alias, line)
}

func (c *Controller) engineEvent(level, message string) {
	if c.logger != nil {
		c.logger.Log(logger.SourceSystem, level, logger.CategoryEngine, message)
	}
}

func (c *Controller) log(source, level, message string) {
	if c.logger != nil {
		c.logger.Log(source, level, logger.CategoryConnection, message)
	}
}
