// Package engine 管理 Xray 内核进程的生命周期
package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// 常量
// =============================================================================

const (
	StopTimeout = 3 * time.Second
	TailMaxSize = 64 * 1024
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrBinaryNotFound = errors.New("内核文件不存在")
	ErrLaunchFailed   = errors.New("内核启动失败")
	ErrAlreadyRunning = errors.New("内核已在运行")
)

// SpawnError 启动失败，Kind 为 ErrBinaryNotFound 或 ErrLaunchFailed
type SpawnError struct {
	Kind error
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *SpawnError) Is(target error) bool { return target == e.Kind }

func (e *SpawnError) Unwrap() error { return e.Err }

// =============================================================================
// 进程状态
// =============================================================================

// ProcessInfo 由 Supervisor 独占的进程句柄
type ProcessInfo struct {
	Cmd       *exec.Cmd
	Pid       int
	StartTime time.Time
	done      chan struct{}
	exitErr   error
}

// Option Supervisor 可选项
type Option func(*Supervisor)

// WithLogSink 逐行转发内核输出（同时仍写入日志文件）
func WithLogSink(sink func(line string)) Option {
	return func(s *Supervisor) { s.sink = sink }
}

// WithEventLog 记录 Supervisor 自身的事件
func WithEventLog(fn func(level, message string)) Option {
	return func(s *Supervisor) { s.eventLog = fn }
}

// =============================================================================
// Supervisor
// =============================================================================

// Supervisor 拥有一个内核进程，绑定一个配置文件和一个日志文件。
// 只会结束自己启动的进程，多个 Supervisor 可以并存。
type Supervisor struct {
	mu sync.Mutex

	binary     string
	configPath string
	logPath    string

	proc    *ProcessInfo
	logFile *os.File

	sink     func(line string)
	eventLog func(level, message string)
}

// NewSupervisor 创建 Supervisor，此时不启动进程
func NewSupervisor(binary, configPath, logPath string, opts ...Option) *Supervisor {
	s := &Supervisor{
		binary:     binary,
		configPath: configPath,
		logPath:    logPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 启动内核: <binary> -c <config>，输出写入日志文件。
// 已在运行时返回 ErrAlreadyRunning，不会重复启动。
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		s.emit("info", fmt.Sprintf("内核已在运行 (PID: %d)", s.proc.Pid))
		return ErrAlreadyRunning
	}
	// 上一次的进程已自行退出，先回收资源
	if s.proc != nil {
		s.emit("warn", fmt.Sprintf("内核已退出 (PID: %d): %v", s.proc.Pid, s.proc.exitErr))
	}
	s.releaseLocked()

	if info, err := os.Stat(s.binary); err != nil || info.IsDir() {
		return &SpawnError{Kind: ErrBinaryNotFound, Path: s.binary, Err: err}
	}

	absConfig, err := filepath.Abs(s.configPath)
	if err != nil {
		return &SpawnError{Kind: ErrLaunchFailed, Path: s.configPath, Err: err}
	}

	logFile, err := os.Create(s.logPath)
	if err != nil {
		return &SpawnError{Kind: ErrLaunchFailed, Path: s.logPath, Err: err}
	}

	cmd := exec.Command(s.binary, "-c", absConfig)
	cmd.Dir = filepath.Dir(s.binary)
	hideWindow(cmd)

	var out io.Writer = logFile
	var pw *io.PipeWriter
	if s.sink != nil {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		out = io.MultiWriter(logFile, pw)
		go readProcessOutput(pr, s.sink)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		if pw != nil {
			pw.Close()
		}
		logFile.Close()
		return &SpawnError{Kind: ErrLaunchFailed, Path: s.binary, Err: err}
	}

	proc := &ProcessInfo{
		Cmd:       cmd,
		Pid:       cmd.Process.Pid,
		StartTime: time.Now(),
		done:      make(chan struct{}),
	}
	s.proc = proc
	s.logFile = logFile

	go waitProcess(proc, pw)

	s.emit("info", fmt.Sprintf("内核已启动 (PID: %d, 配置: %s)", proc.Pid, filepath.Base(absConfig)))
	return nil
}

// Stop 结束自己启动的进程并关闭日志文件；可重复调用
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && s.runningLocked() {
		terminateProcess(s.proc)
		uptime := time.Since(s.proc.StartTime).Round(time.Second)
		s.emit("info", fmt.Sprintf("内核已停止 (PID: %d, 运行 %s)", s.proc.Pid, uptime))
	}
	s.releaseLocked()
}

// IsRunning 进程是否仍在运行
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// PID 运行中的进程号，未运行返回 0
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningLocked() {
		return 0
	}
	return s.proc.Pid
}

// Exited 进程退出通知；未启动时返回 nil
func (s *Supervisor) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	return s.proc.done
}

// Tail 读取日志文件最后 n 行，用于展示启动失败原因
func (s *Supervisor) Tail(n int) []string {
	return tailFile(s.logPath, n)
}

func (s *Supervisor) runningLocked() bool {
	if s.proc == nil {
		return false
	}
	select {
	case <-s.proc.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) releaseLocked() {
	if s.proc != nil {
		select {
		case <-s.proc.done:
		case <-time.After(StopTimeout):
		}
		s.proc = nil
	}
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}

func (s *Supervisor) emit(level, message string) {
	if s.eventLog != nil {
		s.eventLog(level, message)
	}
}

// =============================================================================
// 进程工具
// =============================================================================

func waitProcess(proc *ProcessInfo, pw *io.PipeWriter) {
	proc.exitErr = proc.Cmd.Wait()
	if pw != nil {
		pw.Close()
	}
	close(proc.done)
}

func terminateProcess(proc *ProcessInfo) {
	if proc == nil || proc.Cmd == nil || proc.Cmd.Process == nil {
		return
	}
	// 强制杀进程树
	if err := killProcessTree(proc.Pid); err != nil {
		proc.Cmd.Process.Kill()
	}
	select {
	case <-proc.done:
	case <-time.After(StopTimeout):
		proc.Cmd.Process.Kill()
	}
}

func readProcessOutput(r io.Reader, sink func(line string)) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			sink(line)
		}
	}
	// 保证写端不会因读端提前结束而阻塞
	io.Copy(io.Discard, r)
}

func tailFile(path string, n int) []string {
	if n <= 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > TailMaxSize {
		f.Seek(info.Size()-TailMaxSize, io.SeekStart)
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
