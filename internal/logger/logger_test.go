package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"babyvpn-wails/internal/models"
)

func TestParseLine(t *testing.T) {
	m := NewManager("")
	defer m.Stop()

	cases := []struct {
		line     string
		level    string
		category string
		message  string
	}{
		{
			"2024/01/02 15:04:05 from 127.0.0.1:52314 accepted tcp:www.google.com:443 [http-in -> proxy]",
			models.LevelInfo, CategoryConnection, "访问: tcp:www.google.com:443 [http-in -> proxy]",
		},
		{
			"2024/01/02 15:04:05 127.0.0.1:1 rejected tcp:bad.com:80",
			models.LevelWarn, CategoryConnection, "拒绝: tcp:bad.com:80",
		},
		{
			"2024/01/02 15:04:05 [Warning] core: Xray 1.8.4 started",
			models.LevelWarn, CategoryEngine, "内核已启动 (Xray 1.8.4 started)",
		},
		{
			"2024/01/02 15:04:05.123 [Error] infra/conf: unknown transport",
			models.LevelError, CategoryConfig, "infra/conf: unknown transport",
		},
		{
			"Failed to start: main: failed to load config files: [config.json]",
			models.LevelError, CategoryConfig, "内核启动失败: main: failed to load config files: [config.json]",
		},
		{
			"Xray 1.8.4 (Xray, Penetrates Everything.) Custom (go1.21.1 windows/amd64)",
			models.LevelInfo, CategoryEngine, "内核版本: Xray 1.8.4",
		},
		{
			"A unified platform for anti-censorship.",
			models.LevelInfo, CategoryEngine, "A unified platform for anti-censorship.",
		},
		{
			"something failed here",
			models.LevelError, CategoryEngine, "something failed here",
		},
	}
	for _, tc := range cases {
		level, category, message := m.parseLine(tc.line)
		if level != tc.level || category != tc.category || message != tc.message {
			t.Fatalf("parseLine(%q)=%q/%q/%q, want=%q/%q/%q",
				tc.line, level, category, message, tc.level, tc.category, tc.message)
		}
	}
}

func TestManager_BufferAndCallback(t *testing.T) {
	m := NewManager("")
	defer m.Stop()

	var got []models.LogEntry
	m.SetCallback(func(e models.LogEntry) { got = append(got, e) })

	m.LogSystem(models.LevelInfo, "启动")
	m.Log("HK 01", models.LevelWarn, CategoryPing, "测速失败")
	m.ParseAndLog("HK 01", "Xray 1.8.4 x\n\n2024/01/02 15:04:05 [Info] ok\n")

	if len(got) != 4 {
		t.Fatalf("callback entries=%d, want=4", len(got))
	}
	logs := m.GetLogs(0)
	if len(logs) != 4 || logs[0].Message != "启动" || logs[3].Message != "ok" {
		t.Fatalf("logs=%+v", logs)
	}
	if last := m.GetLogs(1); len(last) != 1 || last[0].Message != "ok" {
		t.Fatalf("last=%+v", last)
	}
	if bySource := m.GetLogsBySource("HK 01", 10); len(bySource) != 3 {
		t.Fatalf("by source=%d, want=3", len(bySource))
	}
	if warns := m.GetLogsByLevel(models.LevelWarn, 10); len(warns) != 1 || warns[0].Category != CategoryPing {
		t.Fatalf("warns=%+v", warns)
	}

	m.Clear()
	if n := len(m.GetLogs(0)); n != 0 {
		t.Fatalf("after clear=%d", n)
	}
}

func TestManager_RingBufferWraps(t *testing.T) {
	m := NewManager("")
	defer m.Stop()

	for i := 0; i < BufferSize+5; i++ {
		m.LogSystem(models.LevelDebug, "x")
	}
	m.LogSystem(models.LevelInfo, "last")
	logs := m.GetLogs(0)
	if len(logs) != BufferSize || logs[len(logs)-1].Message != "last" {
		t.Fatalf("len=%d last=%q", len(logs), logs[len(logs)-1].Message)
	}
}

func TestManager_FileOutput(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.Log("HK 01", models.LevelWarn, CategoryConnection, "连接成功")
	path := m.GetLogFilePath()
	m.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line := string(data)
	for _, want := range []string{"level=warning", `source="HK 01"`, `category="连接"`, `msg="连接成功"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log file missing %q:\n%s", want, line)
		}
	}

	export := dir + "/export.txt"
	m2 := NewManager("")
	defer m2.Stop()
	m2.LogSystem(models.LevelInfo, "a,b")
	if err := m2.ExportToFile(export, "csv"); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, _ = os.ReadFile(export)
	if !strings.Contains(string(data), `,"a,b"`) {
		t.Fatalf("csv=%s", data)
	}
}

func TestDailyFile_Rotation(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 1, 2, 10, 0, 0, 0, time.Local)

	d, err := openDailyFile(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	d.now = func() time.Time { return day }
	d.maxSize = 16

	write := func(s string) {
		t.Helper()
		if _, err := d.Write([]byte(s)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// 第一次写入时切换到注入的日期
	write("0123456789\n")
	first := filepath.Join(dir, "babyvpn_2024-01-02.log")
	if d.Path() != first {
		t.Fatalf("path=%q, want=%q", d.Path(), first)
	}

	// 超过大小上限，旧内容改名
	write("abcdefghij\n")
	if _, err := os.Stat(filepath.Join(dir, "babyvpn_2024-01-02_100000.log")); err != nil {
		t.Fatalf("rolled file missing: %v", err)
	}
	if data, _ := os.ReadFile(first); string(data) != "abcdefghij\n" {
		t.Fatalf("current=%q", data)
	}

	day = day.AddDate(0, 0, 1)
	write("next\n")
	if d.Path() != filepath.Join(dir, "babyvpn_2024-01-03.log") {
		t.Fatalf("path after midnight=%q", d.Path())
	}
}

func TestDailyFile_ReopenAfterFailedRotation(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 1, 2, 10, 0, 0, 0, time.Local)

	d, err := openDailyFile(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d.now = func() time.Time { return day }

	// 目标路径被目录占用，切换必然失败
	next := filepath.Join(dir, "babyvpn_2024-01-02.log")
	if err := os.Mkdir(next, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := d.Write([]byte("lost\n")); err == nil || errors.Is(err, os.ErrClosed) {
		t.Fatalf("err=%v, want open failure", err)
	}
	if d.file != nil {
		t.Fatalf("closed handle kept after failed rotation")
	}

	if err := os.Remove(next); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := d.Write([]byte("back\n")); err != nil {
		t.Fatalf("write after recovery: %v", err)
	}
	if data, _ := os.ReadFile(next); string(data) != "back\n" {
		t.Fatalf("content=%q", data)
	}

	d.Close()
	if _, err := d.Write([]byte("x")); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("err=%v after close, want ErrClosed", err)
	}
}

func TestDailyFile_Prune(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "babyvpn_2000-01-01.log")
	other := filepath.Join(dir, "notes.log")
	for _, p := range []string{old, other} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		past := time.Now().AddDate(0, 0, -30)
		os.Chtimes(p, past, past)
	}

	d, err := openDailyFile(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if n := d.prune(LogRetentionDays); n != 1 {
		t.Fatalf("pruned=%d, want=1", n)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
	if _, err := os.Stat(d.Path()); err != nil {
		t.Fatalf("current file removed: %v", err)
	}
}
