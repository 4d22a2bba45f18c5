package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

func logDir(exeDir string) string {
	return filepath.Join(exeDir, LogDirName)
}

// dailyFile 按天命名的日志文件 babyvpn_<日期>.log。
// 跨天时切换到新文件，超过大小上限时把当前文件改名为 _<时分秒> 后缀另起一个。
type dailyFile struct {
	mu      sync.Mutex
	dir     string
	maxSize int64
	now     func() time.Time

	file   *os.File
	path   string
	size   int64
	closed bool
}

func openDailyFile(dir string) (*dailyFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	d := &dailyFile{dir: dir, maxSize: MaxLogFileSizeMB * 1024 * 1024, now: time.Now}
	if err := d.open(d.pathFor(d.now())); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *dailyFile) pathFor(day time.Time) string {
	return filepath.Join(d.dir, fmt.Sprintf("babyvpn_%s.log", day.Format("2006-01-02")))
}

func (d *dailyFile) open(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	d.file, d.path, d.size = f, path, size
	return nil
}

// Write 实现 io.Writer，logrus 每条日志调用一次
func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, os.ErrClosed
	}
	// 上次切换失败，重新打开
	if d.file == nil {
		if err := d.open(d.pathFor(d.now())); err != nil {
			return 0, err
		}
	}
	if err := d.rotate(len(p)); err != nil {
		return 0, err
	}
	n, err := d.file.Write(p)
	d.size += int64(n)
	return n, err
}

func (d *dailyFile) rotate(incoming int) error {
	now := d.now()
	if want := d.pathFor(now); want != d.path {
		d.release()
		return d.open(want)
	}
	if d.size == 0 || d.size+int64(incoming) <= d.maxSize {
		return nil
	}
	d.release()
	rolled := strings.TrimSuffix(d.path, ".log") + "_" + now.Format("150405") + ".log"
	os.Rename(d.path, rolled)
	return d.open(d.path)
}

func (d *dailyFile) release() {
	d.file.Close()
	d.file, d.size = nil, 0
}

// Path 当前写入的文件
func (d *dailyFile) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// prune 删除超过 days 天的日志文件
func (d *dailyFile) prune(days int) int {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}
	cutoff := d.now().AddDate(0, 0, -days)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "babyvpn_") || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(d.dir, e.Name())) == nil {
			removed++
		}
	}
	return removed
}
