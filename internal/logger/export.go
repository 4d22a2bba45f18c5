package logger

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
)

// ExportToFile 导出内存中的日志，format: json / csv / txt
func (m *Manager) ExportToFile(path string, format string) error {
	logs := m.GetLogs(0)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建导出文件失败: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(logs)
	case "csv":
		cw := csv.NewWriter(w)
		cw.Write([]string{"时间", "来源", "级别", "类别", "消息"})
		for _, e := range logs {
			cw.Write([]string{e.Timestamp.Format(timeLayout), e.Source, e.Level, e.Category, e.Message})
		}
		cw.Flush()
		err = cw.Error()
	default:
		for _, e := range logs {
			fmt.Fprintf(w, "[%s] [%s] [%s] [%s] %s\n", e.Timestamp.Format(timeLayout), e.Source, e.Level, e.Category, e.Message)
		}
	}
	if err != nil {
		return err
	}
	return w.Flush()
}
