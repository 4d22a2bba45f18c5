package ping

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"babyvpn-wails/internal/models"
)

// =============================================================================
// 测速报告
// =============================================================================

// Ranked 单个服务器的测速结果
type Ranked struct {
	Index   int    `json:"index"`
	Alias   string `json:"alias"`
	Latency int    `json:"latency"`
}

// Report 批量测速汇总
type Report struct {
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	TotalCount   int           `json:"total_count"`
	SuccessCount int           `json:"success_count"`
	FailCount    int           `json:"fail_count"`
	AvgLatency   int           `json:"avg_latency"`
	MinLatency   int           `json:"min_latency"`
	MaxLatency   int           `json:"max_latency"`
	Ranking      []Ranked      `json:"ranking"` // 成功的按延迟升序
}

// NewReport 汇总批量结果
func NewReport(entries []models.ServerEntry, results map[int]models.PingResult, started time.Time) Report {
	report := Report{
		StartTime:  started,
		EndTime:    time.Now(),
		TotalCount: len(results),
		MinLatency: -1,
		MaxLatency: -1,
	}
	report.Duration = report.EndTime.Sub(report.StartTime)

	ok := lo.PickBy(results, func(_ int, r models.PingResult) bool { return r.OK() })
	report.SuccessCount = len(ok)
	report.FailCount = report.TotalCount - report.SuccessCount

	report.Ranking = lo.MapToSlice(ok, func(index int, r models.PingResult) Ranked {
		alias := ""
		if index >= 0 && index < len(entries) {
			alias = entries[index].Alias
		}
		return Ranked{Index: index, Alias: alias, Latency: r.Latency}
	})
	sort.Slice(report.Ranking, func(i, j int) bool {
		a, b := report.Ranking[i], report.Ranking[j]
		if a.Latency != b.Latency {
			return a.Latency < b.Latency
		}
		return a.Index < b.Index
	})

	if n := len(report.Ranking); n > 0 {
		total := lo.SumBy(report.Ranking, func(r Ranked) int { return r.Latency })
		report.AvgLatency = total / n
		report.MinLatency = report.Ranking[0].Latency
		report.MaxLatency = report.Ranking[n-1].Latency
	}
	return report
}

// Fastest 最快的 n 个
func (r Report) Fastest(n int) []Ranked {
	if n < 0 {
		n = 0
	}
	if n > len(r.Ranking) {
		n = len(r.Ranking)
	}
	return r.Ranking[:n]
}

func (o *Orchestrator) logReport(report Report) {
	o.log("系统", models.LevelInfo, "--- 测速完成 ---")
	o.log("系统", models.LevelInfo, fmt.Sprintf("总计: %d | 成功: %d | 失败: %d | 耗时: %s",
		report.TotalCount, report.SuccessCount, report.FailCount, report.Duration.Round(time.Millisecond)))

	if report.SuccessCount == 0 {
		return
	}
	o.log("系统", models.LevelInfo, fmt.Sprintf("延迟: 平均 %dms | 最小 %dms | 最大 %dms",
		report.AvgLatency, report.MinLatency, report.MaxLatency))

	o.log("系统", models.LevelInfo, "最快服务器:")
	for i, r := range report.Fastest(3) {
		o.log("系统", models.LevelInfo, fmt.Sprintf("  #%d %s (%dms)", i+1, r.Alias, r.Latency))
	}
}
