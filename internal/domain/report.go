package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusPlanned   = "planned"
	StatusEncoded   = "encoded"
	StatusFailed    = "failed"
	StatusMalformed = "malformed"
)

const (
	ErrCodeMissingInput      = "missing_input"
	ErrCodeMalformedName     = "malformed_name"
	ErrCodeProbeFailed       = "probe_failed"
	ErrCodeEncodeFailed      = "encode_failed"
	ErrCodeTargetConflict    = "target_conflict"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// WarnZeroDuration 是章节级告警（非错误）：零时长输入被接受为空章节，但必须可见。
const WarnZeroDuration = "zero_duration"

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`

	// Output 是成书文件的绝对路径（dry-run 为计划路径；失败时可能为空）。
	Output string `json:"output"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary   `json:"summary"`
	Items   []ChapterResult `json:"items"`
}

type ReportSummary struct {
	Chapters  int `json:"chapters"`
	Encoded   int `json:"encoded"`
	Failed    int `json:"failed"`
	Malformed int `json:"malformed"`
	Warnings  int `json:"warnings"`
}

type ChapterResult struct {
	Index int    `json:"index"` // 1 起始的成书章节序号；malformed/合成条目为 0
	Src   string `json:"src"`   // 相对输入根的源文件路径
	Title string `json:"title"`

	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Warning   string `json:"warning"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按成书时间轴（start_ms，再按 src）；malformed/合成条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i]
		b := r.Items[j]
		am := a.Index == 0
		bm := b.Index == 0
		if am != bm {
			return bm
		}
		if am && bm {
			return a.Src < b.Src
		}
		if a.StartMS != b.StartMS {
			return a.StartMS < b.StartMS
		}
		return a.Src < b.Src
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusPlanned, StatusEncoded:
			s.Chapters++
		}
		switch it.Status {
		case StatusEncoded:
			s.Encoded++
		case StatusFailed:
			s.Failed++
		case StatusMalformed:
			s.Malformed++
		}
		if it.Warning != "" {
			s.Warnings++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
