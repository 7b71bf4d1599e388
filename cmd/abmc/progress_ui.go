package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/ABMC/internal/app/run"
	"github.com/John-Robertt/ABMC/internal/config"
	"github.com/John-Robertt/ABMC/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：探测和编码的长静默期也会定期输出一行，降低等待焦虑
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total int
	done  int
	ok    int
	fail  int

	// encoding 表示处于 encode 阶段：keepalive 改为输出编码心跳（没有条目粒度的进度）。
	encoding      bool
	encodeStarted time.Time

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "dry-run"
	modeHint := " (不编码/不写入)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	root := eff.Path
	if eff.SingleFile {
		root = filepath.Dir(eff.Path)
	}

	fmt.Fprintf(p.w, "[%s] ABMC run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  path: %s\n", eff.Path)
	if eff.SingleFile {
		fmt.Fprintln(p.w, "  input: 单文件（整本书一个章节）")
	}
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  title: %s\n", eff.Title)
	fmt.Fprintf(p.w, "  author: %s\n", eff.Author)
	fmt.Fprintf(p.w, "  bitrate: %s\n", eff.Bitrate)
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  cover_proxy: %s\n", onOff(eff.CoverProxy))
	if strings.TrimSpace(eff.TitlesFile) != "" {
		fmt.Fprintf(p.w, "  titles_file: %s\n", eff.TitlesFile)
	}
	if strings.TrimSpace(eff.EPUB) != "" {
		fmt.Fprintf(p.w, "  epub: %s\n", eff.EPUB)
	}
	fmt.Fprintf(p.w, "  exclude_dirs: %s + 固定排除 out/, cache/\n", formatStringListJSON(eff.ExcludeDirs))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s\n", filepath.Join(root, "out", eff.Title+".m4b"))
	fmt.Fprintf(p.w, "  cache: %s\n", filepath.Join(root, "cache"))
	if eff.Apply {
		fmt.Fprintf(p.w, "  report: %s\n", filepath.Join(root, "cache", "report.json"))
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
	p.mu.Unlock()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d (%s)\n",
			intField(fields, "files"), formatShortDuration(dur),
		)
	case "order":
		p.total = intField(fields, "chapters")
		fmt.Fprintf(p.w, "排序: chapters=%d malformed=%d\n",
			p.total, intField(fields, "malformed"),
		)
		// 探测是并发长任务：从这里开始 keepalive。
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "titles":
		fmt.Fprintf(p.w, "标题: applied=%d (%s)\n",
			intField(fields, "applied"), formatShortDuration(dur),
		)
	case "probe":
		fmt.Fprintf(p.w, "探测: chapters=%d workers=%d (%s)\n",
			intField(fields, "chapters"), intField(fields, "workers"), formatShortDuration(dur),
		)
	case "plan":
		fmt.Fprintf(p.w, "规划: chapters=%d total=%s zero_duration=%d (%s)\n",
			intField(fields, "chapters"),
			formatElapsed(time.Duration(int64Field(fields, "total_ms"))*time.Millisecond),
			intField(fields, "zero_duration"),
			formatShortDuration(dur),
		)
	case "cover":
		fmt.Fprintf(p.w, "封面: source=%s (%s)\n",
			strField(fields, "source"), formatShortDuration(dur),
		)
	case "encode_start":
		p.encoding = true
		p.encodeStarted = time.Now()
		fmt.Fprintf(p.w, "编码: output=%s bitrate=%s\n",
			strField(fields, "output"), strField(fields, "bitrate"),
		)
		if !p.tickerStarted {
			p.startTickerLocked()
		}
	case "encode":
		p.encoding = false
		if p.tickerStarted {
			close(p.stopCh)
			p.tickerStarted = false
		}
		fmt.Fprintf(p.w, "编码完成: %s (%s)\n",
			strField(fields, "output"), formatShortDuration(dur),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, src string, res domain.ChapterResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// idx 是章节序号而非完成顺序（探测是并发的）；done 由这里自行累计。
	p.done++
	p.total = total

	switch res.Status {
	case domain.StatusFailed:
		p.fail++
	default:
		p.ok++
	}

	switch res.Status {
	case domain.StatusFailed:
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s (%s)\n",
			p.done, total, src, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "[%d/%d] %s OK duration=%s (%s)\n",
			p.done, total, src, formatElapsed(time.Duration(res.EndMS-res.StartMS)*time.Millisecond), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在阶段汇总后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) OnProgress(done, total, ok, fail int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d elapsed=%s\n",
		done, total, ok, fail, formatElapsed(elapsed),
	)
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	stopCh := p.stopCh
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					if p.encoding {
						fmt.Fprintf(p.w, "编码中: elapsed=%s\n", formatElapsed(time.Since(p.encodeStarted)))
					} else if p.total > 0 && p.done < p.total {
						fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d elapsed=%s\n",
							p.done, p.total, p.ok, p.fail, formatElapsed(time.Since(p.startedAt)),
						)
					}
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}

func int64Field(fields map[string]any, key string) int64 {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int64:
		return x
	case int:
		return int64(x)
	default:
		return 0
	}
}

func strField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}
