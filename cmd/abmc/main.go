package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/ABMC/internal/app/run"
	"github.com/John-Robertt/ABMC/internal/config"
	"github.com/John-Robertt/ABMC/internal/domain"
	"github.com/John-Robertt/ABMC/internal/ffmpeg"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func runCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage()
			return 0
		}
	}

	ra, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	cwdAbs, _ := filepath.Abs(cwd)

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Path:     ra.Path,
		Author:   ra.Author,
		Title:    ra.Title,
		TitleSet: ra.TitleSet,
		Apply:    ra.Apply,
		ApplySet: ra.ApplySet,
	})
	if err != nil {
		rr := reportForConfigError(cwdAbs, ra, err)
		emitReport(rr)
		return 1
	}

	// Ctrl-C：取消 context，正在运行的 ffmpeg/ffprobe 子进程会被终止。
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng := ffmpeg.NewCLI(eff.FFmpegPath, eff.FFprobePath)
	// apply 会真正编码：先快速验证外部二进制，避免跑完整个探测后才失败。
	// dry-run 不做前置检查；缺失的 ffprobe 会以 probe_failed 条目呈现在报告里。
	if eff.Apply {
		if err := eng.CheckInstalled(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	rr := run.ExecuteWithObserver(ctx, eff, eng, obs)

	emitReport(rr)
	if interactive {
		emitLocations(progressW, eff, rr)
	}
	if rr.Summary.Failed == 0 && rr.Summary.Malformed == 0 {
		return 0
	}
	return 1
}

type runArgs struct {
	Path   string
	Author string

	Title    string
	TitleSet bool

	Apply    bool
	ApplySet bool
}

func parseRunArgs(args []string) (runArgs, error) {
	ra := runArgs{}
	positional := 0

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--title":
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("--title 需要一个值")
			}
			i++
			ra.Title = args[i]
			ra.TitleSet = true
		case strings.HasPrefix(a, "--title="):
			ra.Title = strings.TrimPrefix(a, "--title=")
			ra.TitleSet = true
		case a == "--apply":
			ra.Apply = true
			ra.ApplySet = true
		case strings.HasPrefix(a, "--apply="):
			v := strings.TrimPrefix(a, "--apply=")
			switch v {
			case "true":
				ra.Apply = true
			case "false":
				ra.Apply = false
			default:
				return runArgs{}, fmt.Errorf("--apply 只能是 true 或 false，实际是 %q", v)
			}
			ra.ApplySet = true
		case a == "--dry-run":
			ra.Apply = false
			ra.ApplySet = true
		case strings.HasPrefix(a, "-"):
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			switch positional {
			case 0:
				ra.Path = a
			case 1:
				ra.Author = a
			default:
				return runArgs{}, fmt.Errorf("多余的位置参数：%q", a)
			}
			positional++
		}
	}

	if ra.TitleSet && strings.TrimSpace(ra.Title) == "" {
		return runArgs{}, fmt.Errorf("--title 不能为空")
	}

	return ra, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  abmc run [path] [author] [--title=书名] [--apply[=true|false]] [--dry-run]

命令：
  run    组装有声书（默认 dry-run：只扫描/探测/规划，不编码）

使用 "abmc run --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  abmc run [path] [author] [--title=书名] [--apply[=true|false]] [--dry-run]

参数：
  path        章节目录或单个音频文件（未指定则读 <cwd>/abmc.json 的 path）
  author      作者（也可在配置文件 author 字段提供）
  --title     书名（默认取 path 的目录名/文件名）
  --apply     真正编码成书（默认 dry-run）；支持 --apply=false 覆盖配置中的 apply=true
  --dry-run   等价于 --apply=false
  -h, --help  显示帮助

产物：
  <path>/out/<title>.m4b     成书（不允许覆盖已有同名文件）
  <path>/cache/report.json   运行报告（仅 apply）
`)
}

func emitReport(rr domain.RunReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stdout, "完成：chapters=%d encoded=%d failed=%d malformed=%d warnings=%d\n",
			rr.Summary.Chapters, rr.Summary.Encoded, rr.Summary.Failed, rr.Summary.Malformed, rr.Summary.Warnings,
		)
		if rr.Summary.Failed > 0 || rr.Summary.Malformed > 0 {
			for _, it := range rr.Items {
				if it.Status != domain.StatusFailed && it.Status != domain.StatusMalformed {
					continue
				}
				if it.ErrorCode == "" && it.ErrorMsg == "" {
					continue
				}
				key := it.Src
				if key == "" {
					key = "<run>"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintf(os.Stderr, "完成：chapters=%d encoded=%d failed=%d malformed=%d warnings=%d\n",
		rr.Summary.Chapters, rr.Summary.Encoded, rr.Summary.Failed, rr.Summary.Malformed, rr.Summary.Warnings,
	)
}

func reportForConfigError(cwdAbs string, ra runArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Path:       cwdAbs,
		DryRun:     !(ra.ApplySet && ra.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ChapterResult{{
			Index:     0,
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig, rr domain.RunReport) {
	// 这两行用于降低“完成后不知道产物在哪”的摩擦，且不影响 stdout JSON 契约。
	if w == nil {
		return
	}
	if eff.Apply {
		root := eff.Path
		if eff.SingleFile {
			root = filepath.Dir(eff.Path)
		}
		fmt.Fprintf(w, "report: %s\n", filepath.Join(root, "cache", "report.json"))
	}
	fmt.Fprintf(w, "out: %s\n", rr.Output)
}
