package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult 是一次 ffprobe 的结构化结果（时长向下取毫秒）。
type ProbeResult struct {
	DurationMS int64
	Codec      string // 第一条音频流的 codec name，例如 "mp3"
}

// Prober 抽象“探测一个音频文件的时长/编码”这一外部能力。
// 核心流程只依赖该接口，测试可以用假实现替代真实 ffprobe。
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// Job 描述一次完整的成书编码：concat 列表 + FFMETADATA + 可选封面 + 标签。
// 编码器整次消费章节表，只调用一次。
type Job struct {
	ConcatList string // filelist（concat demuxer 输入）的绝对路径
	Metadata   string // FFMETADATA1 文件的绝对路径
	Cover      string // 封面 JPEG 路径；空表示无封面

	Title   string
	Author  string
	Bitrate string // 例如 "128k"

	Output string // 产物路径（调用方负责临时名 + 最终 rename）
}

// Encoder 抽象外部编码器的一次性调用：提交有序章节与元数据，换回成功/失败。
//
// 约束：
// - 调用必须恰好一次、阻塞到结束；失败不重试（编码是确定性的，重试无意义）
// - 非零退出/无法启动必须把外部错误原样带回（stderr verbatim）
type Encoder interface {
	Encode(ctx context.Context, job Job) error
}

// Engine 是执行一次 run 所需的全部外部音频能力。
type Engine interface {
	Prober
	Encoder
}

// ExecError 表示外部进程调用失败（非零退出或无法启动）。
// Stderr 原样保留，供 report 的 error_msg 呈现给用户。
type ExecError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s 调用失败：%v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s 调用失败：%v\n%s", e.Name, e.Err, msg)
}

func (e *ExecError) Unwrap() error { return e.Err }

// CLI 通过 os/exec 调用真实的 ffmpeg/ffprobe。
type CLI struct {
	FFmpeg  string
	FFprobe string
}

// NewCLI 构造外部编码器入口；路径为空时回退到 $PATH 查找。
func NewCLI(ffmpegPath, ffprobePath string) CLI {
	return CLI{
		FFmpeg:  lookPathOr(ffmpegPath, "ffmpeg"),
		FFprobe: lookPathOr(ffprobePath, "ffprobe"),
	}
}

func lookPathOr(configured, name string) string {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return configured
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

// CheckInstalled 验证两个外部二进制可执行（-version，不触碰任何输入）。
func (c CLI) CheckInstalled(ctx context.Context) error {
	for _, bin := range []string{c.FFmpeg, c.FFprobe} {
		if err := exec.CommandContext(ctx, bin, "-version").Run(); err != nil {
			return fmt.Errorf("外部编码器不可用：%q（%w）", bin, err)
		}
	}
	return nil
}

// Probe 用 ffprobe 读取时长与第一条音频流的 codec。
func (c CLI) Probe(ctx context.Context, path string) (ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, c.FFprobe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ProbeResult{}, &ExecError{Name: c.FFprobe, Args: args, Stderr: stderr.String(), Err: err}
	}
	return parseProbeJSON(stdout.Bytes())
}

func parseProbeJSON(data []byte) (ProbeResult, error) {
	var probe struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe 输出不是合法 JSON：%w", err)
	}

	sec, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe 未给出可解析的时长：%q", probe.Format.Duration)
	}
	if sec < 0 {
		return ProbeResult{}, fmt.Errorf("ffprobe 给出负时长：%v", sec)
	}

	out := ProbeResult{DurationMS: int64(sec * 1000)}
	for _, s := range probe.Streams {
		if s.CodecType == "audio" {
			out.Codec = s.CodecName
			break
		}
	}
	return out, nil
}

// Encode 调用一次 ffmpeg：concat demuxer 拼接 + FFMETADATA 章节 + 可选封面 +
// aac 重编码，产物为 m4b（mp4 容器）。阻塞到进程结束。
func (c CLI) Encode(ctx context.Context, job Job) error {
	args := BuildEncodeArgs(job)

	cmd := exec.CommandContext(ctx, c.FFmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &ExecError{Name: c.FFmpeg, Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// BuildEncodeArgs 把 Job 展开为 ffmpeg 参数（纯函数，便于测试锁定命令行契约）。
func BuildEncodeArgs(job Job) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", job.ConcatList,
		"-i", job.Metadata,
	}

	hasCover := strings.TrimSpace(job.Cover) != ""
	if hasCover {
		args = append(args, "-i", job.Cover)
	}

	// 章节 marker 来自 FFMETADATA 输入（下标 1）。
	args = append(args, "-map_metadata", "1")
	args = append(args, "-map", "0:a")
	if hasCover {
		args = append(args,
			"-map", "2",
			"-c:v", "mjpeg",
			"-disposition:v", "attached_pic",
		)
	}

	bitrate := strings.TrimSpace(job.Bitrate)
	if bitrate == "" {
		bitrate = "128k"
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", bitrate,
		"-ar", "44100",
		"-ac", "2",
	)

	args = append(args,
		"-metadata", "title="+job.Title,
		"-metadata", "album="+job.Title,
		"-metadata", "artist="+job.Author,
		"-metadata", "author="+job.Author,
	)

	// 产物写到临时名，扩展名不可信：显式声明 mp4 容器。
	args = append(args, "-f", "mp4", job.Output)
	return args
}

// WriteConcatList 生成 concat demuxer 的 filelist 内容（单引号转义规则固定）。
func WriteConcatList(paths []string) []byte {
	var bb bytes.Buffer
	for _, p := range paths {
		fmt.Fprintf(&bb, "file '%s'\n", escapeQuote(p))
	}
	return bb.Bytes()
}

func escapeQuote(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
