package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"

	"github.com/John-Robertt/ABMC/internal/scan"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 abmc.json。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
)

const (
	// DefaultBitrate 是 aac 码率的最终默认值（当 CLI 与配置文件都未指定时）。
	DefaultBitrate = "128k"
	// DefaultConcurrency 是探测并发的内置默认值（当配置未指定时）。
	DefaultConcurrency = 4
)

// 环境变量层：.env（与配置文件同目录）先加载，再由进程环境兜底。
// 只覆盖“路径/网络”这类部署相关字段，不覆盖语义字段。
const (
	EnvFFmpeg   = "ABMC_FFMPEG"
	EnvFFprobe  = "ABMC_FFPROBE"
	EnvProxyURL = "ABMC_PROXY_URL"
)

// CLIArgs 只包含 CLI 暴露的入口（path/author/--title/--apply），并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 config.apply=true。
type CLIArgs struct {
	Path   string
	Author string

	Title    string
	TitleSet bool

	Apply    bool
	ApplySet bool
}

// FileConfig 对应 abmc.json 的解析结构。
type FileConfig struct {
	Path        string       `json:"path"`
	Author      string       `json:"author"`
	Title       string       `json:"title"`
	Apply       *bool        `json:"apply"`
	Concurrency int          `json:"concurrency"`
	Bitrate     string       `json:"bitrate"`
	ExcludeDirs []string     `json:"exclude_dirs"`
	TitlesFile  string       `json:"titles_file"`
	EPUB        string       `json:"epub"`
	Cover       string       `json:"cover"`
	CoverURL    string       `json:"cover_url"`
	Proxy       *ProxyConfig `json:"proxy"`
	CoverProxy  bool         `json:"cover_proxy"`
	FFmpegPath  string       `json:"ffmpeg_path"`
	FFprobePath string       `json:"ffprobe_path"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// Path 是扫描根：章节目录，或单个音频文件（整本书一个章节）。
	Path string
	// SingleFile 表示 Path 指向单个音频文件而非目录。
	SingleFile bool

	Author string
	Title  string
	Apply  bool

	Concurrency int
	Bitrate     string
	ExcludeDirs []string

	// TitlesFile/EPUB/Cover 为 clean+absolute（相对路径以 Path 所在目录为基准）；空表示未配置。
	TitlesFile string
	EPUB       string
	Cover      string
	CoverURL   string

	ProxyURL   string
	CoverProxy bool

	// FFmpegPath/FFprobePath 为空表示走 $PATH 查找。
	FFmpegPath  string
	FFprobePath string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按文档约定发现并读取配置文件，然后与 CLI 参数、环境变量合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/abmc.json（可选）；path 若是单个音频文件，
//    则读取其所在目录下的 abmc.json
// 2) CLI 未提供 path：必须读取 <cwd>/abmc.json（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path/author：CLI > config
// - title：CLI --title > config > path 的 basename
// - apply：CLI --apply/--apply=false > config > 默认 false（dry-run）
// - ffmpeg_path/ffprobe_path/proxy.url：config > 环境变量（.env 先加载）> 默认
// - 其他字段：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Path) != "" {
		// CLI 给了 path：配置文件可选，位置固定在 <path>/abmc.json。
		absPath := absCleanFrom(cwdAbs, cli.Path)
		cfgDir := absPath
		singleFile := isAudioFile(absPath)
		if singleFile {
			cfgDir = filepath.Dir(absPath)
		}
		cfgPath := filepath.Join(cfgDir, "abmc.json")

		fc, _, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}

		return merge(absPath, singleFile, cli, fc, cfgDir, cfgPath)
	}

	// CLI 没给 path：必须读取 <cwd>/abmc.json，且其中必须包含 path。
	cfgPath := filepath.Join(cwdAbs, "abmc.json")
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Path) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}

	absPath := absCleanFrom(cwdAbs, fc.Path)
	return merge(absPath, isAudioFile(absPath), cli, fc, cwdAbs, cfgPath)
}

func merge(absPath string, singleFile bool, cli CLIArgs, fc FileConfig, cfgDir, cfgPath string) (EffectiveConfig, error) {
	// .env 与进程环境仅兜底部署相关字段。
	env := loadEnv(cfgDir)

	// author：CLI > config（必填：成书元数据没有 artist/author 没法通过校验）
	author := strings.TrimSpace(cli.Author)
	if author == "" {
		author = strings.TrimSpace(fc.Author)
	}
	if author == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("缺少 author：请通过第二个位置参数或配置文件提供")}
	}

	// title：CLI --title > config > path 的 basename（文件模式去掉扩展名）
	title := ""
	if cli.TitleSet {
		title = strings.TrimSpace(cli.Title)
	} else {
		title = strings.TrimSpace(fc.Title)
	}
	if title == "" {
		title = filepath.Base(absPath)
		if singleFile {
			title = strings.TrimSuffix(title, filepath.Ext(title))
		}
	}
	if title == "" || title == "." || title == string(filepath.Separator) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("无法从 path 推导 title：%q", absPath)}
	}

	// apply：CLI > config > 默认 false
	apply := false
	if cli.ApplySet {
		apply = cli.Apply
	} else if fc.Apply != nil {
		apply = *fc.Apply
	}

	concurrency := fc.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 文档约定：范围建议 [1, 16]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 16 {
		concurrency = 16
	}

	bitrate := strings.TrimSpace(fc.Bitrate)
	if bitrate == "" {
		bitrate = DefaultBitrate
	}
	if !bitrateRE.MatchString(bitrate) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("bitrate 必须形如 128k，实际是 %q", bitrate)}
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL == "" {
		proxyURL = env.proxyURL
	}
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("proxy.url 无效：%w", err)}
		}
	}
	if fc.CoverProxy && proxyURL == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("cover_proxy=true 但 proxy.url 为空")}
	}

	coverURL := strings.TrimSpace(fc.CoverURL)
	if coverURL != "" {
		u, err := url.Parse(coverURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("cover_url 无效：%q", coverURL)}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("cover_url 必须是 http/https：%q", coverURL)}
		}
	}

	ffmpegPath := strings.TrimSpace(fc.FFmpegPath)
	if ffmpegPath == "" {
		ffmpegPath = env.ffmpeg
	}
	ffprobePath := strings.TrimSpace(fc.FFprobePath)
	if ffprobePath == "" {
		ffprobePath = env.ffprobe
	}

	return EffectiveConfig{
		Path:        absPath,
		SingleFile:  singleFile,
		Author:      author,
		Title:       title,
		Apply:       apply,
		Concurrency: concurrency,
		Bitrate:     bitrate,
		ExcludeDirs: append([]string(nil), fc.ExcludeDirs...),
		TitlesFile:  absOptional(cfgDir, fc.TitlesFile),
		EPUB:        absOptional(cfgDir, fc.EPUB),
		Cover:       absOptional(cfgDir, fc.Cover),
		CoverURL:    coverURL,
		ProxyURL:    proxyURL,
		CoverProxy:  fc.CoverProxy,
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
	}, nil
}

var bitrateRE = regexp.MustCompile(`^[0-9]{2,3}k$`)

type envLayer struct {
	ffmpeg   string
	ffprobe  string
	proxyURL string
}

// loadEnv 先加载 cfgDir 下的 .env（不覆盖已有进程环境），再读取三个兜底变量。
func loadEnv(cfgDir string) envLayer {
	_ = godotenv.Load(filepath.Join(cfgDir, ".env"))
	return envLayer{
		ffmpeg:   strings.TrimSpace(os.Getenv(EnvFFmpeg)),
		ffprobe:  strings.TrimSpace(os.Getenv(EnvFFprobe)),
		proxyURL: strings.TrimSpace(os.Getenv(EnvProxyURL)),
	}
}

// isAudioFile 判断 path 是否指向一个现存的普通音频文件（单文件模式）。
func isAudioFile(path string) bool {
	if !scan.IsAudioExt(strings.ToLower(filepath.Ext(path))) {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

func absOptional(base, p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	return absCleanFrom(base, p)
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
