package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEffective_ConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_ConfigMissingPath(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "abmc.json"), []byte(`{"author":"某人"}`))

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeMissingPath {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingPath, err, Code(err))
	}
}

func TestLoadEffective_MissingAuthor(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "abmc.json"), []byte(`{"path":"book"}`))

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_ApplyCLIOverride(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "abmc.json"), []byte(`{"path":"book","author":"某人","apply":true}`))

	eff, err := LoadEffective(cwd, CLIArgs{
		Apply:    false,
		ApplySet: true, // --apply=false
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Apply != false {
		t.Fatalf("期望 apply=false，实际=%v", eff.Apply)
	}

	wantPath := filepath.Join(cwd, "book")
	if eff.Path != wantPath {
		t.Fatalf("期望 path=%q，实际=%q", wantPath, eff.Path)
	}
}

func TestLoadEffective_TitleMergeOrder(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "abmc.json"), []byte(`{"path":"我的书","author":"某人","title":"配置标题"}`))

	// CLI 未指定 title，则应使用配置文件中的值。
	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Title != "配置标题" {
		t.Fatalf("期望 title=配置标题，实际=%q", eff.Title)
	}

	// CLI 显式指定，则覆盖配置文件。
	eff2, err := LoadEffective(cwd, CLIArgs{
		Title:    "命令行标题",
		TitleSet: true,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff2.Title != "命令行标题" {
		t.Fatalf("期望 title=命令行标题，实际=%q", eff2.Title)
	}
}

func TestLoadEffective_TitleDefaultsToBasename(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "霍乱时期的爱情")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	eff, err := LoadEffective(cwd, CLIArgs{Path: root, Author: "马尔克斯"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Title != "霍乱时期的爱情" {
		t.Fatalf("期望 title=霍乱时期的爱情，实际=%q", eff.Title)
	}
	if eff.SingleFile {
		t.Fatalf("目录不应判定为单文件模式")
	}
}

func TestLoadEffective_CLIPath_ConfigOptional(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	// <path>/abmc.json 不存在：不报错，使用默认值。
	eff, err := LoadEffective(cwd, CLIArgs{Path: root, Author: "某人"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Apply {
		t.Fatalf("默认应为 dry-run")
	}
	if eff.Concurrency != DefaultConcurrency {
		t.Fatalf("期望 concurrency=%d，实际=%d", DefaultConcurrency, eff.Concurrency)
	}
	if eff.Bitrate != DefaultBitrate {
		t.Fatalf("期望 bitrate=%q，实际=%q", DefaultBitrate, eff.Bitrate)
	}
}

func TestLoadEffective_SingleFileMode(t *testing.T) {
	cwd := t.TempDir()
	book := filepath.Join(cwd, "完整朗读.mp3")
	writeFile(t, book, []byte("not really audio"))
	// 配置文件在文件所在目录查找。
	writeFile(t, filepath.Join(cwd, "abmc.json"), []byte(`{"bitrate":"96k"}`))

	eff, err := LoadEffective(cwd, CLIArgs{Path: book, Author: "某人"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !eff.SingleFile {
		t.Fatalf("期望单文件模式")
	}
	if eff.Title != "完整朗读" {
		t.Fatalf("单文件模式 title 应去掉扩展名，实际=%q", eff.Title)
	}
	if eff.Bitrate != "96k" {
		t.Fatalf("期望读取到文件所在目录的配置，bitrate=%q", eff.Bitrate)
	}
}

func TestLoadEffective_ConcurrencyClamp(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "book")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	writeFile(t, filepath.Join(root, "abmc.json"), []byte(`{"concurrency":99}`))

	eff, err := LoadEffective(cwd, CLIArgs{Path: root, Author: "某人"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Concurrency != 16 {
		t.Fatalf("期望截断到 16，实际=%d", eff.Concurrency)
	}
}

func TestLoadEffective_InvalidBitrate(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "book")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	writeFile(t, filepath.Join(root, "abmc.json"), []byte(`{"bitrate":"128"}`))

	_, err := LoadEffective(cwd, CLIArgs{Path: root, Author: "某人"})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_CoverProxyRequiresProxyURL(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "book")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	writeFile(t, filepath.Join(root, "abmc.json"), []byte(`{"cover_proxy":true}`))

	_, err := LoadEffective(cwd, CLIArgs{Path: root, Author: "某人"})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_EnvFillsFFmpegPaths(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "book")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	t.Setenv(EnvFFmpeg, "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv(EnvFFprobe, "/opt/ffmpeg/bin/ffprobe")

	eff, err := LoadEffective(cwd, CLIArgs{Path: root, Author: "某人"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("期望环境变量兜底 ffmpeg_path，实际=%q", eff.FFmpegPath)
	}
	if eff.FFprobePath != "/opt/ffmpeg/bin/ffprobe" {
		t.Fatalf("期望环境变量兜底 ffprobe_path，实际=%q", eff.FFprobePath)
	}
}

func TestLoadEffective_ConfigOverridesEnv(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "book")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	writeFile(t, filepath.Join(root, "abmc.json"), []byte(`{"ffmpeg_path":"/usr/local/bin/ffmpeg"}`))
	t.Setenv(EnvFFmpeg, "/opt/ffmpeg/bin/ffmpeg")

	eff, err := LoadEffective(cwd, CLIArgs{Path: root, Author: "某人"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.FFmpegPath != "/usr/local/bin/ffmpeg" {
		t.Fatalf("配置文件应覆盖环境变量，实际=%q", eff.FFmpegPath)
	}
}

func TestLoadEffective_RelativeAuxPaths(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "book")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	writeFile(t, filepath.Join(root, "abmc.json"), []byte(`{"titles_file":"chapter_titles.txt","cover":"cover.png"}`))

	eff, err := LoadEffective(cwd, CLIArgs{Path: root, Author: "某人"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.TitlesFile != filepath.Join(root, "chapter_titles.txt") {
		t.Fatalf("titles_file 应以配置目录为基准，实际=%q", eff.TitlesFile)
	}
	if eff.Cover != filepath.Join(root, "cover.png") {
		t.Fatalf("cover 应以配置目录为基准，实际=%q", eff.Cover)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
