package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestProbe_WriteThenRead(t *testing.T) {
	root := t.TempDir()
	s := New(root, false)

	e := ProbeEntry{Size: 1234, ModUnix: 1700000000, DurationMS: 61000, Codec: "mp3"}
	if err := s.WriteProbe("Chapter 1 - Intro.mp3", e); err != nil {
		t.Fatalf("写入缓存失败：%v", err)
	}

	got, ok, err := s.ReadProbe("Chapter 1 - Intro.mp3", 1234, 1700000000)
	if err != nil {
		t.Fatalf("读取缓存失败：%v", err)
	}
	if !ok {
		t.Fatalf("期望命中，但未命中")
	}
	if got != e {
		t.Fatalf("条目不一致：%+v", got)
	}
}

func TestProbe_IdentityMismatchMiss(t *testing.T) {
	root := t.TempDir()
	s := New(root, false)

	e := ProbeEntry{Size: 1234, ModUnix: 1700000000, DurationMS: 61000, Codec: "mp3"}
	if err := s.WriteProbe("Chapter 1.mp3", e); err != nil {
		t.Fatalf("写入缓存失败：%v", err)
	}

	// size 变化：文件被替换，缓存应失效。
	if _, ok, err := s.ReadProbe("Chapter 1.mp3", 999, 1700000000); err != nil || ok {
		t.Fatalf("期望未命中：ok=%v err=%v", ok, err)
	}
	// mtime 变化：同上。
	if _, ok, err := s.ReadProbe("Chapter 1.mp3", 1234, 1700000001); err != nil || ok {
		t.Fatalf("期望未命中：ok=%v err=%v", ok, err)
	}
}

func TestProbe_ReadOnlyRejectsWrite(t *testing.T) {
	root := t.TempDir()
	s := New(root, true)

	err := s.WriteProbe("Chapter 1.mp3", ProbeEntry{Size: 1, ModUnix: 1})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}

	// 只读模式下不应创建任何缓存目录。
	if _, err := os.Stat(filepath.Join(root, "cache")); !os.IsNotExist(err) {
		t.Fatalf("只读模式不应创建 cache 目录：%v", err)
	}
}

func TestProbe_SameBaseDifferentDirNoCollision(t *testing.T) {
	root := t.TempDir()
	s := New(root, false)

	a := ProbeEntry{Size: 1, ModUnix: 1, DurationMS: 100, Codec: "mp3"}
	b := ProbeEntry{Size: 2, ModUnix: 2, DurationMS: 200, Codec: "aac"}
	if err := s.WriteProbe("part1/Chapter 1.mp3", a); err != nil {
		t.Fatalf("写入缓存失败：%v", err)
	}
	if err := s.WriteProbe("part2/Chapter 1.mp3", b); err != nil {
		t.Fatalf("写入缓存失败：%v", err)
	}

	got, ok, err := s.ReadProbe("part1/Chapter 1.mp3", 1, 1)
	if err != nil || !ok {
		t.Fatalf("期望命中：ok=%v err=%v", ok, err)
	}
	if got != a {
		t.Fatalf("条目被同名文件覆盖：%+v", got)
	}
}

func TestProbe_CorruptEntryIsMiss(t *testing.T) {
	root := t.TempDir()
	s := New(root, false)

	path, err := s.ProbePath("Chapter 1.mp3")
	if err != nil {
		t.Fatalf("ProbePath 失败：%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	if _, ok, err := s.ReadProbe("Chapter 1.mp3", 1, 1); err != nil || ok {
		t.Fatalf("损坏条目应当作未命中：ok=%v err=%v", ok, err)
	}
}
