package app

import (
	"testing"

	"github.com/John-Robertt/ABMC/internal/domain"
)

func audio(rel, base string) domain.AudioFile {
	return domain.AudioFile{AbsPath: "/abs/" + rel, RelPath: rel, Base: base, Ext: ".mp3"}
}

func TestOrderChapters_FractionalPreChapterFirst(t *testing.T) {
	files := []domain.AudioFile{
		audio("Chapter 2 - B.mp3", "Chapter 2 - B"),
		audio("Chapter 1 - A.mp3", "Chapter 1 - A"),
		audio("Chapter 0.0 - Intro.mp3", "Chapter 0.0 - Intro"),
	}

	sources, malformed := OrderChapters(files)
	if len(malformed) != 0 {
		t.Fatalf("不期望 malformed：%+v", malformed)
	}
	if len(sources) != 3 {
		t.Fatalf("期望 3 个章节源，实际 %d", len(sources))
	}

	want := []string{"Chapter 0.0: Intro", "Chapter 1: A", "Chapter 2: B"}
	for i, w := range want {
		if sources[i].Title != w {
			t.Fatalf("顺序不符合预期：i=%d got=%q want=%q", i, sources[i].Title, w)
		}
	}
}

func TestOrderChapters_TieBrokenByFilename(t *testing.T) {
	files := []domain.AudioFile{
		audio("b/Chapter 1.mp3", "Chapter 1"),
		audio("a/Chapter 1.mp3", "Chapter 1"),
	}

	sources, _ := OrderChapters(files)
	if len(sources) != 2 {
		t.Fatalf("期望 2 个章节源，实际 %d", len(sources))
	}
	if sources[0].File.RelPath != "a/Chapter 1.mp3" {
		t.Fatalf("键相等时应按文件名字典序：%q", sources[0].File.RelPath)
	}
}

func TestOrderChapters_MalformedSurfacedNotSkipped(t *testing.T) {
	files := []domain.AudioFile{
		audio("Chapter 1 - A.mp3", "Chapter 1 - A"),
		audio("notes.mp3", "notes"),
		audio("Chapter one.mp3", "Chapter one"),
	}

	sources, malformed := OrderChapters(files)
	if len(sources) != 1 {
		t.Fatalf("期望 1 个章节源，实际 %d", len(sources))
	}
	if len(malformed) != 2 {
		t.Fatalf("期望 2 个 malformed，实际 %d", len(malformed))
	}
	// malformed 按 RelPath 稳定排序。
	if malformed[0].File.RelPath != "Chapter one.mp3" || malformed[0].Kind != "bad_key" {
		t.Fatalf("malformed[0] 不符合预期：%+v", malformed[0])
	}
	if malformed[1].File.RelPath != "notes.mp3" || malformed[1].Kind != "no_prefix" {
		t.Fatalf("malformed[1] 不符合预期：%+v", malformed[1])
	}
}
