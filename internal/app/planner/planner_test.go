package planner

import (
	"reflect"
	"testing"

	"github.com/John-Robertt/ABMC/internal/domain"
)

func src(rel, title string, durMS int64) domain.ChapterSource {
	return domain.ChapterSource{
		File:       domain.AudioFile{AbsPath: "/abs/" + rel, RelPath: rel},
		Title:      title,
		DurationMS: durMS,
	}
}

func TestTimeline_ContiguousOffsets(t *testing.T) {
	sources := []domain.ChapterSource{
		src("Chapter 0.0 - Intro.mp3", "Chapter 0.0: Intro", 10_000),
		src("Chapter 1 - A.mp3", "Chapter 1: A", 120_000),
		src("Chapter 2 - B.mp3", "Chapter 2: B", 90_000),
	}

	chapters, zeroIdx, err := Timeline(sources)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(zeroIdx) != 0 {
		t.Fatalf("不期望零时长章节：%v", zeroIdx)
	}

	want := []domain.Chapter{
		{Title: "Chapter 0.0: Intro", StartMS: 0, EndMS: 10_000},
		{Title: "Chapter 1: A", StartMS: 10_000, EndMS: 130_000},
		{Title: "Chapter 2: B", StartMS: 130_000, EndMS: 220_000},
	}
	if !reflect.DeepEqual(chapters, want) {
		t.Fatalf("章节表不符合预期：\ngot=%+v\nwant=%+v", chapters, want)
	}

	// 第一章从 0 开始；相邻章节 end==start。
	if chapters[0].StartMS != 0 {
		t.Fatalf("第一章必须从 0 开始：%+v", chapters[0])
	}
	for i := 0; i+1 < len(chapters); i++ {
		if chapters[i].EndMS != chapters[i+1].StartMS {
			t.Fatalf("章节不连续：i=%d end=%d next_start=%d", i, chapters[i].EndMS, chapters[i+1].StartMS)
		}
	}
	if TotalMS(chapters) != 220_000 {
		t.Fatalf("总时长不符合预期：%d", TotalMS(chapters))
	}
}

func TestTimeline_ZeroDurationIsWarningNotError(t *testing.T) {
	sources := []domain.ChapterSource{
		src("Chapter 1.mp3", "Chapter 1", 0),
		src("Chapter 2.mp3", "Chapter 2", 5_000),
	}

	chapters, zeroIdx, err := Timeline(sources)
	if err != nil {
		t.Fatalf("零时长不应是错误：%v", err)
	}
	if len(zeroIdx) != 1 || zeroIdx[0] != 0 {
		t.Fatalf("期望下标 0 被标记为零时长：%v", zeroIdx)
	}
	if chapters[0].StartMS != 0 || chapters[0].EndMS != 0 || chapters[1].StartMS != 0 {
		t.Fatalf("空章节的边界不符合预期：%+v", chapters)
	}
}

func TestTimeline_NegativeDurationRejected(t *testing.T) {
	_, _, err := Timeline([]domain.ChapterSource{src("Chapter 1.mp3", "Chapter 1", -1)})
	if err == nil {
		t.Fatalf("期望负时长报错")
	}
}

func TestTimeline_Deterministic(t *testing.T) {
	sources := []domain.ChapterSource{
		src("Chapter 1.mp3", "Chapter 1", 7_331),
		src("Chapter 2.mp3", "Chapter 2", 42),
	}

	a, _, err := Timeline(sources)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, _, err := Timeline(sources)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("相同输入应得到相同章节表：\na=%+v\nb=%+v", a, b)
	}
}
