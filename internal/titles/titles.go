package titles

import (
	"bufio"
	"os"
	"strings"

	"github.com/dhowden/tag"

	"github.com/John-Robertt/ABMC/internal/domain"
)

// LoadFile 读取章节标题清单（chapter_titles.txt 约定）：
// 每行一个标题，按时间顺序排列；空行与 # 开头的行忽略。
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make([]string, 0, 32)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply 把标题清单按顺序套到已排序的章节源上："Chapter <key>: <标题>"。
// 清单与章节数不一致时做 best-effort（只覆盖前 min(n) 个），返回覆盖条数。
func Apply(sources []domain.ChapterSource, titles []string) int {
	n := len(titles)
	if len(sources) < n {
		n = len(sources)
	}
	for i := 0; i < n; i++ {
		sources[i].Title = "Chapter " + sources[i].Key.String() + ": " + titles[i]
	}
	return n
}

// FromTag 读取单个音频文件内嵌标签的 title（ID3/MP4 atom）。
// 读取失败或 title 为空都返回空串：标签只是 best-effort 的标题来源。
func FromTag(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(m.Title())
}

// ApplyTags 对没有自带标题的章节（文件名只有序号）补上标签 title。
// 已经从文件名/清单得到标题的章节不动。返回补充条数。
func ApplyTags(sources []domain.ChapterSource) int {
	applied := 0
	for i := range sources {
		// "Chapter <key>" 形态说明文件名没带标题，才需要补。
		if sources[i].Title != "Chapter "+sources[i].Key.String() {
			continue
		}
		t := FromTag(sources[i].File.AbsPath)
		if t == "" {
			continue
		}
		sources[i].Title = "Chapter " + sources[i].Key.String() + ": " + t
		applied++
	}
	return applied
}
