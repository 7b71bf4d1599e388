package chapname

import (
	"regexp"
	"strings"

	"github.com/John-Robertt/ABMC/internal/domain"
)

// 章节命名约定："Chapter <key>[ - <标题>]"，key 是十进制数（允许小数）。
// 注意：必须以 Chapter 开头；其他形态一律视为 malformed（绝不静默跳过）。
var nameRE = regexp.MustCompile(`(?i)^chapter[\s._-]+([0-9]{1,4}(?:\.[0-9]{1,4})?)(?:\s*-\s*(.+))?$`)

// Name 是解析成功的章节名：排序键 + 展示标题。
type Name struct {
	Key   domain.SortKey
	Title string
}

type MalformedError struct {
	Base string
	// Kind: "no_prefix"（缺少 Chapter 前缀）或 "bad_key"（数值键不可解析）
	Kind string
}

func (e *MalformedError) Error() string {
	switch e.Kind {
	case "no_prefix":
		return "文件名缺少 Chapter 前缀：" + e.Base
	case "bad_key":
		return "无法从文件名解析出数值排序键：" + e.Base
	default:
		return "malformed: " + e.Base
	}
}

// Parse 从文件名（不含扩展名）解析章节排序键与标题。
// 若解析失败，返回 *MalformedError（no_prefix / bad_key）。
func Parse(base string) (Name, error) {
	base = strings.TrimSpace(base)

	m := nameRE.FindStringSubmatch(base)
	if m == nil {
		kind := "no_prefix"
		if strings.HasPrefix(strings.ToLower(base), "chapter") {
			kind = "bad_key"
		}
		return Name{}, &MalformedError{Base: base, Kind: kind}
	}

	key, ok := domain.ParseSortKey(m[1])
	if !ok {
		return Name{}, &MalformedError{Base: base, Kind: "bad_key"}
	}

	// 展示标题沿用文件名本身，" - " 换成 ": "（"Chapter 1 - A" => "Chapter 1: A"）。
	title := strings.TrimSpace(m[2])
	if title == "" {
		return Name{Key: key, Title: "Chapter " + key.String()}, nil
	}
	return Name{Key: key, Title: "Chapter " + key.String() + ": " + title}, nil
}
