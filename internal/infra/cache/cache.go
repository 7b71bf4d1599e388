package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/ABMC/internal/infra/fsx"
)

// Store 提供 <path>/cache/ 下的探测结果缓存读写。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
type Store struct {
	Root     string // <path>（扫描根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// ProbeEntry 是单个音频文件的 ffprobe 结果缓存。
// Size/ModUnix 用于校验身份：文件被替换或修改后缓存自动失效。
type ProbeEntry struct {
	Size       int64  `json:"size"`
	ModUnix    int64  `json:"mod_unix"`
	DurationMS int64  `json:"duration_ms"`
	Codec      string `json:"codec"`
}

// ProbePath 返回某个章节文件对应的缓存条目绝对路径。
//
// relPath 以扫描根目录为基准。文件名取 base 的安全化形式并拼上 relPath 的
// fnv 摘要，避免不同子目录的同名文件相互覆盖。
func (s Store) ProbePath(relPath string) (string, error) {
	rel := strings.TrimSpace(relPath)
	if rel == "" {
		return "", fmt.Errorf("relPath 不能为空")
	}
	base := sanitizeBase(filepath.Base(rel))
	h := fnv.New32a()
	_, _ = h.Write([]byte(filepath.ToSlash(rel)))
	name := fmt.Sprintf("%s-%08x.json", base, h.Sum32())
	return filepath.Join(s.Root, "cache", "probe", name), nil
}

// ReadProbe 读取缓存；仅当 size/mtime 与当前文件一致时才视为命中。
func (s Store) ReadProbe(relPath string, size, modUnix int64) (ProbeEntry, bool, error) {
	path, err := s.ProbePath(relPath)
	if err != nil {
		return ProbeEntry{}, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProbeEntry{}, false, nil
		}
		return ProbeEntry{}, false, err
	}
	var e ProbeEntry
	if err := json.Unmarshal(b, &e); err != nil {
		// 损坏条目当作未命中；apply 阶段会重写。
		return ProbeEntry{}, false, nil
	}
	if e.Size != size || e.ModUnix != modUnix {
		return ProbeEntry{}, false, nil
	}
	return e, true, nil
}

func (s Store) WriteProbe(relPath string, e ProbeEntry) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.ProbePath(relPath)
	if err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), b)
}

var unsafeCharRE = regexp.MustCompile(`[^A-Za-z0-9._ -]+`)

// sanitizeBase 做最小约束：去掉路径分隔符与控制字符，避免路径穿越。
// 章节文件名本身受命名约定限制，这里不做更多“聪明”处理。
func sanitizeBase(base string) string {
	base = unsafeCharRE.ReplaceAllString(base, "_")
	base = strings.Trim(base, ". ")
	if base == "" {
		base = "chapter"
	}
	return base
}
