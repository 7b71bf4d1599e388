// Package cover 解析封面图片来源并归一化为 JPEG。
//
// 解析顺序（固定）：
// 1) 配置显式指定的 cover 路径（配置了但读不到算错误）
// 2) <path>/<title>.jpg（目录约定）
// 3) 第一个章节文件内嵌的封面图（ID3/MP4 tag）
// 4) cover_url 下载（仅 apply；dry-run 不出网）
//
// 找不到封面不算错误：没有封面的书仍然是合法产物。
package cover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dhowden/tag"

	"github.com/John-Robertt/ABMC/internal/infra/imgx"
)

// 封面来源标识（进度/日志用）。
const (
	SourceExplicit = "cover"
	SourceTitleJPG = "title_jpg"
	SourceEmbedded = "embedded"
	SourceURL      = "url"
)

// 封面下载体积上限；超过视为异常响应。
const maxCoverBytes = 20 << 20

// Options 是一次封面解析的全部输入。
type Options struct {
	Root  string // 扫描根目录
	Title string // 书名（用于 <path>/<title>.jpg 约定）

	Explicit string // 配置显式指定的封面路径；空表示未配置

	// FirstChapter 是顺序第一个章节文件的绝对路径（内嵌封面来源）；空表示跳过。
	FirstChapter string

	CoverURL string // 下载兜底；空表示未配置

	// Client 为 nil 表示不允许网络访问（dry-run）。
	Client *http.Client
}

// Resolve 按固定顺序解析封面，返回归一化后的 JPEG 字节与来源标识。
// 所有来源都未命中时返回 (nil, "", nil)。
func Resolve(ctx context.Context, opts Options) ([]byte, string, error) {
	if opts.Explicit != "" {
		b, err := os.ReadFile(opts.Explicit)
		if err != nil {
			return nil, "", fmt.Errorf("读取封面文件失败：%w", err)
		}
		jpg, err := imgx.NormalizeCoverJPEG(b)
		if err != nil {
			return nil, "", fmt.Errorf("封面文件 %q 无法解码：%w", opts.Explicit, err)
		}
		return jpg, SourceExplicit, nil
	}

	// 目录约定：<path>/<title>.jpg。读不到或解不开都视为未命中（这不是用户显式配置）。
	if opts.Root != "" && opts.Title != "" {
		p := filepath.Join(opts.Root, opts.Title+".jpg")
		if b, err := os.ReadFile(p); err == nil {
			if jpg, err := imgx.NormalizeCoverJPEG(b); err == nil {
				return jpg, SourceTitleJPG, nil
			}
		}
	}

	if opts.FirstChapter != "" {
		if jpg := fromTag(opts.FirstChapter); jpg != nil {
			return jpg, SourceEmbedded, nil
		}
	}

	if opts.CoverURL != "" && opts.Client != nil {
		jpg, err := download(ctx, opts.Client, opts.CoverURL)
		if err != nil {
			return nil, "", err
		}
		return jpg, SourceURL, nil
	}

	return nil, "", nil
}

// fromTag 尝试从音频文件的 tag 中取出内嵌封面；任何失败都静默降级。
func fromTag(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil
	}
	jpg, err := imgx.NormalizeCoverJPEG(pic.Data)
	if err != nil {
		return nil
	}
	return jpg
}

func download(ctx context.Context, client *http.Client, coverURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("下载封面失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("下载封面失败：HTTP %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes+1))
	if err != nil {
		return nil, fmt.Errorf("下载封面失败：%w", err)
	}
	if len(b) > maxCoverBytes {
		return nil, fmt.Errorf("封面响应超过 %d 字节上限", maxCoverBytes)
	}
	jpg, err := imgx.NormalizeCoverJPEG(b)
	if err != nil {
		return nil, fmt.Errorf("封面响应无法解码：%w", err)
	}
	return jpg, nil
}
