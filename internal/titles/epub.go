package titles

import (
	"archive/zip"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FromEPUB 从 EPUB 的目录（NCX 或 EPUB3 nav 文档）提取章节标题清单。
//
// 查找顺序：
// 1) 任意 *.ncx：navMap 里每个 navPoint 的 navLabel/text
// 2) 文件名含 "nav" 的 *.xhtml/*.html：<nav> 列表里的链接文本
// 找不到目录或目录为空视为错误（上层决定是否降级）。
func FromEPUB(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开 EPUB：%w", err)
	}
	defer r.Close()

	if titles, ok, err := fromNCX(&r.Reader); err != nil {
		return nil, err
	} else if ok {
		return titles, nil
	}

	if titles, ok, err := fromNavDoc(&r.Reader); err != nil {
		return nil, err
	} else if ok {
		return titles, nil
	}

	return nil, fmt.Errorf("EPUB 中未找到可用的章节目录（ncx/nav）：%s", path)
}

func fromNCX(r *zip.Reader) ([]string, bool, error) {
	for _, f := range r.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".ncx") {
			continue
		}
		doc, err := parseEntry(f)
		if err != nil {
			return nil, false, err
		}

		// HTML parser 会把 XML 标签统一小写：navMap => navmap。
		titles := make([]string, 0, 32)
		doc.Find("navmap navpoint navlabel text").Each(func(_ int, s *goquery.Selection) {
			t := strings.TrimSpace(s.Text())
			if t != "" {
				titles = append(titles, t)
			}
		})
		if len(titles) > 0 {
			return titles, true, nil
		}
	}
	return nil, false, nil
}

func fromNavDoc(r *zip.Reader) ([]string, bool, error) {
	for _, f := range r.File {
		low := strings.ToLower(f.Name)
		if !strings.Contains(low, "nav") {
			continue
		}
		if !strings.HasSuffix(low, ".xhtml") && !strings.HasSuffix(low, ".html") {
			continue
		}
		doc, err := parseEntry(f)
		if err != nil {
			return nil, false, err
		}

		titles := make([]string, 0, 32)
		doc.Find("nav ol li a").Each(func(_ int, s *goquery.Selection) {
			t := strings.TrimSpace(s.Text())
			if t != "" {
				titles = append(titles, t)
			}
		})
		if len(titles) > 0 {
			return titles, true, nil
		}
	}
	return nil, false, nil
}

func parseEntry(f *zip.File) (*goquery.Document, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("读取 EPUB 条目失败：%s：%w", f.Name, err)
	}
	defer rc.Close()

	doc, err := goquery.NewDocumentFromReader(rc)
	if err != nil {
		return nil, fmt.Errorf("解析 EPUB 条目失败：%s：%w", f.Name, err)
	}
	return doc, nil
}
