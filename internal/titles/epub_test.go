package titles

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func writeEPUB(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("创建文件失败：%v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("写入 zip 条目失败：%v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("写入 zip 内容失败：%v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("关闭 zip 失败：%v", err)
	}
	return path
}

const ncxSample = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="n1" playOrder="1">
      <navLabel><text>The Boy Who Lived</text></navLabel>
      <content src="ch1.xhtml"/>
    </navPoint>
    <navPoint id="n2" playOrder="2">
      <navLabel><text>The Vanishing Glass</text></navLabel>
      <content src="ch2.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`

const navSample = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<body>
  <nav>
    <ol>
      <li><a href="ch1.xhtml">Intro</a></li>
      <li><a href="ch2.xhtml">Outro</a></li>
    </ol>
  </nav>
</body>
</html>`

func TestFromEPUB_NCX(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"mimetype":        "application/epub+zip",
		"OEBPS/toc.ncx":   ncxSample,
		"OEBPS/ch1.xhtml": "<html/>",
	})

	got, err := FromEPUB(path)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 2 || got[0] != "The Boy Who Lived" || got[1] != "The Vanishing Glass" {
		t.Fatalf("NCX 标题不符合预期：%v", got)
	}
}

func TestFromEPUB_NavDocFallback(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"mimetype":        "application/epub+zip",
		"OEBPS/nav.xhtml": navSample,
	})

	got, err := FromEPUB(path)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 2 || got[0] != "Intro" || got[1] != "Outro" {
		t.Fatalf("nav 标题不符合预期：%v", got)
	}
}

func TestFromEPUB_NoTOCIsError(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"mimetype": "application/epub+zip",
	})

	if _, err := FromEPUB(path); err == nil {
		t.Fatalf("缺少目录应报错")
	}
}

func TestFromEPUB_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.epub")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
	if _, err := FromEPUB(path); err == nil {
		t.Fatalf("非法 zip 应报错")
	}
}
