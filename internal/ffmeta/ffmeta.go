package ffmeta

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/John-Robertt/ABMC/internal/domain"
)

// Timebase 固定 1/1000：章节边界以毫秒计。
const Timebase = "1/1000"

// Encode 把 Book 转成 ffmpeg 可读取的 FFMETADATA1 文本。
//
// 规则：
// - 全局标签在前（title/album/artist/author），每章一个 [CHAPTER] 块
// - 值里的 = ; # \ 与换行必须转义（ffmetadata 语法约定）
// - 输出逐字节确定：相同 Book 必然得到相同内容
func Encode(book domain.Book) []byte {
	var bb bytes.Buffer
	bb.WriteString(";FFMETADATA1\n")

	writeTag(&bb, "title", book.Title)
	writeTag(&bb, "album", book.Title)
	writeTag(&bb, "artist", book.Author)
	writeTag(&bb, "author", book.Author)

	for _, ch := range book.Chapters {
		bb.WriteString("[CHAPTER]\n")
		bb.WriteString("TIMEBASE=" + Timebase + "\n")
		fmt.Fprintf(&bb, "START=%d\n", ch.StartMS)
		fmt.Fprintf(&bb, "END=%d\n", ch.EndMS)
		writeTag(&bb, "title", ch.Title)
		bb.WriteByte('\n')
	}
	return bb.Bytes()
}

func writeTag(bb *bytes.Buffer, key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	bb.WriteString(key)
	bb.WriteByte('=')
	bb.WriteString(escape(value))
	bb.WriteByte('\n')
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	"=", `\=`,
	";", `\;`,
	"#", `\#`,
	"\n", `\`+"\n",
)

func escape(s string) string {
	return escaper.Replace(s)
}
