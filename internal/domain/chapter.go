package domain

// ChapterSource 是排序后的章节输入：一个音频文件对应成书里的一个章节。
// DurationMS 在探测阶段填充；此后整个结构不再变更。
type ChapterSource struct {
	File  AudioFile
	Key   SortKey
	Title string

	DurationMS int64
}

// Chapter 是成书中一个有标题、有时间边界的片段（毫秒，end 为开区间）。
//
// 不变量：章节连续且不重叠；第一章从 0 开始；chapter[i].End == chapter[i+1].Start。
type Chapter struct {
	Title   string
	StartMS int64
	EndMS   int64
}

// Book 是交给编码器的最终元数据：标题、作者、可选封面与有序章节表。
// 组装完成后只读。
type Book struct {
	Title  string
	Author string

	// CoverJPEG 为空表示无封面（允许；成书只是没有内嵌封面图）。
	CoverJPEG []byte

	Chapters []Chapter
}

// Malformed 描述无法从文件名解析出章节排序键的输入文件。
// 必须逐条呈现给用户（静默跳过会产出缺章的坏书）。
type Malformed struct {
	File AudioFile
	Kind string // "no_prefix" | "bad_key"
}
