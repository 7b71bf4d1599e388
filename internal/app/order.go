package app

import (
	"errors"
	"sort"

	"github.com/John-Robertt/ABMC/internal/chapname"
	"github.com/John-Robertt/ABMC/internal/domain"
)

// OrderChapters 把音频文件解析为章节源并给出全序。
//
// - 排序键升序；键相等时按文件名字典序打破平局
// - 解析失败的文件进入 malformed（必须呈现给用户；绝不静默跳过）
func OrderChapters(files []domain.AudioFile) (sources []domain.ChapterSource, malformed []domain.Malformed) {
	sources = make([]domain.ChapterSource, 0, len(files))
	malformed = make([]domain.Malformed, 0, 4)

	for i := range files {
		n, err := chapname.Parse(files[i].Base)
		if err != nil {
			var me *chapname.MalformedError
			kind := "no_prefix"
			if errors.As(err, &me) {
				kind = me.Kind
			}
			malformed = append(malformed, domain.Malformed{File: files[i], Kind: kind})
			continue
		}

		sources = append(sources, domain.ChapterSource{
			File:  files[i],
			Key:   n.Key,
			Title: n.Title,
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		if !sources[i].Key.Equal(sources[j].Key) {
			return sources[i].Key.Less(sources[j].Key)
		}
		return sources[i].File.RelPath < sources[j].File.RelPath
	})
	sort.SliceStable(malformed, func(i, j int) bool {
		return malformed[i].File.RelPath < malformed[j].File.RelPath
	})
	return sources, malformed
}
