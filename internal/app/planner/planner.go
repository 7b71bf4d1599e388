package planner

import (
	"fmt"

	"github.com/John-Robertt/ABMC/internal/domain"
)

// Timeline 对已排序、已探测时长的章节源做累加扫描，得出成书章节表。
//
// 约束：
// - offset 从 0 开始：start[0]=0，start[i+1]=end[i]（章节连续且不重叠）
// - 时长必须非负；负值视为探测层缺陷，直接报错
// - 零时长允许（退化空章节），其下标记入 zeroIdx 供上层降级为 warning
// - 纯函数：相同输入必然得到相同章节表（确定性）
func Timeline(sources []domain.ChapterSource) (chapters []domain.Chapter, zeroIdx []int, err error) {
	chapters = make([]domain.Chapter, 0, len(sources))
	zeroIdx = make([]int, 0, 2)

	var offset int64
	for i := range sources {
		d := sources[i].DurationMS
		if d < 0 {
			return nil, nil, fmt.Errorf("非法时长（负值）：%s duration_ms=%d", sources[i].File.RelPath, d)
		}
		if d == 0 {
			zeroIdx = append(zeroIdx, i)
		}

		chapters = append(chapters, domain.Chapter{
			Title:   sources[i].Title,
			StartMS: offset,
			EndMS:   offset + d,
		})
		offset += d
	}
	return chapters, zeroIdx, nil
}

// TotalMS 返回章节表覆盖的总时长（最后一章的 end；空表为 0）。
func TotalMS(chapters []domain.Chapter) int64 {
	if len(chapters) == 0 {
		return 0
	}
	return chapters[len(chapters)-1].EndMS
}
