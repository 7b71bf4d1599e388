package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// SortKey 是从章节文件名解析出的数值排序键。
//
// 支持十进制小数形式（0、0.0、0.1、1、12），用于让前言/序章排在第 1 章之前、
// 后记排在最后一个整数章之后。键被视为任意十进制有理数，不限定预留槽位数量。
type SortKey struct {
	Num  int    // 整数部分
	Frac string // 小数部分的数字串（保留原始写法；可为空）
}

var keyRE = regexp.MustCompile(`^([0-9]{1,4})(?:\.([0-9]{1,4}))?$`)

// ParseSortKey 校验并解析排序键字符串。
// 输入必须已经是纯数字（可带一个小数点）的形态。
func ParseSortKey(s string) (SortKey, bool) {
	s = strings.TrimSpace(s)
	m := keyRE.FindStringSubmatch(s)
	if m == nil {
		return SortKey{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return SortKey{}, false
	}
	return SortKey{Num: n, Frac: m[2]}, true
}

// Less 按数值比较两个排序键：先比整数部分，再按十进制数值比较小数部分
// （0.05 < 0.1 < 0.5）。
func (k SortKey) Less(o SortKey) bool {
	if k.Num != o.Num {
		return k.Num < o.Num
	}
	a, b := k.Frac, o.Frac
	// 右侧补零后字典序比较即为十进制数值比较："1" vs "05" => "10" vs "05"。
	for len(a) < len(b) {
		a += "0"
	}
	for len(b) < len(a) {
		b += "0"
	}
	return a < b
}

// Equal 判断两个排序键数值是否相等（0.1 与 0.10 视为相等）。
func (k SortKey) Equal(o SortKey) bool {
	return !k.Less(o) && !o.Less(k)
}

// String 输出规范化文本（用于 report / 日志定位）。
func (k SortKey) String() string {
	if k.Frac == "" {
		return strconv.Itoa(k.Num)
	}
	return strconv.Itoa(k.Num) + "." + k.Frac
}
