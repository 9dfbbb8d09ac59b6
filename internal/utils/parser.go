package utils

import (
	"strings"
	"unicode"
)

// CleanMovieTitle 清理片名用于去重比较：
// 只保留字母、数字和空格，去掉首尾空白并转小写
func CleanMovieTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(strings.TrimSpace(b.String()))
}
