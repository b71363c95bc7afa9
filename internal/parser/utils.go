package parser

import (
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeColumnName 规范化列名：小写，去除空白与标点
// "SF-Number" / "sf number" / "SF Number:" 均得到 "sfnumber"
func NormalizeColumnName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// WordForm 转为词序列形式：小写，标点替换为空格，压缩空白
// 用于同义词的整词包含匹配
func WordForm(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&':
			// "T&E" 保持为一个词
		default:
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(b.String(), " "))
}

// CleanHeader 去除首尾空白、换行与制表符
func CleanHeader(name string) string {
	name = strings.ReplaceAll(name, "\n", " ")
	name = strings.ReplaceAll(name, "\r", " ")
	name = strings.ReplaceAll(name, "\t", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(name, " "))
}

// ContainsWord 判断词序列 text 是否包含词序列 phrase（按整词边界）
func ContainsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	if text == phrase {
		return true
	}
	return strings.HasPrefix(text, phrase+" ") ||
		strings.HasSuffix(text, " "+phrase) ||
		strings.Contains(text, " "+phrase+" ")
}

// ContainsAny 检查字符串是否包含任意一个关键词（不区分大小写）
func ContainsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
