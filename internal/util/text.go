package util

import "strings"

// SplitParagraphs 按空行切分课文正文，忽略首尾空白和纯空白段落
func SplitParagraphs(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if t := strings.TrimSpace(p); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	return paragraphs
}

// CountParagraphs 统计段落数（段落 = 空行分隔的文本块）
func CountParagraphs(content string) int {
	return len(SplitParagraphs(content))
}

// Preview 截取文本前 n 个字符作为预览，按 rune 截断避免切坏多字节字符
func Preview(content string, n int) string {
	s := strings.TrimSpace(content)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
