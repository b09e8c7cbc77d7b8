package util

import "strings"

// RepairJSON 修复模型输出中常见的 JSON 缺陷：正文里出现了未转义的引号，
// 会提前闭合字符串并破坏整体结构。单次前向扫描，只维护两个状态：
// 当前是否在字符串字面量内、前一个字符是否是未消费的转义符。
// 启发式修复，不保证产出合法 JSON；调用方在二次解析失败后不应再次调用。
func RepairJSON(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 8)

	runes := []rune(text)
	inString := false
	escaped := false

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if escaped {
			b.WriteRune(ch)
			escaped = false
			continue
		}

		if inString && ch == '\\' {
			escaped = true
			b.WriteRune(ch)
			continue
		}

		if ch != '"' {
			b.WriteRune(ch)
			continue
		}

		if !inString {
			inString = true
			b.WriteRune(ch)
			continue
		}

		// 字符串内部遇到引号：根据后续第一个非空白字符判断它是不是真正的终止符。
		// 无法完全区分"该转义的嵌套引号"和"本该结束字符串的引号"，这里只能取近似。
		if closesString(runes[i+1:]) {
			inString = false
			b.WriteRune(ch)
		} else {
			b.WriteString(`\"`)
		}
	}

	return b.String()
}

// closesString 判断引号后面跟的是不是 JSON 结构字符（, } ] : 或输入结束）
func closesString(rest []rune) bool {
	for _, ch := range rest {
		switch ch {
		case ' ', '\t', '\r', '\n':
			continue
		case ',', '}', ']', ':':
			return true
		default:
			return false
		}
	}
	return true
}

// StripCodeFence 去掉模型返回文本外层的 ```json ... ``` 围栏标记
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// 第一行可能是语言标记（json），整行丢弃
		first := strings.TrimSpace(s[:idx])
		if first == "json" || first == "JSON" || first == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
