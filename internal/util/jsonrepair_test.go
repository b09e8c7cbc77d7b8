package util

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSONUnescapedQuotes(t *testing.T) {
	// 正文里出现未转义的引号，修复后应能正常解析
	broken := `{"title": "Go 的 "并发" 入门", "content": "正文"}`

	repaired := RepairJSON(broken)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Equal(t, `Go 的 "并发" 入门`, out["title"])
	assert.Equal(t, "正文", out["content"])

	// 修复结果再修复一次应保持不变
	assert.Equal(t, repaired, RepairJSON(repaired))
}

func TestRepairJSONValidInputUnchanged(t *testing.T) {
	valid := `{"a": "hello, world", "b": [1, 2, 3], "c": {"d": "x: y"}}`
	assert.Equal(t, valid, RepairJSON(valid))
}

func TestRepairJSONAlreadyEscapedQuotes(t *testing.T) {
	valid := `{"a": "he said \"hi\" to me"}`
	repaired := RepairJSON(valid)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Equal(t, `he said "hi" to me`, out["a"])
}

func TestRepairJSONQuoteBeforeStructuralChar(t *testing.T) {
	// 引号后紧跟结构字符时视为真正的字符串终止，不做转义
	valid := `{"a": "x", "b": "y"}`
	assert.Equal(t, valid, RepairJSON(valid))
}

func TestRepairJSONNested(t *testing.T) {
	broken := `{"modules": [{"module_title": "第 "一" 章", "lessons": []}]}`

	var out struct {
		Modules []struct {
			ModuleTitle string `json:"module_title"`
		} `json:"modules"`
	}
	require.NoError(t, json.Unmarshal([]byte(RepairJSON(broken)), &out))
	require.Len(t, out.Modules, 1)
	assert.Equal(t, `第 "一" 章`, out.Modules[0].ModuleTitle)
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripCodeFence(tc.in))
		})
	}
}

func TestSplitParagraphs(t *testing.T) {
	content := "第一段。\n\n第二段，有两行\n继续第二段。\n\n\n\n第三段。"
	paragraphs := SplitParagraphs(content)
	require.Len(t, paragraphs, 3)
	assert.Equal(t, "第一段。", paragraphs[0])
	assert.Equal(t, 3, CountParagraphs(content))
	assert.Equal(t, 0, CountParagraphs("   \n\n  "))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "短文本", Preview("短文本", 10))
	assert.Equal(t, "一二三...", Preview("一二三四五六", 3))
}
