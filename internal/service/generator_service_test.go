package service

import (
	"context"
	"courseforge_backend/internal/config"
	"courseforge_backend/pkg/logger"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

// fakeChatClient 按调用顺序回放脚本化的响应
type fakeChatClient struct {
	responses []fakeChatResponse
	calls     []fakeChatCall
}

type fakeChatResponse struct {
	text string
	err  error
}

type fakeChatCall struct {
	model  string
	search bool
}

func (f *fakeChatClient) Complete(ctx context.Context, model, system, user string, enableSearch bool) (string, error) {
	f.calls = append(f.calls, fakeChatCall{model: model, search: enableSearch})
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.text, resp.err
}

func newTestGenerator(client chatClient) *GeneratorService {
	return NewGeneratorService(client, config.AIConfig{
		GroundedModels: []string{"deep-a", "deep-b"},
		FastModels:     []string{"fast-a"},
	})
}

const validOutlineJSON = `{
  "course_title": "Go 并发编程",
  "description": "从 goroutine 到调度器",
  "modules": [
    {"module_title": "基础", "lessons": [
      {"lesson_title": "goroutine", "content": "第一段。\n\n第二段。"},
      {"lesson_title": "channel", "content": "正文。"}
    ]}
  ]
}`

func TestGenerateOutlineFirstModelSucceeds(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: validOutlineJSON}}}
	g := newTestGenerator(client)

	outline, meta, err := g.GenerateOutline(context.Background(), "Go 并发", true)
	require.NoError(t, err)
	assert.Equal(t, "Go 并发编程", outline.CourseTitle)
	require.Len(t, outline.Modules, 1)
	assert.Len(t, outline.Modules[0].Lessons, 2)

	// 要求检索时第一个调用是检索档模型且开了检索
	require.Len(t, client.calls, 1)
	assert.Equal(t, "deep-a", client.calls[0].model)
	assert.True(t, client.calls[0].search)
	assert.Equal(t, "deep-a", meta.Model)
	assert.True(t, meta.Grounded)
}

func TestGenerateOutlineFastFirstWithoutGrounding(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: validOutlineJSON}}}
	g := newTestGenerator(client)

	_, meta, err := g.GenerateOutline(context.Background(), "Go 并发", false)
	require.NoError(t, err)

	// 不要求检索时先走速度档，且不开检索
	assert.Equal(t, "fast-a", client.calls[0].model)
	assert.False(t, client.calls[0].search)
	assert.False(t, meta.Grounded)
}

func TestGenerateOutlineCascadesOnCallFailure(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{
		{err: errors.New("rate limited")},
		{err: errors.New("timeout")},
		{text: validOutlineJSON},
	}}
	g := newTestGenerator(client)

	_, meta, err := g.GenerateOutline(context.Background(), "Go 并发", true)
	require.NoError(t, err)

	// deep-a -> deep-b -> fast-a，兜底档不开检索
	require.Len(t, client.calls, 3)
	assert.Equal(t, []fakeChatCall{
		{model: "deep-a", search: true},
		{model: "deep-b", search: true},
		{model: "fast-a", search: false},
	}, client.calls)
	assert.Equal(t, "fast-a", meta.Model)
}

func TestGenerateOutlineAllModelsExhausted(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{
		{err: errors.New("e1")},
		{err: errors.New("e2")},
		{err: errors.New("e3")},
	}}
	g := newTestGenerator(client)

	_, _, err := g.GenerateOutline(context.Background(), "Go 并发", true)
	var gf *GenerationFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, FailureAllModelsExhausted, gf.Code)
	assert.Len(t, client.calls, 3)
}

func TestGenerateOutlineEmptyResponseIsFatal(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: "  \n "}}}
	g := newTestGenerator(client)

	_, _, err := g.GenerateOutline(context.Background(), "Go 并发", true)
	var gf *GenerationFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, FailureEmptyResponse, gf.Code)

	// 拿到响应后不再切换模型
	assert.Len(t, client.calls, 1)
}

func TestGenerateOutlineStripsFenceAndRepairs(t *testing.T) {
	fenced := "```json\n" + `{
  "course_title": "测试 "引号" 课程",
  "modules": [
    {"module_title": "模块", "lessons": [{"lesson_title": "课时", "content": "正文。"}]}
  ]
}` + "\n```"
	client := &fakeChatClient{responses: []fakeChatResponse{{text: fenced}}}
	g := newTestGenerator(client)

	outline, _, err := g.GenerateOutline(context.Background(), "测试", false)
	require.NoError(t, err)
	assert.Equal(t, `测试 "引号" 课程`, outline.CourseTitle)
}

func TestGenerateOutlineUnrepairableIsInvalidStructure(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: "这不是 JSON，只是道歉文本。"}}}
	g := newTestGenerator(client)

	_, _, err := g.GenerateOutline(context.Background(), "测试", false)
	var gf *GenerationFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, FailureInvalidStructure, gf.Code)
	assert.Len(t, client.calls, 1)
}

func TestGenerateOutlineRejectsEmptyLessons(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: `{
  "course_title": "空课程",
  "modules": [{"module_title": "模块", "lessons": []}]
}`}}}
	g := newTestGenerator(client)

	_, _, err := g.GenerateOutline(context.Background(), "测试", false)
	var gf *GenerationFailure
	require.ErrorAs(t, err, &gf)
	assert.Equal(t, FailureInvalidStructure, gf.Code)
}

func TestValidateOutlineAcceptsTypicalCourse(t *testing.T) {
	outline := &CourseOutline{
		CourseTitle: "Python Programming for Complete Beginners",
		Description: "零基础入门课程",
	}
	for m := 0; m < 4; m++ {
		mod := ModuleOutline{ModuleTitle: fmt.Sprintf("Module %d", m+1)}
		for l := 0; l < 3+m%3; l++ {
			mod.Lessons = append(mod.Lessons, LessonOutline{
				LessonTitle: fmt.Sprintf("Lesson %d.%d", m+1, l+1),
				Content:     "第一段内容。\n\n第二段内容。",
			})
		}
		outline.Modules = append(outline.Modules, mod)
	}
	assert.NoError(t, validateOutline(outline))
}

func TestRegenerateModuleAndLesson(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{
		{text: `{"title": "新模块", "lessons": [{"title": "新课时", "content": "正文。"}]}`},
		{text: `{"title": "新课时", "content": "重写的正文。"}`},
	}}
	g := newTestGenerator(client)

	mod, _, err := g.RegenerateModule(context.Background(), "模块主题", "课程背景")
	require.NoError(t, err)
	assert.Equal(t, "新模块", mod.Title)
	require.Len(t, mod.Lessons, 1)

	lesson, _, err := g.RegenerateLesson(context.Background(), "课时主题", "模块背景")
	require.NoError(t, err)
	assert.Equal(t, "重写的正文。", lesson.Content)

	// 重新生成默认走速度档
	assert.Equal(t, "fast-a", client.calls[0].model)
	assert.False(t, client.calls[0].search)
}

func TestUpdateModelsHotReload(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: validOutlineJSON}}}
	g := newTestGenerator(client)

	g.UpdateModels([]string{"deep-new"}, []string{"fast-new"})
	_, _, err := g.GenerateOutline(context.Background(), "测试", true)
	require.NoError(t, err)
	assert.Equal(t, "deep-new", client.calls[0].model)

	// 空列表的热更新被忽略，保留旧配置
	g.UpdateModels(nil, nil)
	client.responses = []fakeChatResponse{{text: validOutlineJSON}}
	_, _, err = g.GenerateOutline(context.Background(), "测试", false)
	require.NoError(t, err)
	assert.Equal(t, "fast-new", client.calls[1].model)
}
