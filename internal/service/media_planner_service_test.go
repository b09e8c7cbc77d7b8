package service

import (
	"context"
	"courseforge_backend/internal/config"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlanner(client chatClient) *MediaPlannerService {
	return NewMediaPlannerService(client, config.AIConfig{PlannerModel: "fast-a"})
}

func testModules(moduleCount, lessonsPer int) []ModuleOutline {
	modules := make([]ModuleOutline, 0, moduleCount)
	for m := 0; m < moduleCount; m++ {
		mod := ModuleOutline{ModuleTitle: fmt.Sprintf("模块%d", m)}
		for l := 0; l < lessonsPer; l++ {
			mod.Lessons = append(mod.Lessons, LessonOutline{
				LessonTitle: fmt.Sprintf("课时%d-%d", m, l),
				Content:     "第一段。\n\n第二段。\n\n第三段。",
			})
		}
		modules = append(modules, mod)
	}
	return modules
}

func TestTargetImageCount(t *testing.T) {
	cases := []struct {
		modules, lessons, want int
	}{
		{4, 6, 2},   // ceil(6/6)=1，抬到下限 2
		{4, 24, 4},  // ceil(24/6)=4，等于模块数
		{3, 30, 3},  // ceil(30/6)=5，被模块数压到 3
		{10, 40, 7}, // ceil(40/6)=7
		{1, 2, 2},   // 下限优先于模块数上限
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, targetImageCount(tc.modules, tc.lessons),
			"modules=%d lessons=%d", tc.modules, tc.lessons)
	}
}

func TestFallbackImageCap(t *testing.T) {
	assert.Equal(t, 1, fallbackImageCap(4))
	assert.Equal(t, 1, fallbackImageCap(5))
	assert.Equal(t, 2, fallbackImageCap(6))
	assert.Equal(t, 3, fallbackImageCap(15))
}

func TestPlanMediaNormalizesModelOutput(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: `[
  {"moduleIndex": 0, "lessons": [
    {"lessonIndex": 0, "images": [
      {"imagePrompt": "示意图 A", "imageAlt": "A", "placement": 2},
      {"imagePrompt": "多余的第二张", "imageAlt": "B", "placement": 1}
    ]},
    {"lessonIndex": 1, "images": [{"imagePrompt": "越位的 placement", "imageAlt": "C", "placement": 99}]},
    {"lessonIndex": 7, "images": [{"imagePrompt": "课时越界", "placement": 1}]}
  ]},
  {"moduleIndex": 5, "lessons": [{"lessonIndex": 0, "images": [{"imagePrompt": "模块越界", "placement": 1}]}]}
]`}}}
	planner := newTestPlanner(client)
	modules := testModules(2, 3)

	plan := planner.PlanMedia(context.Background(), "课程", modules)

	require.Len(t, plan, 1)
	require.Len(t, plan[0].Lessons, 2)

	// 每课时最多一张图
	first := plan[0].Lessons[0]
	require.Len(t, first.Images, 1)
	assert.Equal(t, "示意图 A", first.Images[0].Prompt)
	assert.Equal(t, 2, first.Images[0].Placement)

	// placement 压回段落范围（正文共 3 段）
	second := plan[0].Lessons[1]
	assert.Equal(t, 3, second.Images[0].Placement)
}

func TestPlanMediaDropsDuplicateLessonEntries(t *testing.T) {
	// 模型把同一课时重复输出多次，无论重复出现在同一模块条目里
	// 还是拆成两个模块条目，归一化后都只保留第一条
	client := &fakeChatClient{responses: []fakeChatResponse{{text: `[
  {"moduleIndex": 0, "lessons": [
    {"lessonIndex": 0, "images": [{"imagePrompt": "第一条", "imageAlt": "甲", "placement": 1}]},
    {"lessonIndex": 0, "images": [{"imagePrompt": "重复条目", "imageAlt": "乙", "placement": 2}]}
  ]},
  {"moduleIndex": 0, "lessons": [
    {"lessonIndex": 0, "images": [{"imagePrompt": "又一条重复", "placement": 3}]}
  ]}
]`}}}
	planner := newTestPlanner(client)

	plan := planner.PlanMedia(context.Background(), "课程", testModules(1, 1))

	require.Len(t, plan, 1)
	require.Len(t, plan[0].Lessons, 1)
	require.Len(t, plan[0].Lessons[0].Images, 1)
	assert.Equal(t, 1, PlanImageCount(plan))
	assert.Equal(t, "第一条", plan[0].Lessons[0].Images[0].Prompt)
}

func TestPlanMediaLegacyFlatShape(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: `[
  {"moduleIndex": 1, "lessons": [
    {"lessonIndex": 0, "shouldAddImage": true, "imagePrompt": "旧版格式", "imageAlt": "旧", "placement": 1},
    {"lessonIndex": 1, "shouldAddImage": false, "imagePrompt": "被忽略", "placement": 1}
  ]}
]`}}}
	planner := newTestPlanner(client)

	plan := planner.PlanMedia(context.Background(), "课程", testModules(2, 3))

	require.Len(t, plan, 1)
	assert.Equal(t, 1, plan[0].ModuleIndex)
	require.Len(t, plan[0].Lessons, 1)
	assert.Equal(t, "旧版格式", plan[0].Lessons[0].Images[0].Prompt)
}

func TestPlanMediaEmptyAltDefaultsToLessonTitle(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: `[
  {"moduleIndex": 0, "lessons": [{"lessonIndex": 1, "images": [{"imagePrompt": "图", "placement": 1}]}]}
]`}}}
	planner := newTestPlanner(client)

	plan := planner.PlanMedia(context.Background(), "课程", testModules(1, 2))
	require.Len(t, plan, 1)
	assert.Equal(t, "课时0-1", plan[0].Lessons[0].Images[0].Alt)
}

func TestPlanMediaSafetyNet(t *testing.T) {
	// 模型返回的计划全部越界，归一化后为空，安全网兜底一张
	client := &fakeChatClient{responses: []fakeChatResponse{{text: `[
  {"moduleIndex": 9, "lessons": [{"lessonIndex": 9, "images": [{"imagePrompt": "x", "placement": 1}]}]}
]`}}}
	planner := newTestPlanner(client)
	modules := testModules(2, 2)

	plan := planner.PlanMedia(context.Background(), "课程", modules)

	require.Equal(t, 1, PlanImageCount(plan))
	assert.Equal(t, 0, plan[0].ModuleIndex)
	assert.Equal(t, 0, plan[0].Lessons[0].LessonIndex)
	assert.NotEmpty(t, plan[0].Lessons[0].Images[0].Prompt)
}

func TestPlanMediaFallsBackWhenModelUnavailable(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{err: errors.New("model down")}}}
	planner := newTestPlanner(client)
	modules := testModules(4, 3) // 12 课时，兜底上限 ceil(12/5)=3

	plan := planner.PlanMedia(context.Background(), "课程", modules)

	assert.Equal(t, 3, PlanImageCount(plan))
	for i, mp := range plan {
		assert.Equal(t, i, mp.ModuleIndex)
		require.Len(t, mp.Lessons, 1)
		assert.Equal(t, 0, mp.Lessons[0].LessonIndex)
	}
}

func TestPlanMediaFallsBackOnUnparsableOutput(t *testing.T) {
	client := &fakeChatClient{responses: []fakeChatResponse{{text: "抱歉，我无法完成这个任务。"}}}
	planner := newTestPlanner(client)

	plan := planner.PlanMedia(context.Background(), "课程", testModules(2, 2))

	// 本地兜底上限 ceil(4/5)=1
	assert.Equal(t, 1, PlanImageCount(plan))
}
