package service

import (
	"context"
	"courseforge_backend/internal/config"
	"courseforge_backend/internal/util"
	"courseforge_backend/pkg/logger"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ImagePlan 单张配图的计划：提示词、替代文本、插入在第几个段落之后
type ImagePlan struct {
	Prompt    string
	Alt       string
	Placement int
}

type LessonMediaPlan struct {
	LessonIndex int
	Images      []ImagePlan
}

type ModuleMediaPlan struct {
	ModuleIndex int
	Lessons     []LessonMediaPlan
}

// 规划模型的线格式。旧版返回的是课时上的平铺单图字段，
// 新版是 images 数组，两种都要兼容。
type rawPlanModule struct {
	ModuleIndex int             `json:"moduleIndex"`
	Lessons     []rawPlanLesson `json:"lessons"`
}

type rawPlanLesson struct {
	LessonIndex int            `json:"lessonIndex"`
	Images      []rawPlanImage `json:"images"`

	// 旧版平铺字段
	ShouldAddImage bool   `json:"shouldAddImage"`
	ImagePrompt    string `json:"imagePrompt"`
	ImageAlt       string `json:"imageAlt"`
	Placement      int    `json:"placement"`
}

type rawPlanImage struct {
	ImagePrompt string `json:"imagePrompt"`
	ImageAlt    string `json:"imageAlt"`
	Placement   int    `json:"placement"`
}

// MediaPlannerService 配图规划器。规划只是锦上添花，任何失败都退化为
// 本地启发式计划，对外永远返回一份可执行的计划，不返回错误。
type MediaPlannerService struct {
	client chatClient
	model  string
}

func NewMediaPlannerService(client chatClient, cfg config.AIConfig) *MediaPlannerService {
	model := cfg.PlannerModel
	if model == "" && len(cfg.FastModels) > 0 {
		model = cfg.FastModels[0]
	}
	return &MediaPlannerService{client: client, model: model}
}

// targetImageCount 期望配图总数：至少 2 张，不超过模块数，
// 随课时总量按每 6 课时 1 张增长。
func targetImageCount(moduleCount, totalLessons int) int {
	target := (totalLessons + 5) / 6
	if target > moduleCount {
		target = moduleCount
	}
	if target < 2 {
		target = 2
	}
	return target
}

// fallbackImageCap 本地兜底计划的配图上限：每 5 课时 1 张
func fallbackImageCap(totalLessons int) int {
	return (totalLessons + 4) / 5
}

func countLessons(modules []ModuleOutline) int {
	total := 0
	for _, m := range modules {
		total += len(m.Lessons)
	}
	return total
}

// PlanMedia 为整门课程规划配图。模型不可用或输出不可解析时走本地兜底，
// 无论计划来自哪里都要经过同一套归一化与安全网。
func (s *MediaPlannerService) PlanMedia(ctx context.Context, courseTitle string, modules []ModuleOutline) []ModuleMediaPlan {
	raw, err := s.requestPlan(ctx, courseTitle, modules)
	if err != nil {
		logger.Log.Warn("配图规划模型不可用，使用本地兜底计划",
			zap.String("course", courseTitle),
			zap.Error(err))
		raw = s.localFallbackPlan(modules)
	}
	plan := normalizePlan(raw, modules)
	return applySafetyNet(plan, modules)
}

const plannerSystemPrompt = `你是一名课程配图编辑。根据课程结构挑选最值得配图的课时，为每个选中的课时给出一条图片生成提示词。
只输出 JSON 数组，不要输出任何解释或 Markdown 代码块。格式：
[{"moduleIndex":0,"lessons":[{"lessonIndex":0,"images":[{"imagePrompt":"...","imageAlt":"...","placement":1}]}]}]
moduleIndex 和 lessonIndex 从 0 开始，placement 表示插在课时第几个段落之后（从 1 开始）。每个课时最多一张图。`

func (s *MediaPlannerService) requestPlan(ctx context.Context, courseTitle string, modules []ModuleOutline) ([]rawPlanModule, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "课程标题：%s\n目标配图总数：约 %d 张\n课程结构：\n", courseTitle, targetImageCount(len(modules), countLessons(modules)))
	for mi, m := range modules {
		fmt.Fprintf(&sb, "模块 %d：%s\n", mi, m.ModuleTitle)
		for li, l := range m.Lessons {
			fmt.Fprintf(&sb, "  课时 %d：%s（%d 段）%s\n", li, l.LessonTitle, util.CountParagraphs(l.Content), util.Preview(l.Content, 120))
		}
	}

	text, err := s.client.Complete(ctx, s.model, plannerSystemPrompt, sb.String(), false)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(util.StripCodeFence(text))
	var raw []rawPlanModule
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("plan response unparsable: %w", err)
	}
	return raw, nil
}

// localFallbackPlan 不依赖模型的启发式计划：从前往后给每个模块的第一个
// 课时配一张图，总数不超过 fallbackImageCap。
func (s *MediaPlannerService) localFallbackPlan(modules []ModuleOutline) []rawPlanModule {
	limit := fallbackImageCap(countLessons(modules))
	var raw []rawPlanModule
	count := 0
	for mi, m := range modules {
		if count >= limit || len(m.Lessons) == 0 {
			break
		}
		lesson := m.Lessons[0]
		raw = append(raw, rawPlanModule{
			ModuleIndex: mi,
			Lessons: []rawPlanLesson{{
				LessonIndex: 0,
				Images: []rawPlanImage{{
					ImagePrompt: deterministicImagePrompt(lesson),
					ImageAlt:    lesson.LessonTitle,
					Placement:   util.CountParagraphs(lesson.Content),
				}},
			}},
		})
		count++
	}
	return raw
}

func deterministicImagePrompt(lesson LessonOutline) string {
	return fmt.Sprintf("为课程课时《%s》绘制一张教学示意插图，要点：%s", lesson.LessonTitle, util.Preview(lesson.Content, 200))
}

// normalizePlan 把模型输出整理成可执行计划：丢弃越界索引与空提示词，
// 兼容旧版平铺单图字段，每课时最多保留一张图，placement 压到
// [1, 段落数] 区间内。模型重复输出同一课时时只保留第一条。
func normalizePlan(raw []rawPlanModule, modules []ModuleOutline) []ModuleMediaPlan {
	var plan []ModuleMediaPlan
	seen := make(map[[2]int]bool)
	for _, rm := range raw {
		if rm.ModuleIndex < 0 || rm.ModuleIndex >= len(modules) {
			continue
		}
		mod := modules[rm.ModuleIndex]
		var lessons []LessonMediaPlan
		for _, rl := range rm.Lessons {
			if rl.LessonIndex < 0 || rl.LessonIndex >= len(mod.Lessons) {
				continue
			}
			key := [2]int{rm.ModuleIndex, rl.LessonIndex}
			if seen[key] {
				continue
			}
			lesson := mod.Lessons[rl.LessonIndex]
			images := rl.Images
			if len(images) == 0 && rl.ShouldAddImage {
				images = []rawPlanImage{{ImagePrompt: rl.ImagePrompt, ImageAlt: rl.ImageAlt, Placement: rl.Placement}}
			}
			var picked *ImagePlan
			for _, img := range images {
				if strings.TrimSpace(img.ImagePrompt) == "" {
					continue
				}
				picked = &ImagePlan{
					Prompt:    strings.TrimSpace(img.ImagePrompt),
					Alt:       strings.TrimSpace(img.ImageAlt),
					Placement: clampPlacement(img.Placement, util.CountParagraphs(lesson.Content)),
				}
				break
			}
			if picked == nil {
				continue
			}
			if picked.Alt == "" {
				picked.Alt = lesson.LessonTitle
			}
			seen[key] = true
			lessons = append(lessons, LessonMediaPlan{LessonIndex: rl.LessonIndex, Images: []ImagePlan{*picked}})
		}
		if len(lessons) > 0 {
			plan = append(plan, ModuleMediaPlan{ModuleIndex: rm.ModuleIndex, Lessons: lessons})
		}
	}
	return plan
}

func clampPlacement(p, paragraphs int) int {
	if paragraphs < 1 {
		paragraphs = 1
	}
	if p < 1 {
		return 1
	}
	if p > paragraphs {
		return paragraphs
	}
	return p
}

// applySafetyNet 归一化后计划为空时，保底给第一个课时配一张图，
// 避免一门课一张图都没有。
func applySafetyNet(plan []ModuleMediaPlan, modules []ModuleOutline) []ModuleMediaPlan {
	if len(plan) > 0 {
		return plan
	}
	for mi, m := range modules {
		if len(m.Lessons) == 0 {
			continue
		}
		lesson := m.Lessons[0]
		return []ModuleMediaPlan{{
			ModuleIndex: mi,
			Lessons: []LessonMediaPlan{{
				LessonIndex: 0,
				Images: []ImagePlan{{
					Prompt:    deterministicImagePrompt(lesson),
					Alt:       lesson.LessonTitle,
					Placement: clampPlacement(util.CountParagraphs(lesson.Content), util.CountParagraphs(lesson.Content)),
				}},
			}},
		}}
	}
	return plan
}

// PlanImageCount 计划里的配图总数
func PlanImageCount(plan []ModuleMediaPlan) int {
	total := 0
	for _, m := range plan {
		for _, l := range m.Lessons {
			total += len(l.Images)
		}
	}
	return total
}
