package service

import (
	"context"
	"courseforge_backend/internal/config"
	"courseforge_backend/internal/util"
	"courseforge_backend/pkg/logger"
	"courseforge_backend/pkg/monitoring"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// GenerationFailureCode 大纲生成失败的归类，用于前端提示与指标打点。
type GenerationFailureCode string

const (
	// FailureAllModelsExhausted 全部候选模型调用失败（网络/限流/鉴权等）
	FailureAllModelsExhausted GenerationFailureCode = "all_models_exhausted"
	// FailureInvalidStructure 模型有响应，但修复后仍不是合法的结构
	FailureInvalidStructure GenerationFailureCode = "invalid_structure"
	// FailureEmptyResponse 模型返回了空内容
	FailureEmptyResponse GenerationFailureCode = "empty_response"
)

// GenerationFailure 生成管线的失败结果，携带归类码，上层据此返回不同的错误文案。
type GenerationFailure struct {
	Code GenerationFailureCode
	Err  error
}

func (e *GenerationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("course generation failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("course generation failed (%s)", e.Code)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

// CourseOutline 模型产出的课程大纲线格式
type CourseOutline struct {
	CourseTitle string          `json:"course_title"`
	Description string          `json:"description,omitempty"`
	Modules     []ModuleOutline `json:"modules"`
}

type ModuleOutline struct {
	ModuleTitle string          `json:"module_title"`
	Lessons     []LessonOutline `json:"lessons"`
}

type LessonOutline struct {
	LessonTitle string `json:"lesson_title"`
	Content     string `json:"content"`
}

// ModuleDraft 重新生成单个模块时的窄格式
type ModuleDraft struct {
	Title   string        `json:"title"`
	Lessons []LessonDraft `json:"lessons"`
}

// LessonDraft 重新生成单个课时时的窄格式
type LessonDraft struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// GenerationMeta 记录最终成功的是哪个模型、是否启用了检索
type GenerationMeta struct {
	Model    string
	Grounded bool
}

// chatClient 生成器对文本模型的最小依赖面
type chatClient interface {
	Complete(ctx context.Context, model, system, user string, enableSearch bool) (string, error)
}

// GeneratorService 课程大纲生成器：多模型级联 + JSON 修复 + 结构校验
type GeneratorService struct {
	client chatClient

	mu             sync.RWMutex
	groundedModels []string
	fastModels     []string
}

func NewGeneratorService(client chatClient, cfg config.AIConfig) *GeneratorService {
	return &GeneratorService{
		client:         client,
		groundedModels: cfg.GroundedModels,
		fastModels:     cfg.FastModels,
	}
}

// UpdateModels 配置热更新入口，替换两档候选模型列表
func (s *GeneratorService) UpdateModels(grounded, fast []string) {
	if len(grounded) == 0 && len(fast) == 0 {
		return
	}
	s.mu.Lock()
	s.groundedModels = grounded
	s.fastModels = fast
	s.mu.Unlock()
}

type modelAttempt struct {
	model  string
	search bool
}

// modelSequence 组装本次生成的候选模型序列。
// 要求检索时先走检索档（开 enable_search），失败再降级到速度档（关检索）；
// 不要求检索时先走速度档，检索档只作兜底且同样不开检索。
func (s *GeneratorService) modelSequence(grounded bool) []modelAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var seq []modelAttempt
	if grounded {
		for _, m := range s.groundedModels {
			seq = append(seq, modelAttempt{model: m, search: true})
		}
		for _, m := range s.fastModels {
			seq = append(seq, modelAttempt{model: m})
		}
	} else {
		for _, m := range s.fastModels {
			seq = append(seq, modelAttempt{model: m})
		}
		for _, m := range s.groundedModels {
			seq = append(seq, modelAttempt{model: m})
		}
	}
	return seq
}

// generate 级联调用候选模型，把首个成功响应解析进 out。
// 模型调用失败换下一个模型；一旦拿到响应就不再换模型，
// 空响应或修复后仍解析失败直接判定失败。
func (s *GeneratorService) generate(ctx context.Context, system, user string, grounded bool, out interface{}) (*GenerationMeta, error) {
	seq := s.modelSequence(grounded)
	var lastErr error
	for i, attempt := range seq {
		if i > 0 {
			monitoring.ModelFallbacks.Inc()
		}
		text, err := s.client.Complete(ctx, attempt.model, system, user, attempt.search)
		if err != nil {
			lastErr = err
			logger.Log.Warn("模型调用失败，切换下一个候选模型",
				zap.String("model", attempt.model),
				zap.Error(err))
			continue
		}

		text = strings.TrimSpace(util.StripCodeFence(text))
		if text == "" {
			return nil, &GenerationFailure{Code: FailureEmptyResponse, Err: fmt.Errorf("model %s returned empty content", attempt.model)}
		}

		if err := json.Unmarshal([]byte(text), out); err != nil {
			repaired := util.RepairJSON(text)
			if err2 := json.Unmarshal([]byte(repaired), out); err2 != nil {
				logger.Log.Error("模型响应修复后仍无法解析",
					zap.String("model", attempt.model),
					zap.Error(err2))
				return nil, &GenerationFailure{Code: FailureInvalidStructure, Err: err2}
			}
			logger.Log.Info("模型响应经 JSON 修复后解析成功", zap.String("model", attempt.model))
		}

		return &GenerationMeta{Model: attempt.model, Grounded: attempt.search}, nil
	}
	return nil, &GenerationFailure{Code: FailureAllModelsExhausted, Err: lastErr}
}

const outlineSystemPrompt = `你是一名资深课程设计师。根据用户给出的主题设计一门完整的在线课程。
只输出 JSON，不要输出任何解释或 Markdown 代码块。格式：
{"course_title":"...","description":"...","modules":[{"module_title":"...","lessons":[{"lesson_title":"...","content":"..."}]}]}
要求：3-6 个模块，每个模块 2-5 个课时，每个课时的 content 为多个段落的完整讲义正文，段落之间用空行分隔。`

// GenerateOutline 生成整门课程的大纲与课时正文
func (s *GeneratorService) GenerateOutline(ctx context.Context, topic string, grounded bool) (*CourseOutline, *GenerationMeta, error) {
	user := fmt.Sprintf("课程主题：%s", topic)
	var outline CourseOutline
	meta, err := s.generate(ctx, outlineSystemPrompt, user, grounded, &outline)
	if err != nil {
		return nil, nil, err
	}
	if err := validateOutline(&outline); err != nil {
		return nil, nil, &GenerationFailure{Code: FailureInvalidStructure, Err: err}
	}
	return &outline, meta, nil
}

const moduleSystemPrompt = `你是一名资深课程设计师。根据给定的模块主题与课程背景，重新设计这个模块。
只输出 JSON，不要输出任何解释或 Markdown 代码块。格式：
{"title":"...","lessons":[{"title":"...","content":"..."}]}
要求：2-5 个课时，content 为多段完整讲义正文，段落之间用空行分隔。`

// RegenerateModule 在已有课程的上下文里重新生成单个模块
func (s *GeneratorService) RegenerateModule(ctx context.Context, moduleTopic, courseContext string) (*ModuleDraft, *GenerationMeta, error) {
	user := fmt.Sprintf("模块主题：%s\n课程背景：%s", moduleTopic, courseContext)
	var draft ModuleDraft
	meta, err := s.generate(ctx, moduleSystemPrompt, user, false, &draft)
	if err != nil {
		return nil, nil, err
	}
	if err := validateModuleDraft(&draft); err != nil {
		return nil, nil, &GenerationFailure{Code: FailureInvalidStructure, Err: err}
	}
	return &draft, meta, nil
}

const lessonSystemPrompt = `你是一名资深课程设计师。根据给定的课时主题与所属模块背景，重新撰写这节课。
只输出 JSON，不要输出任何解释或 Markdown 代码块。格式：
{"title":"...","content":"..."}
content 为多段完整讲义正文，段落之间用空行分隔。`

// RegenerateLesson 在所属模块的上下文里重新生成单个课时
func (s *GeneratorService) RegenerateLesson(ctx context.Context, lessonTopic, moduleContext string) (*LessonDraft, *GenerationMeta, error) {
	user := fmt.Sprintf("课时主题：%s\n模块背景：%s", lessonTopic, moduleContext)
	var draft LessonDraft
	meta, err := s.generate(ctx, lessonSystemPrompt, user, false, &draft)
	if err != nil {
		return nil, nil, err
	}
	if err := validateLessonDraft(&draft); err != nil {
		return nil, nil, &GenerationFailure{Code: FailureInvalidStructure, Err: err}
	}
	return &draft, meta, nil
}

func validateOutline(o *CourseOutline) error {
	if strings.TrimSpace(o.CourseTitle) == "" {
		return fmt.Errorf("outline missing course_title")
	}
	if len(o.Modules) == 0 {
		return fmt.Errorf("outline has no modules")
	}
	for i, m := range o.Modules {
		if strings.TrimSpace(m.ModuleTitle) == "" {
			return fmt.Errorf("module %d missing title", i)
		}
		if len(m.Lessons) == 0 {
			return fmt.Errorf("module %d has no lessons", i)
		}
		for j, l := range m.Lessons {
			if strings.TrimSpace(l.LessonTitle) == "" || strings.TrimSpace(l.Content) == "" {
				return fmt.Errorf("module %d lesson %d missing title or content", i, j)
			}
		}
	}
	return nil
}

func validateModuleDraft(d *ModuleDraft) error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("module draft missing title")
	}
	if len(d.Lessons) == 0 {
		return fmt.Errorf("module draft has no lessons")
	}
	for j, l := range d.Lessons {
		if strings.TrimSpace(l.Title) == "" || strings.TrimSpace(l.Content) == "" {
			return fmt.Errorf("lesson %d missing title or content", j)
		}
	}
	return nil
}

func validateLessonDraft(d *LessonDraft) error {
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("lesson draft missing title or content")
	}
	return nil
}
