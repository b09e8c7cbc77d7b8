package service

import (
	"context"
	"courseforge_backend/internal/model"
	"courseforge_backend/internal/repository"
	"courseforge_backend/internal/util"
	"courseforge_backend/pkg/cache"
	"courseforge_backend/pkg/logger"
	"courseforge_backend/pkg/monitoring"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CreateCourseRequest 创建课程的入参
type CreateCourseRequest struct {
	Topic        string  `json:"topic" binding:"required"`
	UseWebSearch bool    `json:"useWebSearch"`
	WithImages   bool    `json:"withImages"`
	Price        float64 `json:"price"`
}

// outlineGenerator 课程服务对生成器的依赖面
type outlineGenerator interface {
	GenerateOutline(ctx context.Context, topic string, grounded bool) (*CourseOutline, *GenerationMeta, error)
	RegenerateModule(ctx context.Context, moduleTopic, courseContext string) (*ModuleDraft, *GenerationMeta, error)
	RegenerateLesson(ctx context.Context, lessonTopic, moduleContext string) (*LessonDraft, *GenerationMeta, error)
}

// CourseService 课程编排：大纲生成、落库、配图任务投递与读取缓存
type CourseService struct {
	repo       *repository.CourseRepository
	generator  outlineGenerator
	dispatcher FulfillmentDispatcher
	cache      *cache.TTLCache
}

const courseCacheTTL = 30 * time.Second

func NewCourseService(repo *repository.CourseRepository, generator outlineGenerator, dispatcher FulfillmentDispatcher) *CourseService {
	return &CourseService{
		repo:       repo,
		generator:  generator,
		dispatcher: dispatcher,
		cache:      cache.NewTTLCache(256, courseCacheTTL),
	}
}

// CreateCourse 同步生成大纲并落库。要配图时课程以 generating 状态返回，
// 配图任务投递到后台队列，在当前请求之外执行。
func (s *CourseService) CreateCourse(ctx context.Context, companyID string, req CreateCourseRequest) (*model.Course, error) {
	outline, meta, err := s.generator.GenerateOutline(ctx, req.Topic, req.UseWebSearch)
	if err != nil {
		monitoring.CoursesGenerated.WithLabelValues("failure").Inc()
		return nil, err
	}
	monitoring.CoursesGenerated.WithLabelValues("success").Inc()
	logger.Log.Info("课程大纲生成成功",
		zap.String("topic", req.Topic),
		zap.String("model", meta.Model),
		zap.Bool("grounded", meta.Grounded))

	status := model.GenerationStatusComplete
	if req.WithImages {
		status = model.GenerationStatusGenerating
	}

	course := &model.Course{
		CompanyID:        companyID,
		Title:            outline.CourseTitle,
		Description:      outline.Description,
		GenerationStatus: status,
		Price:            req.Price,
	}
	for mi, m := range outline.Modules {
		mod := model.CourseModule{Title: m.ModuleTitle, OrderIndex: mi}
		for li, l := range m.Lessons {
			mod.Lessons = append(mod.Lessons, model.Lesson{
				Title:      l.LessonTitle,
				Content:    l.Content,
				OrderIndex: li,
			})
		}
		course.Modules = append(course.Modules, mod)
	}

	if err := s.repo.CreateCourse(course); err != nil {
		return nil, err
	}

	if req.WithImages {
		// 投递失败不回滚课程，记日志后靠人工或重新触发补救
		if err := s.dispatcher.Dispatch(course.ID); err != nil {
			logger.Log.Error("配图任务投递失败",
				zap.String("course_id", course.ID),
				zap.Error(err))
		}
	}
	return course, nil
}

func courseCacheKey(id string) string { return "course:" + id }

// GetCourse 读取整棵课程树，带短 TTL 缓存。
// generating 状态的课程不缓存，避免配图进度被旧缓存盖住。
func (s *CourseService) GetCourse(id string) (*model.Course, error) {
	if v, ok := s.cache.Get(courseCacheKey(id)); ok {
		return v.(*model.Course), nil
	}
	course, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if course.GenerationStatus == model.GenerationStatusComplete {
		s.cache.Set(courseCacheKey(id), course)
	}
	return course, nil
}

func (s *CourseService) ListCourses(companyID string, page, limit int) ([]model.Course, int64, error) {
	return s.repo.ListByCompany(companyID, page, limit)
}

// RegenerateModule 重新生成课程里的一个模块：标题与全部课时整体替换
func (s *CourseService) RegenerateModule(ctx context.Context, companyID, courseID, moduleID, topic string) (*model.CourseModule, error) {
	course, err := s.repo.FindByID(courseID)
	if err != nil {
		return nil, err
	}
	if course.CompanyID != companyID {
		return nil, util.ErrPermissionDenied
	}

	var target *model.CourseModule
	var titles []string
	for i := range course.Modules {
		titles = append(titles, course.Modules[i].Title)
		if course.Modules[i].ID == moduleID {
			target = &course.Modules[i]
		}
	}
	if target == nil {
		return nil, util.ErrModuleNotFound
	}
	if strings.TrimSpace(topic) == "" {
		topic = target.Title
	}

	courseContext := fmt.Sprintf("课程《%s》：%s。现有模块：%s", course.Title, course.Description, strings.Join(titles, "、"))
	draft, meta, err := s.generator.RegenerateModule(ctx, topic, courseContext)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("模块重新生成成功",
		zap.String("module_id", moduleID),
		zap.String("model", meta.Model))

	if err := s.repo.DeleteModuleLessons(moduleID); err != nil {
		return nil, err
	}
	target.Title = draft.Title
	target.Lessons = nil
	if err := s.repo.UpdateModule(target); err != nil {
		return nil, err
	}
	for li, l := range draft.Lessons {
		lesson := model.Lesson{ModuleID: moduleID, Title: l.Title, Content: l.Content, OrderIndex: li}
		if err := s.repo.CreateLesson(&lesson); err != nil {
			return nil, err
		}
		target.Lessons = append(target.Lessons, lesson)
	}

	s.cache.Delete(courseCacheKey(courseID))
	return target, nil
}

// RegenerateLesson 重新生成单个课时的标题与正文，已挂的媒体保留
func (s *CourseService) RegenerateLesson(ctx context.Context, companyID, lessonID, topic string) (*model.Lesson, error) {
	lesson, err := s.repo.FindLessonByID(lessonID)
	if err != nil {
		return nil, err
	}
	mod, err := s.repo.FindModuleByID(lesson.ModuleID)
	if err != nil {
		return nil, err
	}
	course, err := s.repo.FindByID(mod.CourseID)
	if err != nil {
		return nil, err
	}
	if course.CompanyID != companyID {
		return nil, util.ErrPermissionDenied
	}
	if strings.TrimSpace(topic) == "" {
		topic = lesson.Title
	}

	moduleContext := fmt.Sprintf("课程《%s》模块《%s》", course.Title, mod.Title)
	draft, meta, err := s.generator.RegenerateLesson(ctx, topic, moduleContext)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("课时重新生成成功",
		zap.String("lesson_id", lessonID),
		zap.String("model", meta.Model))

	lesson.Title = draft.Title
	lesson.Content = draft.Content
	// 正文换了之后旧图的插入位置可能越界，读取侧展示时需要压回段落范围
	for i := range lesson.Media {
		lesson.Media[i].Placement = clampPlacement(lesson.Media[i].Placement, util.CountParagraphs(lesson.Content))
	}
	if err := s.repo.UpdateLesson(lesson); err != nil {
		return nil, err
	}

	s.cache.Delete(courseCacheKey(mod.CourseID))
	return lesson, nil
}
