package service

import (
	"context"
	"courseforge_backend/internal/model"
	"courseforge_backend/pkg/logger"
	"courseforge_backend/pkg/monitoring"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 后台配图任务对各依赖的最小面，便于测试时替换
type fulfillmentStore interface {
	FindByID(id string) (*model.Course, error)
	AddLessonMedia(lessonID string, item model.MediaItem) error
	MarkGenerationComplete(courseID string) (bool, error)
}

type mediaPlanner interface {
	PlanMedia(ctx context.Context, courseTitle string, modules []ModuleOutline) []ModuleMediaPlan
}

type imageGenerator interface {
	GenerateLessonImage(ctx context.Context, lessonID, prompt string) (string, error)
}

type quietNotifier interface {
	NotifyQuietly(ctx context.Context, in NotificationInput)
}

type runLocker interface {
	Acquire(ctx context.Context, courseID string) (bool, error)
	Release(ctx context.Context, courseID string)
}

// FulfillmentService 课程配图的后台执行器：按计划顺序逐张生成图片、
// 挂到课时上，最后把课程状态从 generating 推进到 complete 并发通知。
type FulfillmentService struct {
	store      fulfillmentStore
	planner    mediaPlanner
	images     imageGenerator
	notifier   quietNotifier
	locker     runLocker
	retryDelay time.Duration
	sleep      func(time.Duration)
}

func NewFulfillmentService(store fulfillmentStore, planner mediaPlanner, images imageGenerator, notifier quietNotifier, locker runLocker, retryDelaySecs int) *FulfillmentService {
	delay := time.Duration(retryDelaySecs) * time.Second
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &FulfillmentService{
		store:      store,
		planner:    planner,
		images:     images,
		notifier:   notifier,
		locker:     locker,
		retryDelay: delay,
		sleep:      time.Sleep,
	}
}

// Run 执行一门课程的配图任务。同一门课程同一时刻只允许一个执行者，
// 其余执行者直接放弃。配图失败不会让课程卡在 generating，
// 最坏情况是少图完成并收到降级通知。
func (s *FulfillmentService) Run(ctx context.Context, courseID string) error {
	acquired, err := s.locker.Acquire(ctx, courseID)
	if err != nil {
		return fmt.Errorf("acquire fulfillment lock: %w", err)
	}
	if !acquired {
		logger.Log.Warn("课程配图任务已在执行中，跳过", zap.String("course_id", courseID))
		return nil
	}
	defer s.locker.Release(ctx, courseID)

	course, err := s.store.FindByID(courseID)
	if err != nil {
		return fmt.Errorf("load course %s: %w", courseID, err)
	}
	if course.GenerationStatus != model.GenerationStatusGenerating {
		logger.Log.Info("课程不在生成中状态，配图任务跳过",
			zap.String("course_id", courseID),
			zap.String("status", string(course.GenerationStatus)))
		return nil
	}

	modules := outlineFromCourse(course)
	plan, planErr := s.planSafely(ctx, course.Title, modules)
	if planErr != nil {
		logger.Log.Error("配图规划阶段异常，课程按无图完成",
			zap.String("course_id", courseID),
			zap.Error(planErr))
		return s.finish(ctx, course, 0, 0, true)
	}

	succeeded, failed := s.fulfillPlan(ctx, course, plan)
	return s.finish(ctx, course, succeeded, failed, false)
}

// planSafely 规划器自身吞掉一切可预期的失败，这里只兜 panic
func (s *FulfillmentService) planSafely(ctx context.Context, courseTitle string, modules []ModuleOutline) (plan []ModuleMediaPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("media planning panicked: %v", r)
		}
	}()
	return s.planner.PlanMedia(ctx, courseTitle, modules), nil
}

// fulfillPlan 严格按计划顺序执行。每张图最多尝试两次，
// 单图失败记入统计后继续下一张，绝不中断整体流程。
func (s *FulfillmentService) fulfillPlan(ctx context.Context, course *model.Course, plan []ModuleMediaPlan) (succeeded, failed int) {
	for _, mp := range plan {
		if mp.ModuleIndex < 0 || mp.ModuleIndex >= len(course.Modules) {
			continue
		}
		mod := course.Modules[mp.ModuleIndex]
		for _, lp := range mp.Lessons {
			if lp.LessonIndex < 0 || lp.LessonIndex >= len(mod.Lessons) {
				continue
			}
			lesson := mod.Lessons[lp.LessonIndex]
			for _, img := range lp.Images {
				if s.fulfillImage(ctx, lesson.ID, img) {
					succeeded++
					monitoring.ImagesGenerated.WithLabelValues("success").Inc()
				} else {
					failed++
					monitoring.ImagesGenerated.WithLabelValues("failure").Inc()
				}
			}
		}
	}
	return succeeded, failed
}

const imageAttempts = 2

func (s *FulfillmentService) fulfillImage(ctx context.Context, lessonID string, img ImagePlan) bool {
	var url string
	var err error
	for attempt := 1; attempt <= imageAttempts; attempt++ {
		url, err = s.images.GenerateLessonImage(ctx, lessonID, img.Prompt)
		if err == nil && url != "" {
			break
		}
		if attempt < imageAttempts {
			logger.Log.Warn("图片生成失败，稍后重试",
				zap.String("lesson_id", lessonID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			s.sleep(s.retryDelay)
		}
	}
	if err != nil || url == "" {
		logger.Log.Error("图片生成最终失败，跳过该图",
			zap.String("lesson_id", lessonID),
			zap.Error(err))
		return false
	}

	item := model.MediaItem{
		ID:        uuid.New().String(),
		Type:      model.MediaTypeImage,
		URL:       url,
		Alt:       img.Alt,
		Placement: img.Placement,
		Prompt:    img.Prompt,
	}
	if err := s.store.AddLessonMedia(lessonID, item); err != nil {
		logger.Log.Error("课时媒体写入失败",
			zap.String("lesson_id", lessonID),
			zap.Error(err))
		return false
	}
	return true
}

// finish 推进课程状态并发通知。状态推进带条件守卫，只会成功一次，
// 没抢到推进权的执行者不再重复发通知。推进本身失败时向上返回错误，
// 交给队列重试，避免课程永远卡在 generating。
func (s *FulfillmentService) finish(ctx context.Context, course *model.Course, succeeded, failed int, planFailed bool) error {
	transitioned, err := s.store.MarkGenerationComplete(course.ID)
	if err != nil {
		logger.Log.Error("课程状态推进失败",
			zap.String("course_id", course.ID),
			zap.Error(err))
		return fmt.Errorf("mark course %s complete: %w", course.ID, err)
	}
	if !transitioned {
		return nil
	}

	in := NotificationInput{
		CompanyID: course.CompanyID,
		Title:     fmt.Sprintf("课程《%s》已生成完毕", course.Title),
		Path:      "/courses/" + course.ID,
	}
	switch {
	case planFailed:
		in.Subtitle = "配图未完成"
		in.Content = "课程内容已生成，配图规划失败，可稍后在编辑页手动添加图片。"
	case failed > 0:
		in.Subtitle = "部分配图未完成"
		in.Content = fmt.Sprintf("已生成 %d 张配图，%d 张失败，可稍后在编辑页补充。", succeeded, failed)
	default:
		in.Subtitle = "配图已完成"
		in.Content = fmt.Sprintf("课程内容与全部 %d 张配图均已生成。", succeeded)
	}
	s.notifier.NotifyQuietly(ctx, in)
	return nil
}

// outlineFromCourse 把已落库的课程树还原成规划器需要的大纲结构。
// FindByID 预加载时已按 order_index 排序。
func outlineFromCourse(course *model.Course) []ModuleOutline {
	modules := make([]ModuleOutline, 0, len(course.Modules))
	for _, m := range course.Modules {
		lessons := make([]LessonOutline, 0, len(m.Lessons))
		for _, l := range m.Lessons {
			lessons = append(lessons, LessonOutline{LessonTitle: l.Title, Content: l.Content})
		}
		modules = append(modules, ModuleOutline{ModuleTitle: m.Title, Lessons: lessons})
	}
	return modules
}

// RedisRunLocker 基于 Redis SETNX 的课程级互斥锁，带过期时间兜底，
// 防止执行者崩溃后锁永远不释放。
type RedisRunLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRunLocker(client *redis.Client) *RedisRunLocker {
	return &RedisRunLocker{client: client, ttl: 30 * time.Minute}
}

func lockKey(courseID string) string {
	return "courseforge:fulfill:" + courseID
}

func (l *RedisRunLocker) Acquire(ctx context.Context, courseID string) (bool, error) {
	return l.client.SetNX(ctx, lockKey(courseID), time.Now().Unix(), l.ttl).Result()
}

func (l *RedisRunLocker) Release(ctx context.Context, courseID string) {
	if err := l.client.Del(ctx, lockKey(courseID)).Err(); err != nil {
		logger.Log.Warn("释放课程配图锁失败", zap.String("course_id", courseID), zap.Error(err))
	}
}
