package service

import (
	"context"
	"courseforge_backend/internal/model"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	course       *model.Course
	findErr      error
	added        []struct {
		lessonID string
		item     model.MediaItem
	}
	addErr         error
	markCalls      int
	markTransition bool
	markErr        error
}

func (f *fakeStore) FindByID(id string) (*model.Course, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.course, nil
}

func (f *fakeStore) AddLessonMedia(lessonID string, item model.MediaItem) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, struct {
		lessonID string
		item     model.MediaItem
	}{lessonID, item})
	return nil
}

func (f *fakeStore) MarkGenerationComplete(courseID string) (bool, error) {
	f.markCalls++
	return f.markTransition, f.markErr
}

type fakePlanner struct {
	plan  []ModuleMediaPlan
	panic bool
}

func (f *fakePlanner) PlanMedia(ctx context.Context, courseTitle string, modules []ModuleOutline) []ModuleMediaPlan {
	if f.panic {
		panic("planner exploded")
	}
	return f.plan
}

type fakeImageGen struct {
	results []fakeImageResult
	calls   []string // lessonID 序列
}

type fakeImageResult struct {
	url string
	err error
}

func (f *fakeImageGen) GenerateLessonImage(ctx context.Context, lessonID, prompt string) (string, error) {
	f.calls = append(f.calls, lessonID)
	if len(f.results) == 0 {
		return "", errors.New("no scripted result")
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.url, r.err
}

type fakeNotifier struct {
	sent []NotificationInput
}

func (f *fakeNotifier) NotifyQuietly(ctx context.Context, in NotificationInput) {
	f.sent = append(f.sent, in)
}

type fakeLocker struct {
	acquired bool
	err      error
	releases int
}

func (f *fakeLocker) Acquire(ctx context.Context, courseID string) (bool, error) {
	return f.acquired, f.err
}

func (f *fakeLocker) Release(ctx context.Context, courseID string) {
	f.releases++
}

func generatingCourse() *model.Course {
	course := &model.Course{
		CompanyID:        "company-1",
		Title:            "Go 并发编程",
		GenerationStatus: model.GenerationStatusGenerating,
		Modules: []model.CourseModule{
			{Title: "模块一", Lessons: []model.Lesson{
				{Title: "课时A", Content: "一段。\n\n两段。"},
				{Title: "课时B", Content: "正文。"},
			}},
			{Title: "模块二", Lessons: []model.Lesson{
				{Title: "课时C", Content: "正文。"},
			}},
		},
	}
	course.ID = "course-1"
	course.Modules[0].ID = "mod-1"
	course.Modules[0].Lessons[0].ID = "lesson-a"
	course.Modules[0].Lessons[1].ID = "lesson-b"
	course.Modules[1].ID = "mod-2"
	course.Modules[1].Lessons[0].ID = "lesson-c"
	return course
}

func twoImagePlan() []ModuleMediaPlan {
	return []ModuleMediaPlan{
		{ModuleIndex: 0, Lessons: []LessonMediaPlan{
			{LessonIndex: 0, Images: []ImagePlan{{Prompt: "图一", Alt: "A", Placement: 2}}},
		}},
		{ModuleIndex: 1, Lessons: []LessonMediaPlan{
			{LessonIndex: 0, Images: []ImagePlan{{Prompt: "图二", Alt: "C", Placement: 1}}},
		}},
	}
}

type fulfillmentFixture struct {
	svc      *FulfillmentService
	store    *fakeStore
	planner  *fakePlanner
	images   *fakeImageGen
	notifier *fakeNotifier
	locker   *fakeLocker
	sleeps   int
}

func newFulfillmentFixture(store *fakeStore, planner *fakePlanner, images *fakeImageGen) *fulfillmentFixture {
	fx := &fulfillmentFixture{
		store:    store,
		planner:  planner,
		images:   images,
		notifier: &fakeNotifier{},
		locker:   &fakeLocker{acquired: true},
	}
	fx.svc = NewFulfillmentService(store, planner, images, fx.notifier, fx.locker, 1)
	fx.svc.sleep = func(time.Duration) { fx.sleeps++ }
	return fx
}

func TestFulfillmentHappyPath(t *testing.T) {
	store := &fakeStore{course: generatingCourse(), markTransition: true}
	images := &fakeImageGen{results: []fakeImageResult{
		{url: "http://img/1.png"},
		{url: "http://img/2.png"},
	}}
	fx := newFulfillmentFixture(store, &fakePlanner{plan: twoImagePlan()}, images)

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	// 严格按计划顺序执行
	assert.Equal(t, []string{"lesson-a", "lesson-c"}, images.calls)

	require.Len(t, store.added, 2)
	assert.Equal(t, "lesson-a", store.added[0].lessonID)
	assert.Equal(t, "http://img/1.png", store.added[0].item.URL)
	assert.Equal(t, model.MediaTypeImage, store.added[0].item.Type)
	assert.Equal(t, 2, store.added[0].item.Placement)
	assert.Equal(t, "图一", store.added[0].item.Prompt)
	assert.NotEmpty(t, store.added[0].item.ID)

	assert.Equal(t, 1, store.markCalls)
	require.Len(t, fx.notifier.sent, 1)
	assert.Equal(t, "company-1", fx.notifier.sent[0].CompanyID)
	assert.Contains(t, fx.notifier.sent[0].Title, "Go 并发编程")
	assert.Equal(t, "配图已完成", fx.notifier.sent[0].Subtitle)
	assert.Equal(t, 1, fx.locker.releases)
}

func TestFulfillmentRetriesOnceThenSucceeds(t *testing.T) {
	store := &fakeStore{course: generatingCourse(), markTransition: true}
	images := &fakeImageGen{results: []fakeImageResult{
		{err: errors.New("provider hiccup")},
		{url: "http://img/1.png"},
		{url: "http://img/2.png"},
	}}
	fx := newFulfillmentFixture(store, &fakePlanner{plan: twoImagePlan()}, images)

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	// 第一张图重试了一次
	assert.Equal(t, []string{"lesson-a", "lesson-a", "lesson-c"}, images.calls)
	assert.Equal(t, 1, fx.sleeps)
	assert.Len(t, store.added, 2)
	assert.Equal(t, "配图已完成", fx.notifier.sent[0].Subtitle)
}

func TestFulfillmentContinuesPastFailedImage(t *testing.T) {
	store := &fakeStore{course: generatingCourse(), markTransition: true}
	images := &fakeImageGen{results: []fakeImageResult{
		{err: errors.New("e1")},
		{err: errors.New("e2")}, // 第一张图两次都失败
		{url: "http://img/2.png"},
	}}
	fx := newFulfillmentFixture(store, &fakePlanner{plan: twoImagePlan()}, images)

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	// 单图失败不中断，后续图片照常执行，课程照常完成
	require.Len(t, store.added, 1)
	assert.Equal(t, "lesson-c", store.added[0].lessonID)
	assert.Equal(t, 1, store.markCalls)
	require.Len(t, fx.notifier.sent, 1)
	assert.Equal(t, "部分配图未完成", fx.notifier.sent[0].Subtitle)
}

func TestFulfillmentEmptyURLCountsAsFailure(t *testing.T) {
	store := &fakeStore{course: generatingCourse(), markTransition: true}
	images := &fakeImageGen{results: []fakeImageResult{{url: ""}, {url: ""}}}
	plan := twoImagePlan()[:1]
	fx := newFulfillmentFixture(store, &fakePlanner{plan: plan}, images)

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	assert.Empty(t, store.added)
	assert.Equal(t, "部分配图未完成", fx.notifier.sent[0].Subtitle)
}

func TestFulfillmentSkipsWhenLockHeld(t *testing.T) {
	store := &fakeStore{course: generatingCourse(), markTransition: true}
	images := &fakeImageGen{}
	fx := newFulfillmentFixture(store, &fakePlanner{plan: twoImagePlan()}, images)
	fx.locker.acquired = false

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	assert.Empty(t, images.calls)
	assert.Equal(t, 0, store.markCalls)
	assert.Equal(t, 0, fx.locker.releases)
}

func TestFulfillmentSkipsCompletedCourse(t *testing.T) {
	course := generatingCourse()
	course.GenerationStatus = model.GenerationStatusComplete
	store := &fakeStore{course: course, markTransition: true}
	images := &fakeImageGen{}
	fx := newFulfillmentFixture(store, &fakePlanner{plan: twoImagePlan()}, images)

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	assert.Empty(t, images.calls)
	assert.Equal(t, 0, store.markCalls)
	assert.Empty(t, fx.notifier.sent)
}

func TestFulfillmentNoNotificationWithoutTransition(t *testing.T) {
	// 状态守卫没抢到推进权时不发通知，避免重复打扰
	store := &fakeStore{course: generatingCourse(), markTransition: false}
	images := &fakeImageGen{results: []fakeImageResult{
		{url: "http://img/1.png"},
		{url: "http://img/2.png"},
	}}
	fx := newFulfillmentFixture(store, &fakePlanner{plan: twoImagePlan()}, images)

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	assert.Equal(t, 1, store.markCalls)
	assert.Empty(t, fx.notifier.sent)
}

func TestFulfillmentPlannerPanicDegradesGracefully(t *testing.T) {
	store := &fakeStore{course: generatingCourse(), markTransition: true}
	images := &fakeImageGen{}
	fx := newFulfillmentFixture(store, &fakePlanner{panic: true}, images)

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	// 规划崩了也不能把课程卡在 generating
	assert.Empty(t, images.calls)
	assert.Equal(t, 1, store.markCalls)
	require.Len(t, fx.notifier.sent, 1)
	assert.Equal(t, "配图未完成", fx.notifier.sent[0].Subtitle)
}

func TestFulfillmentIgnoresOutOfRangePlanEntries(t *testing.T) {
	store := &fakeStore{course: generatingCourse(), markTransition: true}
	images := &fakeImageGen{results: []fakeImageResult{{url: "http://img/1.png"}}}
	plan := []ModuleMediaPlan{
		{ModuleIndex: 7, Lessons: []LessonMediaPlan{{LessonIndex: 0, Images: []ImagePlan{{Prompt: "越界"}}}}},
		{ModuleIndex: 0, Lessons: []LessonMediaPlan{
			{LessonIndex: 9, Images: []ImagePlan{{Prompt: "越界"}}},
			{LessonIndex: 1, Images: []ImagePlan{{Prompt: "有效", Placement: 1}}},
		}},
	}
	fx := newFulfillmentFixture(store, &fakePlanner{plan: plan}, images)

	require.NoError(t, fx.svc.Run(context.Background(), "course-1"))

	assert.Equal(t, []string{"lesson-b"}, images.calls)
	require.Len(t, store.added, 1)
}

func TestFulfillmentMarkCompleteFailurePropagates(t *testing.T) {
	// 状态推进写库失败必须向上报错，让队列重试，
	// 否则课程会永远停在 generating
	store := &fakeStore{course: generatingCourse(), markErr: errors.New("db down")}
	images := &fakeImageGen{results: []fakeImageResult{
		{url: "http://img/1.png"},
		{url: "http://img/2.png"},
	}}
	fx := newFulfillmentFixture(store, &fakePlanner{plan: twoImagePlan()}, images)

	err := fx.svc.Run(context.Background(), "course-1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, fx.notifier.sent)
	assert.Equal(t, 1, fx.locker.releases)
}

func TestFulfillmentLoadFailurePropagates(t *testing.T) {
	store := &fakeStore{findErr: errors.New("db down")}
	fx := newFulfillmentFixture(store, &fakePlanner{}, &fakeImageGen{})

	// 课程读不出来时报错，交给队列按重试策略再投递
	require.Error(t, fx.svc.Run(context.Background(), "course-1"))
	assert.Equal(t, 1, fx.locker.releases)
}
