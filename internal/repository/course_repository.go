package repository

import (
	"courseforge_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

// CreateCourse 整树落库（课程+模块+课时），gorm 级联创建自带事务，
// 保证响应返回之前结构已经完整持久化
func (r *CourseRepository) CreateCourse(course *model.Course) error {
	return r.DB.Create(course).Error
}

func (r *CourseRepository) CreateModule(module *model.CourseModule) error {
	return r.DB.Create(module).Error
}

func (r *CourseRepository) CreateLesson(lesson *model.Lesson) error {
	return r.DB.Create(lesson).Error
}

func (r *CourseRepository) FindByID(id string) (*model.Course, error) {
	var course model.Course
	err := r.DB.Preload("Modules", func(db *gorm.DB) *gorm.DB {
		return db.Order("course_modules.order_index ASC")
	}).Preload("Modules.Lessons", func(db *gorm.DB) *gorm.DB {
		return db.Order("lessons.order_index ASC")
	}).First(&course, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) ListByCompany(companyID string, page, limit int) ([]model.Course, int64, error) {
	var courses []model.Course
	var total int64

	query := r.DB.Model(&model.Course{}).Where("company_id = ?", companyID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&courses).Error
	return courses, total, err
}

func (r *CourseRepository) FindModuleByID(id string) (*model.CourseModule, error) {
	var module model.CourseModule
	err := r.DB.Preload("Lessons", func(db *gorm.DB) *gorm.DB {
		return db.Order("lessons.order_index ASC")
	}).First(&module, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &module, nil
}

func (r *CourseRepository) FindLessonByID(id string) (*model.Lesson, error) {
	var lesson model.Lesson
	err := r.DB.First(&lesson, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (r *CourseRepository) UpdateModule(module *model.CourseModule) error {
	return r.DB.Save(module).Error
}

func (r *CourseRepository) UpdateLesson(lesson *model.Lesson) error {
	return r.DB.Save(lesson).Error
}

func (r *CourseRepository) DeleteModuleLessons(moduleID string) error {
	return r.DB.Where("module_id = ?", moduleID).Delete(&model.Lesson{}).Error
}

// AddLessonMedia 逐条追加媒体。行锁内读改写 JSON 列，避免并发追加互相覆盖
func (r *CourseRepository) AddLessonMedia(lessonID string, item model.MediaItem) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var lesson model.Lesson
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&lesson, "id = ?", lessonID).Error; err != nil {
			return err
		}

		lesson.Media = append(lesson.Media, item)
		return tx.Model(&model.Lesson{}).Where("id = ?", lessonID).
			Update("media", lesson.Media).Error
	})
}

// MarkGenerationComplete 推进状态机 generating -> complete。
// WHERE 条件保证该迁移只发生一次，也保证 complete 不会被写回 generating。
func (r *CourseRepository) MarkGenerationComplete(courseID string) (bool, error) {
	result := r.DB.Model(&model.Course{}).
		Where("id = ? AND generation_status = ?", courseID, model.GenerationStatusGenerating).
		Update("generation_status", model.GenerationStatusComplete)
	return result.RowsAffected > 0, result.Error
}
