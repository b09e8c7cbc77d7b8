package controller

import (
	"courseforge_backend/internal/service"
	"courseforge_backend/internal/util"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type CourseController struct {
	courseService *service.CourseService
}

func NewCourseController(courseService *service.CourseService) *CourseController {
	return &CourseController{courseService: courseService}
}

// generationFailureMessage 把生成失败归类翻译成对用户的提示文案
func generationFailureMessage(code service.GenerationFailureCode) string {
	switch code {
	case service.FailureAllModelsExhausted:
		return "所有模型暂时不可用，请稍后重试"
	case service.FailureEmptyResponse:
		return "模型返回了空内容，请换个主题描述重试"
	default:
		return "模型返回的课程结构无效，请重试"
	}
}

func respondGenerationError(c *gin.Context, err error) {
	var gf *service.GenerationFailure
	if errors.As(err, &gf) {
		util.Error(c, http.StatusBadGateway, generationFailureMessage(gf.Code))
		return
	}
	util.LogInternalError(c, err)
}

// CreateCourse 按主题生成并创建课程
// @Summary 创建课程
// @Tags courses
// @Accept json
// @Produce json
// @Param request body service.CreateCourseRequest true "课程主题与生成选项"
// @Success 201 {object} util.Response
// @Security BearerAuth
// @Router /api/v1/courses [post]
func (ctl *CourseController) CreateCourse(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	var req service.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	course, err := ctl.courseService.CreateCourse(c.Request.Context(), claims.CompanyID, req)
	if err != nil {
		respondGenerationError(c, err)
		return
	}
	util.Created(c, course)
}

// GetCourse 读取整棵课程树（含媒体与生成状态，可用于前端轮询）
// @Summary 课程详情
// @Tags courses
// @Produce json
// @Param id path string true "课程 ID"
// @Success 200 {object} util.Response
// @Security BearerAuth
// @Router /api/v1/courses/{id} [get]
func (ctl *CourseController) GetCourse(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	course, err := ctl.courseService.GetCourse(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.NotFound(c)
			return
		}
		util.LogInternalError(c, err)
		return
	}
	if course.CompanyID != claims.CompanyID {
		util.Forbidden(c)
		return
	}
	util.Success(c, course)
}

// ListCourses 团队下的课程分页列表
// @Summary 课程列表
// @Tags courses
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response
// @Security BearerAuth
// @Router /api/v1/courses [get]
func (ctl *CourseController) ListCourses(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	courses, total, err := ctl.courseService.ListCourses(claims.CompanyID, page, limit)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, util.PageResponse{List: courses, Total: total, Page: page, Limit: limit})
}

type regenerateRequest struct {
	Topic string `json:"topic"`
}

// RegenerateModule 重新生成课程内的单个模块
// @Summary 重新生成模块
// @Tags courses
// @Accept json
// @Produce json
// @Param id path string true "课程 ID"
// @Param moduleId path string true "模块 ID"
// @Param request body regenerateRequest false "模块主题，缺省用原标题"
// @Success 200 {object} util.Response
// @Security BearerAuth
// @Router /api/v1/courses/{id}/modules/{moduleId}/regenerate [post]
func (ctl *CourseController) RegenerateModule(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	var req regenerateRequest
	_ = c.ShouldBindJSON(&req)

	mod, err := ctl.courseService.RegenerateModule(c.Request.Context(), claims.CompanyID, c.Param("id"), c.Param("moduleId"), req.Topic)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrModuleNotFound), errors.Is(err, gorm.ErrRecordNotFound):
			util.NotFound(c)
		case errors.Is(err, util.ErrPermissionDenied):
			util.Forbidden(c)
		default:
			respondGenerationError(c, err)
		}
		return
	}
	util.Success(c, mod)
}

// RegenerateLesson 重新生成单个课时
// @Summary 重新生成课时
// @Tags courses
// @Accept json
// @Produce json
// @Param lessonId path string true "课时 ID"
// @Param request body regenerateRequest false "课时主题，缺省用原标题"
// @Success 200 {object} util.Response
// @Security BearerAuth
// @Router /api/v1/lessons/{lessonId}/regenerate [post]
func (ctl *CourseController) RegenerateLesson(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	var req regenerateRequest
	_ = c.ShouldBindJSON(&req)

	lesson, err := ctl.courseService.RegenerateLesson(c.Request.Context(), claims.CompanyID, c.Param("lessonId"), req.Topic)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			util.NotFound(c)
		case errors.Is(err, util.ErrPermissionDenied):
			util.Forbidden(c)
		default:
			respondGenerationError(c, err)
		}
		return
	}
	util.Success(c, lesson)
}
