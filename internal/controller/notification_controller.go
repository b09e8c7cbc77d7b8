package controller

import (
	"courseforge_backend/internal/service"
	"courseforge_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type NotificationController struct {
	notificationService *service.NotificationService
}

func NewNotificationController(notificationService *service.NotificationService) *NotificationController {
	return &NotificationController{notificationService: notificationService}
}

// List 团队站内通知分页列表
// @Summary 通知列表
// @Tags notifications
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} util.Response
// @Security BearerAuth
// @Router /api/v1/notifications [get]
func (ctl *NotificationController) List(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	list, total, err := ctl.notificationService.List(claims.CompanyID, page, limit)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, util.PageResponse{List: list, Total: total, Page: page, Limit: limit})
}

// MarkRead 标记单条通知为已读
// @Summary 标记已读
// @Tags notifications
// @Produce json
// @Param id path string true "通知 ID"
// @Success 200 {object} util.Response
// @Security BearerAuth
// @Router /api/v1/notifications/{id}/read [post]
func (ctl *NotificationController) MarkRead(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	if err := ctl.notificationService.MarkRead(claims.CompanyID, c.Param("id")); err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, nil)
}
