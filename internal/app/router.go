package app

import (
	"courseforge_backend/docs"
	"courseforge_backend/internal/config"
	"courseforge_backend/internal/middleware"
	"courseforge_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api/v1"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/health", c.health.Check)

	api := router.Group("/api/v1")

	// 公共路由
	auth := api.Group("/auth")
	{
		auth.POST("/register", c.auth.Register)
		auth.POST("/login", c.auth.Login)
	}

	// 需要登录的路由
	authorized := api.Group("/")
	authorized.Use(middleware.JWTAuth(cfg.JWT))
	{
		courses := authorized.Group("/courses")
		{
			courses.POST("", c.course.CreateCourse)
			courses.GET("", c.course.ListCourses)
			courses.GET("/:id", c.course.GetCourse)
			courses.POST("/:id/modules/:moduleId/regenerate", c.course.RegenerateModule)
		}
		authorized.POST("/lessons/:lessonId/regenerate", c.course.RegenerateLesson)

		notifications := authorized.Group("/notifications")
		{
			notifications.GET("", c.notification.List)
			notifications.POST("/:id/read", c.notification.MarkRead)
		}
	}
}
