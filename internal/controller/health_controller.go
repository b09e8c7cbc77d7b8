package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type HealthController struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewHealthController(db *gorm.DB, redisClient *redis.Client) *HealthController {
	return &HealthController{db: db, redis: redisClient}
}

// Check 存活与依赖探活
// @Summary 健康检查
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (ctl *HealthController) Check(c *gin.Context) {
	status := http.StatusOK
	result := gin.H{"status": "ok"}

	if sqlDB, err := ctl.db.DB(); err != nil || sqlDB.Ping() != nil {
		status = http.StatusServiceUnavailable
		result["database"] = "down"
	} else {
		result["database"] = "up"
	}

	if err := ctl.redis.Ping(c.Request.Context()).Err(); err != nil {
		status = http.StatusServiceUnavailable
		result["redis"] = "down"
	} else {
		result["redis"] = "up"
	}

	if status != http.StatusOK {
		result["status"] = "degraded"
	}
	c.JSON(status, result)
}
