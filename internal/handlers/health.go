package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/database"
)

// HealthCheck 健康检查处理器（最小化响应，无需认证）
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "healthy",
		})
	}
}

// HealthCheckDetailed 详细健康检查处理器（管理端点），附带迁移状态
func HealthCheckDetailed(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		migrations := gin.H{}
		if current, available, pending, err := database.GetMigrationStatus(db); err != nil {
			migrations["error"] = err.Error()
		} else {
			migrations = gin.H{
				"current":   current,
				"available": available,
				"pending":   len(pending),
			}
		}

		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(startTime).Seconds(),
			"version": gin.H{
				"version":   versionString,
				"buildTime": buildTime,
				"gitCommit": gitCommit,
			},
			"migrations": migrations,
		})
	}
}

// 编译时通过 -ldflags 注入，由 main 调用 SetVersionInfo 传入
var (
	versionString = "v0.0.0-dev"
	buildTime     = "unknown"
	gitCommit     = "unknown"
)

// SetVersionInfo 设置版本信息（从 main 调用）
func SetVersionInfo(version, build, commit string) {
	versionString = version
	buildTime = build
	gitCommit = commit
}

var startTime = time.Now()
