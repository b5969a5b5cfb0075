package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health 处理存活探测请求。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"status": "ok"}})
}
