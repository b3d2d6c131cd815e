package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cleantext/ocr-pipeline/api/handlers"
	"github.com/cleantext/ocr-pipeline/api/middleware"
)

// SetupRoutes wires every endpoint onto the engine.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	ext := v1.Group("/extract")
	{
		ext.POST("", h.Extract.SubmitBatch)
		ext.POST("/preview", h.Extract.Preview)
		ext.GET("/status/:taskId", h.Extract.GetStatus)
		ext.GET("/result/:taskId", h.Extract.GetResult)
	}
}
