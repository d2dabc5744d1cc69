package api

import (
	"net/http"

	"github.com/example/ec-stock-reservation/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the order intake routes. authMiddleware may be nil, in
// which case the order routes are open.
func NewRouter(l *zap.Logger, handlers *Handlers, authMiddleware gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), middleware.Logger(l))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	r.GET("/health", handlers.Health)

	orders := r.Group("/orders")
	if authMiddleware != nil {
		orders.Use(authMiddleware)
	}
	orders.POST("", handlers.PlaceOrder)
	orders.GET("/:id", handlers.GetOrder)

	return r
}
