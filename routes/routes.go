package routes

import (
	"net/http"

	"civicsync-dispatch/controllers"
	"civicsync-dispatch/metrics"
	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/models"

	"github.com/gin-gonic/gin"
)

// Handlers bundles everything the routes are wired to.
type Handlers struct {
	Auth          *controllers.AuthController
	Issues        *controllers.IssueController
	Officers      *controllers.OfficerController
	Notifications *controllers.NotificationController
	Escalation    *controllers.EscalationController

	// Authenticate validates the session; RateLimit guards issue submission.
	Authenticate gin.HandlerFunc
	RateLimit    gin.HandlerFunc
}

func adminOnly() gin.HandlerFunc {
	return middlewares.RequireRole(string(models.RoleAdmin))
}

// Register mounts every route on r.
func Register(r *gin.Engine, h Handlers) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", metrics.Handler())

	AuthRoutes(r, h)
	IssueRoutes(r, h)
	OfficerRoutes(r, h)

	api := r.Group("/api", h.Authenticate)
	{
		api.GET("/notifications", h.Notifications.GetNotifications)
		api.POST("/admin/escalation/sweep", adminOnly(), h.Escalation.TriggerSweep)
	}
}
