package routes

import (
	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/models"

	"github.com/gin-gonic/gin"
)

// IssueRoutes sets up the issue routes
func IssueRoutes(r *gin.Engine, h Handlers) {
	issue := r.Group("/api/issues", h.Authenticate)
	{
		issue.POST("", h.RateLimit, h.Issues.CreateIssue)
		issue.GET("", h.Issues.GetAllIssues)
		issue.GET("/mine", h.Issues.GetIssuesByUser)
		issue.GET("/stats/overview", h.Issues.GetStats)
		issue.POST("/classify", h.Issues.ClassifyPreview)
		issue.GET("/:id", h.Issues.GetIssue)
		issue.POST("/:id/comments", h.Issues.AddComment)
		issue.POST("/:id/upvote", h.Issues.HandleVoteOnIssue)
		issue.PATCH("/:id/assign", adminOnly(), h.Issues.AssignIssue)
		issue.PATCH("/:id/status",
			middlewares.RequireRole(string(models.RoleAdmin), string(models.RoleOfficer)),
			h.Issues.UpdateStatus)
	}
}

// OfficerRoutes sets up the officer directory routes
func OfficerRoutes(r *gin.Engine, h Handlers) {
	officers := r.Group("/api/officers", h.Authenticate)
	{
		officers.POST("", adminOnly(), h.Officers.CreateOfficer)
		officers.GET("", h.Officers.GetOfficers)
		officers.GET("/:id", h.Officers.GetOfficer)
		officers.POST("/:id/recompute", adminOnly(), h.Officers.RecomputeWorkload)
	}
}
