package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	commonmw "github.com/civicdesk/civic-portal/backend/services/common/middleware"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/controllers"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/middleware"
)

type Handlers struct {
	Complaints    *controllers.ComplaintController
	Notifications *controllers.NotificationController
}

type Options struct {
	Verifiers []middleware.TokenVerifier
	// SendPerMinute limits manual sends per client.
	SendPerMinute int
}

func RegisterRoutes(router *gin.Engine, h Handlers, opts Options) {
	// Public
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "complaint-service"})
	})

	authed := router.Group("/", middleware.AuthMiddleware(opts.Verifiers...))
	{
		authed.POST("/complaints", h.Complaints.CreateComplaint)
		authed.POST("/notifications/send", commonmw.RateLimitMiddleware(opts.SendPerMinute), h.Notifications.SendNotification)
		authed.POST("/tokens", h.Notifications.RegisterToken)
		authed.DELETE("/tokens", h.Notifications.DeactivateTokens)
	}

	staff := router.Group("/", middleware.AuthMiddleware(opts.Verifiers...), middleware.RequireStaff())
	{
		staff.GET("/complaints", h.Complaints.ListComplaints)
		staff.GET("/complaints/:id", h.Complaints.GetComplaint)
		staff.PATCH("/complaints/:id/status", h.Complaints.UpdateStatus)
		staff.GET("/complaints/:id/history", h.Complaints.GetHistory)
		staff.GET("/complaints/:id/sla", h.Complaints.GetSLA)
		staff.POST("/complaints/:id/resolution-image/presign", h.Complaints.PresignResolutionImage)
		staff.GET("/civic-issues/:city", h.Complaints.GetCivicIssue)
	}

	// Admin only
	admin := router.Group("/notifications", middleware.AuthMiddleware(opts.Verifiers...), middleware.AdminOnly())
	{
		admin.GET("/logs", h.Notifications.GetNotificationLogs)
	}
}
