package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/services"
)

type NotificationController struct {
	dispatcher *services.Dispatcher
	tokens     *services.TokenService
	logger     *zap.Logger
}

func NewNotificationController(dispatcher *services.Dispatcher, tokens *services.TokenService, logger *zap.Logger) *NotificationController {
	return &NotificationController{dispatcher: dispatcher, tokens: tokens, logger: logger}
}

// SendNotification is the callable manual send. Citizens may only message
// themselves.
func (nc *NotificationController) SendNotification(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req models.CustomNotificationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.InvalidArgument("malformed request body"))
		return
	}
	if !p.IsStaff() && req.UserID != "" && req.UserID != p.UserID {
		ctx.Error(apperrors.PermissionDenied("cannot send notifications to other users"))
		return
	}

	resp, err := nc.dispatcher.SendCustom(ctx.Request.Context(), req)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			nc.logger.Error("manual notification failed",
				zap.String("user_id", req.UserID),
				zap.String("complaint_id", req.ComplaintID),
				zap.String("requested_by", p.UserID),
				zap.Error(err),
			)
		}
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

func (nc *NotificationController) GetNotificationLogs(ctx *gin.Context) {
	filter := models.NotificationFilter{
		UserID:      ctx.Query("userId"),
		ComplaintID: ctx.Query("complaintId"),
		Status:      ctx.Query("status"),
		Type:        ctx.Query("type"),
		Limit:       parseLimit(ctx),
	}
	logs, err := nc.dispatcher.GetLogs(ctx.Request.Context(), filter)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": logs, "count": len(logs)})
}

func (nc *NotificationController) RegisterToken(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req models.RegisterTokenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.InvalidArgument(err.Error()))
		return
	}
	t, err := nc.tokens.Register(ctx.Request.Context(), p.UserID, req)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, t)
}

func (nc *NotificationController) DeactivateTokens(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	n, err := nc.tokens.Deactivate(ctx.Request.Context(), p.UserID)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deactivated": n})
}
