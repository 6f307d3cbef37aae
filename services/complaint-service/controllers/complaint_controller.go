package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/middleware"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/services"
)

type ComplaintController struct {
	complaints *services.ComplaintService
	status     *services.StatusService
	logger     *zap.Logger
}

func NewComplaintController(complaints *services.ComplaintService, status *services.StatusService, logger *zap.Logger) *ComplaintController {
	return &ComplaintController{complaints: complaints, status: status, logger: logger}
}

const (
	maxPageSize     = 500
	defaultPageSize = 100
)

func parseLimit(ctx *gin.Context) int {
	limit := defaultPageSize
	if l, err := strconv.Atoi(ctx.Query("limit")); err == nil && l > 0 {
		limit = l
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}
	return limit
}

func principal(ctx *gin.Context) (models.Principal, bool) {
	p, ok := middleware.GetPrincipal(ctx)
	if !ok {
		ctx.Error(apperrors.Unauthenticated("authentication required"))
	}
	return p, ok
}

func (cc *ComplaintController) CreateComplaint(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req models.CreateComplaintRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.InvalidArgument(err.Error()))
		return
	}
	c, err := cc.complaints.Create(ctx.Request.Context(), p, req)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusCreated, c)
}

func (cc *ComplaintController) ListComplaints(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	filter := models.ComplaintFilter{
		Department: ctx.Query("department"),
		Limit:      parseLimit(ctx),
	}
	if s := ctx.Query("status"); s != "" {
		filter.Statuses = strings.Split(s, ",")
	}
	list, err := cc.complaints.List(ctx.Request.Context(), p, filter)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}

func (cc *ComplaintController) GetComplaint(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	c, err := cc.complaints.Get(ctx.Request.Context(), p, ctx.Param("id"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, c)
}

func (cc *ComplaintController) UpdateStatus(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req models.UpdateStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.InvalidArgument(err.Error()))
		return
	}

	c, err := cc.status.UpdateStatus(ctx.Request.Context(), services.UpdateStatusInput{
		ComplaintID:     ctx.Param("id"),
		Status:          req.Status,
		UpdatedBy:       p.UserID,
		AssignedTo:      req.AssignedTo,
		Department:      req.Department,
		ResolutionNotes: req.ResolutionNotes,
		ResolutionImage: req.ResolutionImage,
		Notes:           req.Notes,
		Actor:           p,
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			cc.logger.Error("status update failed",
				zap.String("complaint_id", ctx.Param("id")),
				zap.String("requested_by", p.UserID),
				zap.Error(err),
			)
		}
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, c)
}

func (cc *ComplaintController) GetHistory(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	history, err := cc.complaints.History(ctx.Request.Context(), p, ctx.Param("id"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": history})
}

func (cc *ComplaintController) GetSLA(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	st, err := cc.complaints.SLA(ctx.Request.Context(), p, ctx.Param("id"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, st)
}

type presignRequest struct {
	ContentType string `json:"contentType" binding:"required"`
}

func (cc *ComplaintController) PresignResolutionImage(ctx *gin.Context) {
	p, ok := principal(ctx)
	if !ok {
		return
	}
	var req presignRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.InvalidArgument(err.Error()))
		return
	}
	up, err := cc.complaints.PresignResolutionUpload(ctx.Request.Context(), p, ctx.Param("id"), req.ContentType)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, up)
}

func (cc *ComplaintController) GetCivicIssue(ctx *gin.Context) {
	ci, err := cc.complaints.CivicIssue(ctx.Request.Context(), ctx.Param("city"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, ci)
}
