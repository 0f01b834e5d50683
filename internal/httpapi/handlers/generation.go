package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/forgemedia/creator-platform/internal/common"
	"github.com/forgemedia/creator-platform/internal/credits"
	"github.com/forgemedia/creator-platform/internal/generation"
	"github.com/forgemedia/creator-platform/internal/httpapi/middleware"
	"github.com/forgemedia/creator-platform/internal/models"
	"github.com/forgemedia/creator-platform/internal/plan"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// currentUser loads the authenticated user row; missing or deactivated
// accounts read as unauthorized. Writes the error response itself.
func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40100, "missing bearer token")
		return nil, false
	}
	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("id = ? AND is_active = ?", id, true).
		First(&user).Error
	if err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "account not found or disabled")
		return nil, false
	}
	return &user, true
}

// failGeneration maps domain errors onto the envelope. Payment and plan
// failures carry machine-readable detail so clients can prompt an upgrade
// or a credit purchase.
func failGeneration(c *gin.Context, err error) {
	var verr *generation.ValidationError
	if errors.As(err, &verr) {
		common.Fail(c, http.StatusBadRequest, 10010, verr.Msg)
		return
	}
	var ferr *plan.ForbiddenError
	if errors.As(err, &ferr) {
		common.FailWithData(c, http.StatusForbidden, 40300, ferr.Error(), gin.H{
			"feature":       ferr.Feature,
			"required_tier": ferr.RequiredTier,
		})
		return
	}
	var ierr *credits.InsufficientError
	if errors.As(err, &ierr) {
		common.FailWithData(c, http.StatusPaymentRequired, 40201, "insufficient credits", gin.H{
			"required":  ierr.Required,
			"available": ierr.Available,
		})
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusNotFound, 40402, "not found")
		return
	}
	if errors.Is(err, generation.ErrInvalidTransition) {
		common.Fail(c, http.StatusConflict, 40900, "entity is not in a state that allows this operation")
		return
	}
	if errors.Is(err, generation.ErrOperationNotSupported) {
		common.Fail(c, http.StatusBadRequest, 10011, err.Error())
		return
	}
	common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
}

// Launch accepts the raw variant payload and returns 202 with the entity id.
// A dispatch failure after the credits committed still answers 202; the
// entity shows up FAILED on the status endpoint.
func (h *Handler) Launch(svc *generation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.currentUser(c)
		if !ok {
			return
		}
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil || len(raw) == 0 {
			common.Fail(c, http.StatusBadRequest, 10001, "request body required")
			return
		}

		entity, estimated, err := svc.Launch(c.Request.Context(), user, raw)
		if err != nil {
			failGeneration(c, err)
			return
		}

		common.Accepted(c, gin.H{
			"entity_id":            entity.ID,
			"status":               entity.Status,
			"estimated_completion": estimated,
			"credits":              credits.Balances(user),
		})
	}
}

func (h *Handler) ListEntities(svc *generation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.currentUser(c)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		items, err := svc.List(c.Request.Context(), user.ID, limit, offset)
		if err != nil {
			failGeneration(c, err)
			return
		}
		common.OK(c, gin.H{"items": items, "count": len(items)})
	}
}

func (h *Handler) GetEntity(svc *generation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.currentUser(c)
		if !ok {
			return
		}
		entity, err := svc.Get(c.Request.Context(), user.ID, c.Param("id"))
		if err != nil {
			failGeneration(c, err)
			return
		}
		common.OK(c, entity)
	}
}

func (h *Handler) EntityStatus(svc *generation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.currentUser(c)
		if !ok {
			return
		}
		view, err := svc.Status(c.Request.Context(), user.ID, c.Param("id"))
		if err != nil {
			failGeneration(c, err)
			return
		}
		common.OK(c, view)
	}
}

func (h *Handler) CancelEntity(svc *generation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.currentUser(c)
		if !ok {
			return
		}
		entity, err := svc.Cancel(c.Request.Context(), user.ID, c.Param("id"))
		if err != nil {
			failGeneration(c, err)
			return
		}
		common.OK(c, entity)
	}
}

func (h *Handler) ApproveEntity(svc *generation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.currentUser(c)
		if !ok {
			return
		}
		entity, err := svc.Approve(c.Request.Context(), user.ID, c.Param("id"))
		if err != nil {
			failGeneration(c, err)
			return
		}
		common.OK(c, entity)
	}
}
