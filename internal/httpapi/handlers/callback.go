package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgemedia/creator-platform/internal/generation"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SharedSecretHeader authenticates the external workflow engine.
const SharedSecretHeader = "X-Shared-Secret"

type callbackReq struct {
	EntityID string          `json:"entity_id"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// callbackResp is the fixed shape the engine expects; it does not use the
// standard envelope.
type callbackResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Callback ingests a completion push from the external engine. Fail-closed:
// a server with no configured secret rejects every callback rather than
// accepting unauthenticated ones. The shared secret is the only trust
// boundary; there is no ownership check.
func (h *Handler) Callback(svc *generation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := h.Cfg.CallbackSecret
		if secret == "" {
			c.JSON(http.StatusInternalServerError, callbackResp{
				Success: false,
				Message: "callback secret not configured",
			})
			return
		}
		provided := c.GetHeader(SharedSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.JSON(http.StatusUnauthorized, callbackResp{
				Success: false,
				Message: "invalid shared secret",
			})
			return
		}

		var req callbackReq
		if err := c.ShouldBindJSON(&req); err != nil || req.EntityID == "" {
			c.JSON(http.StatusBadRequest, callbackResp{
				Success: false,
				Message: "entity_id required",
			})
			return
		}

		entity, err := svc.ApplyCallback(c.Request.Context(), req.EntityID, req.Result, req.Error)
		if err != nil {
			var verr *generation.ValidationError
			switch {
			case errors.As(err, &verr):
				c.JSON(http.StatusBadRequest, callbackResp{Success: false, Message: verr.Msg})
			case errors.Is(err, gorm.ErrRecordNotFound):
				c.JSON(http.StatusNotFound, callbackResp{Success: false, Message: "entity not found"})
			case errors.Is(err, generation.ErrInvalidTransition):
				c.JSON(http.StatusConflict, callbackResp{Success: false, Message: "entity already finalized"})
			default:
				c.JSON(http.StatusInternalServerError, callbackResp{Success: false, Message: "internal error"})
			}
			return
		}

		c.JSON(http.StatusOK, callbackResp{
			Success: true,
			Message: "entity " + entity.ID + " updated to " + string(entity.Status),
		})
	}
}
