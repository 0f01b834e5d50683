package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/forgemedia/creator-platform/internal/auth"
	"github.com/forgemedia/creator-platform/internal/common"
	"github.com/forgemedia/creator-platform/internal/credits"
	"github.com/forgemedia/creator-platform/internal/models"
	"github.com/forgemedia/creator-platform/internal/plan"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type createUserReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Tier     string `json:"tier"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email, username and password required")
		return
	}
	if len(req.Password) < 8 {
		common.Fail(c, http.StatusBadRequest, 10005, "password must be at least 8 characters")
		return
	}

	tier := models.TierStarter
	if req.Tier != "" {
		tier = models.Tier(req.Tier)
		if !tier.Valid() {
			common.Fail(c, http.StatusBadRequest, 10006, "unknown tier")
			return
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	// Signup grants the tier's monthly allotment up front; renewals reset
	// the monthly buckets to these same numbers.
	base := plan.Base(tier)
	user := models.User{
		Email:               req.Email,
		Username:            req.Username,
		PasswordHash:        hash,
		Tier:                tier,
		SubscriptionStatus:  models.SubscriptionActive,
		MonthlyCreditsVideo: base.MonthlyVideoCredits,
		MonthlyCreditsImage: base.MonthlyImageCredits,
		IsActive:            true,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create user (maybe email or username already exists)")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
		"tier":     user.Tier,
		"token":    token,
	})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("email = ? AND is_active = ?", req.Email, true).
		First(&user).Error
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid email or password")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"id":    user.ID,
		"token": token,
	})
}

func (h *Handler) GetUserByID(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user id")
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"tier":       user.Tier,
		"created_at": user.CreatedAt,
	})
}

// Me returns the caller's profile with the merged feature set and both
// credit ledgers, which is what clients gate their UI on.
func (h *Handler) Me(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	common.OK(c, gin.H{
		"id":                  user.ID,
		"email":               user.Email,
		"username":            user.Username,
		"tier":                user.Tier,
		"subscription_status": user.SubscriptionStatus,
		"features":            plan.Effective(user),
		"credits":             credits.Balances(user),
		"created_at":          user.CreatedAt,
	})
}
