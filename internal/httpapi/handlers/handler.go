package handlers

import (
	"github.com/forgemedia/creator-platform/internal/common"
	"github.com/forgemedia/creator-platform/internal/config"
	"github.com/forgemedia/creator-platform/internal/generation"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler carries the injected dependencies for every endpoint. Services
// are built by the caller (cmd/server) and passed in, never constructed
// here, so tests can swap queue and status stores for fakes.
type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	Campaigns *generation.Service
	Plans     *generation.Service
	Research  *generation.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, campaigns, plans, research *generation.Service) *Handler {
	return &Handler{
		DB:        db,
		Cfg:       cfg,
		Campaigns: campaigns,
		Plans:     plans,
		Research:  research,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
