package httpapi

import (
	"net/http"

	"github.com/forgemedia/creator-platform/internal/common"
	"github.com/forgemedia/creator-platform/internal/config"
	"github.com/forgemedia/creator-platform/internal/generation"
	"github.com/forgemedia/creator-platform/internal/httpapi/handlers"
	"github.com/forgemedia/creator-platform/internal/httpapi/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, campaigns, plans, research *generation.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(cors.Default())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, campaigns, plans, research)

	r.GET("/ping", h.Ping)

	// users
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUserByID)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// one route block per variant; the webhook sits outside the auth group
	// since the engine authenticates with the shared secret instead
	mount := func(prefix string, svc *generation.Service) {
		g := authGroup.Group(prefix)
		g.POST("/launch", h.Launch(svc))
		g.GET("/entities", h.ListEntities(svc))
		g.GET("/entities/:id", h.GetEntity(svc))
		g.GET("/entities/:id/status", h.EntityStatus(svc))
		if svc.Variant().AllowCancel {
			g.POST("/entities/:id/cancel", h.CancelEntity(svc))
		}
		if svc.Variant().Review {
			g.POST("/entities/:id/approve", h.ApproveEntity(svc))
		}
		r.POST(prefix+"/webhook/callback", h.Callback(svc))
	}

	mount("/campaigns", campaigns)
	mount("/plans", plans)
	mount("/research", research)

	return r
}
