package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fretwise/fretwise/internal/common"
	"github.com/fretwise/fretwise/internal/config"
	"github.com/fretwise/fretwise/internal/httpapi/handlers"
	"github.com/fretwise/fretwise/internal/httpapi/middleware"
	"github.com/fretwise/fretwise/internal/ratelimit"
	"github.com/fretwise/fretwise/internal/store/rabbitmq"
)

func NewRouter(gdb *gorm.DB, cfg config.Config, limiter ratelimit.Limiter, rabbit *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(gdb, cfg, limiter, rabbit)

	r.GET("/ping", h.Ping)

	// users + auth
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// AI relay (JWT required)
	authGroup.POST("/assist/chat", h.Chat)
	authGroup.POST("/assist/chat/stream", h.ChatStream)
	authGroup.POST("/assist/songs/:song_id/analyze", h.AnalyzeSong)
	authGroup.POST("/assist/songs/:song_id/suggest", h.SuggestSection)
	authGroup.POST("/assist/practice/insights", h.PracticeInsights)
	authGroup.GET("/assist/conversations/:conversation_id/messages", h.ListConversationTurns)
	authGroup.DELETE("/assist/conversations/:conversation_id", h.DeleteConversation)
	authGroup.POST("/assist/analyses", h.CreateAnalysisJob)
	authGroup.GET("/assist/analyses/:job_id", h.GetAnalysisJob)

	return r
}
