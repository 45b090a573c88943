package router

import (
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/config"
	_ "github.com/d60-Lab/followgraph/docs"
	"github.com/d60-Lab/followgraph/internal/api/handler"
	"github.com/d60-Lab/followgraph/internal/api/middleware"
	"github.com/d60-Lab/followgraph/pkg/jwt"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

// Setup 组装 gin 引擎
func Setup(cfg *config.Config, h *handler.Handler, tokens *jwt.Manager) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Sentry.DSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(accessLog())

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/users", h.CreateUser)

		entities := v1.Group("/entities/:identifier/:object_id")
		{
			entities.GET("/followers", h.ListFollowers)
			entities.GET("/followings", h.ListFollowings)
			entities.GET("/friends", h.ListFriends)
			entities.GET("/counts", h.Counts)
			entities.GET("/timeline", h.PublicTimeline)
		}

		authed := v1.Group("")
		authed.Use(middleware.Auth(tokens))
		{
			authed.POST("/relations/follow", h.Follow)
			authed.POST("/relations/unfollow", h.Unfollow)
			authed.GET("/relations/is_following", h.IsFollowing)

			authed.GET("/timeline", h.PrivateTimeline)
			authed.GET("/timeline/unread", h.Unread)
			authed.POST("/timeline/read", h.MarkAsRead)

			authed.POST("/projects", h.CreateProject)
			authed.POST("/posts", h.Publish)
		}
	}
	return r
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Int("status", c.Writer.Status()),
				zap.Strings("errors", c.Errors.Errors()))
			return
		}
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}
