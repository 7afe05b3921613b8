package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tadast/signonotron2/internal/config"
	"github.com/tadast/signonotron2/internal/http/handler"
	httpmiddleware "github.com/tadast/signonotron2/internal/http/middleware"
	"github.com/tadast/signonotron2/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, accountHandler *handler.AccountHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.POST("/signin", accountHandler.SignIn)
	r.POST("/signout", authMiddleware.RequireActor, accountHandler.SignOut)

	passphrase := r.Group("/passphrase")
	{
		passphrase.POST("/forgot", accountHandler.ForgotPassphrase)
		passphrase.GET("/reset", accountHandler.LoadPassphraseReset)
		passphrase.POST("/reset", accountHandler.CompletePassphraseReset)
		passphrase.POST("/change", authMiddleware.RequireActor, accountHandler.ChangePassphrase)
	}

	users := r.Group("/users", authMiddleware.RequireActor)
	{
		users.GET("/:id/event-logs", accountHandler.EventLogs)
		users.POST("/:id/unlock", accountHandler.Unlock)
		users.POST("/:id/suspend", accountHandler.Suspend)
		users.POST("/:id/unsuspend", accountHandler.Unsuspend)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
