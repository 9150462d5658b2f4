package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesaga/internal/handler"
	"ridesaga/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler  *handler.RideHandler
	RedisClient  *redis.Client
	NewRelicApp  *newrelic.Application
	AllowOrigins []string
	Logger       logrus.FieldLogger
}

// NewRouter creates the intake router.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware(deps.AllowOrigins))

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.Use(middleware.CorrelationMiddleware())
	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))

	router.GET("/health", handler.Health)

	rides := router.Group("/rides")
	{
		rides.POST("", deps.RideHandler.CreateRide)
		rides.GET("/:id", deps.RideHandler.GetRide)
	}

	router.NoRoute(handler.NotFound)

	return router
}
