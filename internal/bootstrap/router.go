package bootstrap

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	httpapi "github.com/CohortBias-25-26J/cohort-bias-backend/internal/api/http"
	cohortapi "github.com/CohortBias-25-26J/cohort-bias-backend/internal/api/http/cohorts"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/api/http/middleware"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	APIKey      string
	Engine      *cohorts.Engine
	Logger      *zap.Logger
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.Use(middleware.RequestIDMiddleware(dep.Logger))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.Engine)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(middleware.APIKeyMiddleware(dep.APIKey))

	cohortapi.Register(api.Group("/cohorts"), dep.Engine, dep.Logger)
	cohortapi.RegisterCompare(api, dep.Engine, dep.Logger)

	return r
}

func SetGinMode(env string) {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
}
