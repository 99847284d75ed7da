package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seb7887/gofw/stillsuit"
)

type Route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
}

// SetupRouter registers routes behind middlewares. The last middleware given
// is the outermost one.
func SetupRouter(routes []Route, middlewares ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	for i := len(middlewares) - 1; i >= 0; i-- {
		router.Use(middlewares[i])
	}
	for _, route := range routes {
		router.Handle(route.Method, route.Path, route.Handler)
	}
	return router
}

// ServiceRouter runs every route in its own unit of work. From the outside
// in: panic recovery, request logging, error formatting, unit of work.
func ServiceRouter(reg *stillsuit.Registry, logger hclog.Logger, routes []Route, opts ...stillsuit.ScopeOption) *gin.Engine {
	return SetupRouter(routes,
		UnitOfWorkMiddleware(reg, opts...),
		ErrorFormatterMiddleware(),
		LoggerMiddleware(logger),
		gin.Recovery(),
	)
}

// HealthRoute reports the storage driver in use
func HealthRoute(driver string) Route {
	return Route{
		Method: http.MethodGet,
		Path:   "/health",
		Handler: func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"health": "ok", "driver": driver})
		},
	}
}

// MetricsRoute exposes the default Prometheus registry
func MetricsRoute() Route {
	return Route{Method: http.MethodGet, Path: "/metrics", Handler: gin.WrapH(promhttp.Handler())}
}
