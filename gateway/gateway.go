package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/discovery"
	"github.com/example/storefront/pkg/httpx"
	"github.com/example/storefront/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const apiPrefix = "/api"

// Gateway is the single public entry point. It strips the /api prefix and
// forwards each request to the service that owns the path.
type Gateway struct {
	config    *config.Config
	discovery discovery.Discoverer
	logger    *zap.Logger
	metrics   *metrics.Metrics
	router    *gin.Engine
	transport http.RoundTripper
}

// NewGateway accepts a nil discoverer, in which case the static upstream URLs
// from the gateway config are used. m may be nil.
func NewGateway(cfg *config.Config, logger *zap.Logger, disc discovery.Discoverer, m *metrics.Metrics) *Gateway {
	return &Gateway{
		config:    cfg,
		discovery: disc,
		logger:    logger,
		metrics:   m,
		router:    httpx.NewRouter(logger, m),
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", httpx.Health)
	if g.metrics != nil {
		g.router.GET("/metrics", gin.WrapH(g.metrics.Handler()))
	}

	gw := g.config.Gateway
	users := g.proxy(discovery.NewResolver(g.discovery, gw.UserServiceName, gw.UserServiceURL, g.logger))
	products := g.proxy(discovery.NewResolver(g.discovery, gw.ProductServiceName, gw.ProductServiceURL, g.logger))

	api := g.router.Group(apiPrefix)
	{
		api.Any("/auth/*path", users)
		api.Any("/users/*path", users)
		api.Any("/products/*path", products)
		api.Any("/orders/*path", products)
	}
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

// proxy forwards to whatever base URL the resolver yields at request time, so
// instances registered in etcd are picked up without a restart.
func (g *Gateway) proxy(resolver *discovery.Resolver) gin.HandlerFunc {
	rp := &httputil.ReverseProxy{
		Transport: g.transport,
		Rewrite: func(r *httputil.ProxyRequest) {
			target, err := url.Parse(resolver.BaseURL(r.In.Context()))
			if err != nil {
				g.logger.Error("Invalid upstream address", zap.Error(err))
				target = &url.URL{}
			}
			r.Out.URL.Scheme = target.Scheme
			r.Out.URL.Host = target.Host
			r.Out.URL.Path = strings.TrimPrefix(r.In.URL.Path, apiPrefix)
			r.Out.URL.RawPath = ""
			r.Out.Host = ""
			r.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.logger.Warn("Upstream request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream service unavailable"}`))
		},
	}

	return func(c *gin.Context) {
		c.Request.Header.Set(httpx.RequestIDHeader, httpx.GetRequestID(c))
		rp.ServeHTTP(c.Writer, c.Request)
	}
}
