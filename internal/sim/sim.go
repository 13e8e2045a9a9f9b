// Package sim is an in-process simulation of the vendor's application
// platform: the OAuth2 token endpoint, the management control plane
// (resource groups, plans, sites, functions), and the per-site data plane
// (file uploads, invocations, live log streaming). The probe's e2e suite
// and local walkthroughs run against it instead of a real subscription.
package sim

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultReadyDelay is how long a plan, site, or delete operation sits
	// in the Accepted/InProgress state before completing.
	DefaultReadyDelay = 2 * time.Second
	// DefaultHeartbeatInterval paces the idle lines on an open log stream.
	DefaultHeartbeatInterval = 30 * time.Second
)

// Options configures a simulator instance.
type Options struct {
	// Addr to listen on. Defaults to 127.0.0.1:0.
	Addr string
	// ClientID and ClientSecret, when set, are required by the token
	// endpoint. Empty means any client is accepted.
	ClientID     string
	ClientSecret string
	// ReadyDelay overrides DefaultReadyDelay.
	ReadyDelay time.Duration
	// HeartbeatInterval overrides DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	// Logf receives simulator diagnostics. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Server is one simulator instance.
type Server struct {
	opts    Options
	state   *vendorState
	metrics *simMetrics

	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	logf     func(format string, args ...any)
}

// NewServer builds a simulator. Call Start to begin serving.
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.ReadyDelay <= 0 {
		opts.ReadyDelay = DefaultReadyDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:    opts,
		metrics: newSimMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		logf:    logf,
	}
	s.state = newVendorState(opts.ReadyDelay, s.BaseURL)
	return s
}

// Start binds the listener and begins serving.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.countRequests())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	r.POST("/login/:tenant/oauth2/token", s.handleToken)

	mgmt := r.Group("/", s.requireBearer())
	{
		groups := mgmt.Group("/subscriptions/:sub/resourcegroups/:rg")
		groups.PUT("", s.handlePutGroup)
		groups.GET("", s.handleGetGroup)
		groups.DELETE("", s.handleDeleteGroup)

		provider := groups.Group("/providers/App.Hosting")
		provider.PUT("/plans/:plan", s.handlePutPlan)
		provider.GET("/plans/:plan", s.handleGetPlan)
		provider.PUT("/sites/:site", s.handlePutSite)
		provider.GET("/sites/:site", s.handleGetSite)
		provider.PUT("/sites/:site/functions/:fn", s.handlePutFunction)
		provider.POST("/sites/:site/publishcredentials/list", s.handlePublishCreds)

		mgmt.GET("/operations/:op", s.handleOperation)
	}

	scm := r.Group("/scm/:site", s.requireSCMAuth())
	scm.PUT("/api/vfs/*filepath", s.handleUpload)
	scm.POST("/api/functions/synctriggers", s.handleSyncTriggers)
	scm.GET("/api/logstream", s.handleLogStream)

	r.POST("/apps/:site/api/:fn", s.handleInvoke)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logf("sim: vendor api listening on %s", listener.Addr())

	go s.server.Serve(listener)
	return nil
}

// Stop shuts the simulator down, ending any open log streams.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the active listen address. Before Start, it returns the
// configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// BaseURL is the management and data-plane endpoint.
func (s *Server) BaseURL() string {
	return "http://" + s.Addr()
}

// AuthURL is the login endpoint the token request goes to.
func (s *Server) AuthURL() string {
	return s.BaseURL() + "/login"
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		const prefix = "Bearer "
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, prefix) || !s.state.tokenValid(strings.TrimPrefix(h, prefix)) {
			vendorError(c, http.StatusUnauthorized, "InvalidAuthenticationToken", "missing or expired bearer token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requireSCMAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok || !s.state.scmAuthValid(c.Param("site"), user, pass) {
			c.Header("WWW-Authenticate", `Basic realm="scm"`)
			c.String(http.StatusUnauthorized, "basic auth required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func vendorError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
