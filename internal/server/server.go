// Package server serves the blend form, the blend API with websocket
// progress, and the feed of published blends.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/blend"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/feed"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/page"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/store"
)

var (
	errBusy        = errors.New("server is busy, try again later")
	errRateLimited = errors.New("too many requests")
)

// Request is the body of a blend request, as JSON or as a form.
type Request struct {
	PromptA  string   `json:"prompt_a" form:"prompt_a"`
	PromptB  string   `json:"prompt_b" form:"prompt_b"`
	Alpha    *float64 `json:"alpha" form:"alpha" binding:"omitempty,gte=0,lte=1"`
	Guidance *float64 `json:"guidance" form:"guidance" binding:"omitempty,gte=1,lte=15"`
	Seed     int64    `json:"seed" form:"seed" binding:"gte=0,lte=2147483647"`
}

func (r Request) params() blend.Params {
	return blend.Params{
		PromptA:  r.PromptA,
		PromptB:  r.PromptB,
		Alpha:    lo.FromPtrOr(r.Alpha, blend.DefaultAlpha),
		Guidance: lo.FromPtrOr(r.Guidance, blend.DefaultGuidance),
		Seed:     r.Seed,
	}
}

type Server struct {
	pipeline  *model.Pipeline
	templator *page.Templator
	feed      *feed.Generator

	queue   *semaphore.Weighted
	limiter *rate.Limiter
}

// NewServer serves the feed only when publishing is configured.
func NewServer(i *do.Injector) (*Server, error) {
	generator, err := do.Invoke[*feed.Generator](i)
	if errors.Is(err, store.ErrNotConfigured) {
		generator = nil
	} else if err != nil {
		return nil, err
	}

	r := do.MustInvokeNamed[float64](i, "rate")
	return &Server{
		pipeline:  do.MustInvoke[*model.Pipeline](i),
		templator: do.MustInvoke[*page.Templator](i),
		feed:      generator,
		queue:     semaphore.NewWeighted(1),
		limiter:   rate.NewLimiter(rate.Limit(r), max(1, int(r))+1),
	}, nil
}

func contextLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(log.NewContext(c.Request.Context(), logger))
		c.Next()
		logger.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

// Routes builds the router. Requests log through the logger in ctx.
func (s *Server) Routes(ctx context.Context) http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Content-Type", "Accept", "X-Requested-With"}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		cors.New(corsConfig),
		contextLogger(log.FromContextOrDiscard(ctx).WithGroup("server")),
	)

	r.GET("/", s.FormHandler)
	r.GET("/healthz", s.HealthHandler)
	r.GET("/feed.xml", s.FeedHandler)
	r.POST("/api/blend", s.BlendHandler)
	r.GET("/api/blend/stream", s.StreamHandler)
	return r
}

func (s *Server) FormHandler(c *gin.Context) {
	html, err := s.templator.Form(c.Request.Context(), page.FormParams{
		Model:     s.pipeline.Name(),
		Device:    s.pipeline.Device().Name,
		Precision: string(s.pipeline.Precision()),
		Steps:     blend.Steps,
		Alpha:     blend.DefaultAlpha,
		Guidance:  blend.DefaultGuidance,
		Seed:      42,
		MaxSeed:   blend.MaxSeed,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"model":     s.pipeline.Name(),
		"backend":   s.pipeline.Backend(),
		"device":    s.pipeline.Device(),
		"precision": s.pipeline.Precision(),
		"scheduler": s.pipeline.SchedulerConfig().ClassName,
		"steps":     blend.Steps,
	})
}

func (s *Server) FeedHandler(c *gin.Context) {
	if s.feed == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": store.ErrNotConfigured.Error()})
		return
	}
	rss, err := s.feed.Generate(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", rss)
}

func status(err error) int {
	switch {
	case errors.Is(err, blend.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errBusy), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// generate runs one blend at a time. Waiting for the queue ends when ctx
// does.
func (s *Server) generate(ctx context.Context, params blend.Params, opts ...blend.Option) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !s.limiter.Allow() {
		return nil, errRateLimited
	}

	log := log.FromContextOrDiscard(ctx).With("params", params)
	log.Info("queued")
	if err := s.queue.Acquire(ctx, 1); err != nil {
		log.Info("left the queue", "error", err)
		return nil, errBusy
	}
	defer s.queue.Release(1)

	start := time.Now()
	img, err := blend.Generate(ctx, s.pipeline, params, opts...)
	if err != nil {
		return nil, err
	}
	log.Info("generated", "duration", time.Since(start))
	return blend.EncodePNG(img)
}

func (s *Server) BlendHandler(c *gin.Context) {
	var req Request
	if err := c.ShouldBind(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := req.params()
	png, err := s.generate(c.Request.Context(), params)
	if err != nil {
		c.AbortWithStatusJSON(status(err), gin.H{"error": err.Error()})
		return
	}

	if ok, _ := strconv.ParseBool(c.Query("download")); ok {
		c.Header("Content-Disposition", `attachment; filename="blend-`+strconv.FormatInt(params.Seed, 10)+`.png"`)
	}
	c.Data(http.StatusOK, "image/png", png)
}

// Serve blocks until ctx is cancelled and then shuts the server down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	log := log.FromContextOrDiscard(ctx)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:     s.Routes(ctx),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	log.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
