package collector

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Server struct {
	collector *Collector
	log       *zap.Logger
	gatherer  prometheus.Gatherer
	listLimit int
	now       func() time.Time
}

// NewServer wires the HTTP surface. gatherer may be nil, which disables /metrics.
func NewServer(c *Collector, log *zap.Logger, gatherer prometheus.Gatherer, listLimit int) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if listLimit <= 0 {
		listLimit = DefaultListLimit
	}
	return &Server{collector: c, log: log, gatherer: gatherer, listLimit: listLimit, now: time.Now}
}

// Router returns the gin engine serving the collector endpoints.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(recoverer(s.log), requestLogger(s.log))

	r.POST("/webhook", s.handleWebhook)
	r.GET("/events", s.handleEvents)
	r.GET("/download", s.handleDownload)
	r.GET("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func errorBody(msg string) gin.H {
	return gin.H{"status": "error", "message": msg}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := httpStatusFor(err)
	_ = c.Error(err)
	if status >= 500 {
		s.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, errorBody(err.Error()))
}

func (s *Server) handleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		s.respondError(c, &ValidationError{Reason: "cannot read body: " + err.Error()})
		return
	}
	ev, err := s.collector.Ingest(c.Request.Context(), body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "id": ev.ID})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := s.listLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.respondError(c, &ValidationError{Reason: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := s.collector.Recent(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if events == nil {
		events = []Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleDownload(c *gin.Context) {
	events, err := s.collector.All(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, events); err != nil {
		s.log.Error("build export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("export failed"))
		return
	}
	filename := ExportFilename(s.now())
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, ExportContentType, buf.Bytes())
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.collector.Healthy(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, errorBody("database unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
