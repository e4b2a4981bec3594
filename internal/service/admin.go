package service

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/tdispd/internal/auth"
	"github.com/danmuck/tdispd/internal/observability"
	"github.com/danmuck/tdispd/internal/tdi"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

type faultRequest struct {
	Reason string `json:"reason"`
}

// Router builds the admin API. Mutating routes require the configured
// bearer token when one is set.
func (s *Service) Router() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.ID,
			"device":  s.host.Device(),
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		ready := s.ready.Load()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.ID,
			"version": version,
		})
	})

	r.GET("/interfaces", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"interfaces": s.host.Interfaces()})
	})

	r.GET("/interfaces/:function_id", func(c *gin.Context) {
		id, ok := functionIDParam(c)
		if !ok {
			return
		}
		view, err := s.host.Interface(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	control := r.Group("/interfaces/:function_id")
	if s.cfg.AdminToken != "" {
		control.Use(auth.RequireBearer(auth.StaticToken{Token: s.cfg.AdminToken}))
	}

	control.POST("/fault", func(c *gin.Context) {
		id, ok := functionIDParam(c)
		if !ok {
			return
		}
		var req faultRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "operator fault"
		}
		view, err := s.host.Fault(c.Request.Context(), id, req.Reason)
		respondControl(c, view, err)
	})

	control.POST("/reset", func(c *gin.Context) {
		id, ok := functionIDParam(c)
		if !ok {
			return
		}
		view, err := s.host.Reset(c.Request.Context(), id)
		respondControl(c, view, err)
	})

	return r
}

// functionIDParam accepts decimal or 0x-prefixed hex.
func functionIDParam(c *gin.Context) (uint32, bool) {
	raw := c.Param("function_id")
	id, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid function_id: " + raw})
		return 0, false
	}
	return uint32(id), true
}

func respondControl(c *gin.Context, view InterfaceView, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, view)
	case errors.Is(err, ErrUnknownInterface):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, tdi.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "interface": view})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "interface": view})
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
