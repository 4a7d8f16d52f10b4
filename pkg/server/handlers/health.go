package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// Build information - can be set at build time using ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

const serviceName = "piqa"

// HealthHandler handles health check requests
type HealthHandler struct {
	encoder  QueryEncoder
	searcher PhraseSearcher
	started  time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(encoder QueryEncoder, searcher PhraseSearcher) *HealthHandler {
	return &HealthHandler{encoder: encoder, searcher: searcher, started: time.Now()}
}

// HealthCheck handles GET /health - basic liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// LivenessCheck handles GET /live - Kubernetes liveness check endpoint
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// checkEncoder encodes a fixed sample question.
func (h *HealthHandler) checkEncoder(ctx context.Context) (gin.H, bool) {
	if h.encoder == nil {
		return gin.H{"status": "unhealthy", "error": "model not loaded"}, false
	}
	start := time.Now()
	vec, err := h.encoder.EncodeQuery(ctx, "health check")
	status := gin.H{"duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		status["status"] = "unhealthy"
		status["error"] = err.Error()
		return status, false
	}
	status["status"] = "healthy"
	status["dimensions"] = len(vec)
	return status, true
}

func (h *HealthHandler) phraseStatus() gin.H {
	if h.searcher == nil {
		return gin.H{"status": "disabled"}
	}
	return gin.H{"status": "healthy", "phrases": h.searcher.Len()}
}

// ReadinessCheck handles GET /ready
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	encoder, ok := h.checkEncoder(ctx)
	response := gin.H{
		"status":    "ready",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"encoder": encoder,
			"phrases": h.phraseStatus(),
			"system":  gin.H{"status": "healthy", "uptime": time.Since(h.started).String()},
		},
	}
	if !ok {
		response["status"] = "not_ready"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// DetailedHealthCheck handles GET /health/detailed - comprehensive health information
func (h *HealthHandler) DetailedHealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	start := time.Now()
	encoder, ok := h.checkEncoder(ctx)
	m := getSystemMetrics()
	response := gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": Version,
		"build_info": gin.H{
			"git_commit": GitCommit,
			"build_time": BuildTime,
		},
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": gin.H{"go_version": GoVersion},
		"checks": gin.H{
			"encoder": encoder,
			"phrases": h.phraseStatus(),
			"system": gin.H{
				"status":       "healthy",
				"uptime":       time.Since(h.started).String(),
				"memory_usage": m.MemoryUsage,
				"goroutines":   m.Goroutines,
				"gc_cycles":    m.GCCycles,
				"heap_objects": m.HeapObjects,
				"stack_usage":  m.StackUsage,
			},
		},
		"metrics": gin.H{"response_time_ms": time.Since(start).Milliseconds()},
	}
	if !ok {
		response["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// SystemMetrics holds system runtime metrics
type SystemMetrics struct {
	MemoryUsage string `json:"memory_usage"`
	Goroutines  int    `json:"goroutines"`
	GCCycles    uint32 `json:"gc_cycles"`
	HeapObjects uint64 `json:"heap_objects"`
	StackUsage  string `json:"stack_usage"`
}

func getSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemMetrics{
		MemoryUsage: fmt.Sprintf("%.2f MB", float64(m.Alloc)/(1024*1024)),
		Goroutines:  runtime.NumGoroutine(),
		GCCycles:    m.NumGC,
		HeapObjects: m.HeapObjects,
		StackUsage:  fmt.Sprintf("%.2f MB", float64(m.StackSys)/(1024*1024)),
	}
}
