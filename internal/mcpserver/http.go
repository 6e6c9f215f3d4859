package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/larkmcp/corekit/internal/logging"
)

// HTTPConfig configures the SSE-over-HTTP transport.
type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
	Environment    string // "development"|"dev" relaxes gin to debug mode
}

// session is one long-lived GET connection's outbound channel, keyed
// by a server-issued session id that client POSTs reference.
type session struct {
	outbound chan Response
	done     chan struct{}
}

// HTTPTransport serves the adapter over server-sent events, per
// spec.md §6.1: a long-lived GET carries the server-to-client channel;
// POST carries client-to-server messages; one session per connection.
// Grounded on the teacher's router.go mux/middleware layering, adapted
// to gin — the teacher's go.mod carries gin-gonic/gin, gin-contrib/cors
// and gin-contrib/sse, but their call sites live in a server variant
// outside the retrieved pack; this is the component in this module
// that gives them a home.
type HTTPTransport struct {
	adapter *Adapter
	logger  logging.Logger
	metrics prometheus.Gatherer

	mu       sync.Mutex
	sessions map[string]*session
}

// NewHTTPTransport builds an HTTPTransport over adapter. metrics may be
// nil, in which case /metrics reports the empty default registry.
func NewHTTPTransport(adapter *Adapter, metrics prometheus.Gatherer) *HTTPTransport {
	if metrics == nil {
		metrics = prometheus.NewRegistry()
	}
	return &HTTPTransport{
		adapter:  adapter,
		logger:   logging.NewComponentLogger("mcpserver.http"),
		metrics:  metrics,
		sessions: make(map[string]*session),
	}
}

// Handler builds the gin engine serving /sse (GET), /messages (POST),
// and the operator surface /healthz and /metrics (§C.2).
func (t *HTTPTransport) Handler(cfg HTTPConfig) http.Handler {
	if cfg.Environment != "development" && cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/sse", t.handleStream)
	engine.POST("/messages", t.handleMessage)
	engine.GET("/healthz", t.handleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(t.metrics, promhttp.HandlerOpts{})))
	return engine
}

func (t *HTTPTransport) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (t *HTTPTransport) handleStream(c *gin.Context) {
	id := uuid.NewString()
	sess := &session{outbound: make(chan Response, 16), done: make(chan struct{})}

	t.mu.Lock()
	t.sessions[id] = sess
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.sessions, id)
		t.mu.Unlock()
		close(sess.done)
	}()

	c.SSEvent("endpoint", "/messages?sessionId="+id)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-sess.outbound:
			if !ok {
				return
			}
			encoded, err := json.Marshal(resp)
			if err != nil {
				t.logger.Error("failed to encode SSE response: %v", err)
				continue
			}
			c.SSEvent("message", string(encoded))
			c.Writer.Flush()
		}
	}
}

func (t *HTTPTransport) handleMessage(c *gin.Context) {
	sessionID := c.Query("sessionId")
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired session"})
		return
	}

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON-RPC request"})
		return
	}

	c.Status(http.StatusAccepted)
	c.Writer.Flush()

	go t.dispatchAndDeliver(context.Background(), sess, req)
}

func (t *HTTPTransport) dispatchAndDeliver(ctx context.Context, sess *session, req Request) {
	resp := t.adapter.Handle(ctx, req)
	select {
	case sess.outbound <- resp:
	case <-sess.done:
	}
}
