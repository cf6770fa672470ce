package handlers

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/coderoom/internal/judge"
	"github.com/mossy-p/coderoom/internal/registry"
	"github.com/mossy-p/coderoom/internal/relay"
	"github.com/mossy-p/coderoom/internal/rooms"
)

// CodeRunner executes a submission. *judge.Client implements it.
type CodeRunner interface {
	Run(ctx context.Context, s judge.Submission) (*judge.Result, error)
}

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Registry       *registry.Registry
	Directory      *rooms.Directory
	Relay          *relay.Relay
	Runner         CodeRunner
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Handler struct {
	registry  *registry.Registry
	directory *rooms.Directory
	relay     *relay.Relay
	runner    CodeRunner
	logger    *slog.Logger
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  d.Registry,
		directory: d.Directory,
		relay:     d.Relay,
		runner:    d.Runner,
		logger:    logger.With("component", "http"),
	}
}

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(d Deps) *gin.Engine {
	h := New(d)

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(h.logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(d.AllowedOrigins))

	router.GET("/health", h.Health)
	router.POST("/run-code", h.RunCode)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms/:roomId", h.GetRoom)
	}

	router.GET("/ws", h.HandleWebSocket)
	return router
}
