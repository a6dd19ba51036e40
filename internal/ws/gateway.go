// Package ws pushes collection change events to watchers over websockets so
// open views can refresh their snapshot when another session edits it.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/menu-sync/internal/types"
)

// Identity is the authenticated caller of a websocket request.
type Identity struct {
	UserID string
}

// Authenticator verifies the inbound HTTP request before the connection is
// upgraded.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// AuthFunc is an adapter to allow the use of ordinary functions as authenticators.
type AuthFunc func(r *http.Request) (Identity, error)

// Authenticate implements Authenticator.
func (f AuthFunc) Authenticate(r *http.Request) (Identity, error) {
	return f(r)
}

// Authorizer decides whether identity may watch a collection.
type Authorizer func(ctx context.Context, identity Identity, key types.ParentKey) error

// GatewayConfig controls the runtime behaviour of the websocket gateway.
type GatewayConfig struct {
	HeartbeatInterval  time.Duration
	HeartbeatTolerance int
	SendBuffer         int
	WriteTimeout       time.Duration
	MaxTopics          int
	CheckOrigin        func(r *http.Request) bool
}

// Gateway upgrades HTTP requests into websocket connections and wires them
// into the Registry.
type Gateway struct {
	auth      Authenticator
	authorize Authorizer
	registry  *Registry
	logger    zerolog.Logger
	cfg       GatewayConfig
	upgrader  websocket.Upgrader
}

// NewGateway creates a Gateway with sane defaults. authorize may be nil.
func NewGateway(auth Authenticator, authorize Authorizer, registry *Registry, logger zerolog.Logger, cfg GatewayConfig) (*Gateway, error) {
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if registry == nil {
		return nil, errors.New("connection registry is required")
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatTolerance == 0 {
		cfg.HeartbeatTolerance = 2
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxTopics == 0 {
		cfg.MaxTopics = 32
	}
	return &Gateway{
		auth:      auth,
		authorize: authorize,
		registry:  registry,
		logger:    logger,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	identity, err := g.auth.Authenticate(r)
	if err != nil || identity.UserID == "" {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	raw := r.URL.Query()["topic"]
	if len(raw) == 0 {
		http.Error(w, "missing topic", http.StatusBadRequest)
		return
	}
	if len(raw) > g.cfg.MaxTopics {
		http.Error(w, "too many topics", http.StatusBadRequest)
		return
	}

	topics := make([]string, 0, len(raw))
	for _, t := range raw {
		key, err := types.ParseParentKey(t)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if g.authorize != nil {
			if err := g.authorize(r.Context(), identity, key); err != nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
		}
		topics = append(topics, key.String())
	}

	g.upgrade(w, r, identity, topics)
}

func (g *Gateway) upgrade(w http.ResponseWriter, r *http.Request, identity Identity, topics []string) {
	_, span := tracer.Start(r.Context(), "ws.upgrade")
	span.SetAttributes(attribute.StringSlice("topics", topics))
	start := time.Now()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	gatewayUpgradeLatency.Observe(time.Since(start).Seconds())
	span.End()
	if err != nil {
		// Upgrade already replied with an HTTP error.
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	childLogger := g.logger.With().Str("user", identity.UserID).Strs("topics", topics).Logger()
	var connection *Connection
	connection = newConnection(conn, identity, topics, childLogger, connectionOptions{
		heartbeatInterval:  g.cfg.HeartbeatInterval,
		heartbeatTolerance: g.cfg.HeartbeatTolerance,
		sendBufferSize:     g.cfg.SendBuffer,
		writeTimeout:       g.cfg.WriteTimeout,
	}, func() {
		g.registry.Unregister(connection)
		childLogger.Debug().Msg("websocket connection closed")
	})

	g.registry.Register(connection)
	childLogger.Info().Msg("websocket connection established")

	go connection.Run()
}
