// Package httpapi is the REST surface of the menu store: owner routes for
// restaurants and their ordered collections, plus the public read path.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/events"
	"github.com/example/menu-sync/internal/ordering"
	"github.com/example/menu-sync/internal/publicview"
	"github.com/example/menu-sync/internal/types"
)

const maxBodyBytes = 1 << 20

// Restaurants manages restaurant rows.
type Restaurants interface {
	CreateRestaurant(ctx context.Context, r types.Restaurant) (types.Restaurant, error)
	GetRestaurant(ctx context.Context, id string) (types.Restaurant, error)
	ListRestaurants(ctx context.Context, owner string) ([]types.Restaurant, error)
	UpdateRestaurant(ctx context.Context, r types.Restaurant) (types.Restaurant, error)
	DeleteRestaurant(ctx context.Context, id string) (types.Restaurant, error)
}

// Ownership resolves who owns a collection or an entity.
type Ownership interface {
	OwnerOf(ctx context.Context, key types.ParentKey) (string, error)
	Locate(ctx context.Context, kind types.Kind, id string) (parent, owner string, err error)
}

// Children is the store of one orderable kind.
type Children[T any] interface {
	List(ctx context.Context, parent string) ([]T, error)
	Create(ctx context.Context, parent string, item T) (T, error)
	Update(ctx context.Context, id string, item T) (T, error)
	Delete(ctx context.Context, id string) (T, error)
	Reorder(ctx context.Context, parent string, updates []ordering.PositionUpdate) ([]T, error)
}

// Publishing toggles public visibility.
type Publishing interface {
	Publish(ctx context.Context, id string) (types.Restaurant, error)
	Unpublish(ctx context.Context, id string) (types.Restaurant, error)
}

// Deps wires the server to its collaborators. Public, Gateway and Health are
// optional.
type Deps struct {
	Restaurants Restaurants
	Ownership   Ownership
	Menus       Children[types.Menu]
	Categories  Children[types.Category]
	Items       Children[types.Item]
	Banners     Children[types.Banner]
	Publisher   Publishing
	Events      events.Publisher
	Public      *publicview.HTTPHandler
	Gateway     http.Handler
	Health      func(ctx context.Context) error
}

// Server routes HTTP requests to the store.
type Server struct {
	deps         Deps
	logger       zerolog.Logger
	router       *mux.Router
	eventTimeout time.Duration
}

// NewServer builds the router.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	s := &Server{deps: deps, logger: logger, router: mux.NewRouter(), eventTimeout: 2 * time.Second}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.observe)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.deps.Public != nil {
		s.deps.Public.Register(s.router)
	}
	if s.deps.Gateway != nil {
		s.router.Handle("/ws", s.deps.Gateway)
	}

	owner := s.router.NewRoute().Subrouter()
	owner.Use(requireUser)

	owner.HandleFunc("/restaurants", s.listRestaurants).Methods(http.MethodGet)
	owner.HandleFunc("/restaurants", s.createRestaurant).Methods(http.MethodPost)
	owner.HandleFunc("/restaurants/{id}", s.getRestaurant).Methods(http.MethodGet)
	owner.HandleFunc("/restaurants/{id}", s.updateRestaurant).Methods(http.MethodPut)
	owner.HandleFunc("/restaurants/{id}", s.deleteRestaurant).Methods(http.MethodDelete)
	owner.HandleFunc("/restaurants/{id}/publish", s.publish).Methods(http.MethodPost)
	owner.HandleFunc("/restaurants/{id}/publish", s.unpublish).Methods(http.MethodDelete)

	registerCollection(s, owner, types.KindMenu, s.deps.Menus)
	registerCollection(s, owner, types.KindCategory, s.deps.Categories)
	registerCollection(s, owner, types.KindItem, s.deps.Items)
	registerCollection(s, owner, types.KindBanner, s.deps.Banners)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("healthcheck failed")
			writeError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// emit announces a change without failing the request that caused it.
func (s *Server) emit(ctx context.Context, ev types.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.eventTimeout)
	defer cancel()
	if err := s.deps.Events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("collection", ev.Collection().String()).Str("action", string(ev.Action)).Msg("change event not published")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, types.ErrInvalid)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
