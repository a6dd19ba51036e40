package publicview

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/storage"
)

// HTTPHandler exposes the public read path.
type HTTPHandler struct {
	svc    *Service
	logger zerolog.Logger
}

// NewHTTPHandler builds the handler for the public routes.
func NewHTTPHandler(svc *Service, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// Register mounts GET /public/restaurants/{id}/menu and GET /explore.
func (h *HTTPHandler) Register(r *mux.Router) {
	r.HandleFunc("/public/restaurants/{id}/menu", h.menu).Methods(http.MethodGet)
	r.HandleFunc("/explore", h.exploreList).Methods(http.MethodGet)
}

func (h *HTTPHandler) menu(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.svc.Menu(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "restaurant not found")
			return
		}
		h.logger.Error().Err(err).Str("restaurant", id).Msg("public menu failed")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve menu")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=30")
	writeJSON(w, view)
}

func (h *HTTPHandler) exploreList(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Explore(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("explore failed")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve published restaurants")
		return
	}
	writeJSON(w, list)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode response failed", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
