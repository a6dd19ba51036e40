package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/menu-sync/internal/ordering"
	"github.com/example/menu-sync/internal/storage"
	"github.com/example/menu-sync/internal/types"
)

// collectionHandler serves one orderable kind:
//
//	GET    /{parents}/{parent}/{kind}s        list in position order
//	POST   /{parents}/{parent}/{kind}s        create at the end
//	PUT    /{parents}/{parent}/{kind}s/order  persist a reorder
//	PUT    /{kind}s/{id}                      update fields
//	DELETE /{kind}s/{id}                      delete and compact
type collectionHandler[T ordering.Orderable[T]] struct {
	s     *Server
	kind  types.Kind
	store Children[T]
}

func registerCollection[T ordering.Orderable[T]](s *Server, r *mux.Router, kind types.Kind, store Children[T]) {
	if store == nil {
		return
	}
	h := &collectionHandler[T]{s: s, kind: kind, store: store}
	base := "/" + kind.ParentPlural() + "/{parent}/" + kind.Plural()
	r.HandleFunc(base, h.list).Methods(http.MethodGet)
	r.HandleFunc(base, h.create).Methods(http.MethodPost)
	r.HandleFunc(base+"/order", h.reorder).Methods(http.MethodPut)
	r.HandleFunc("/"+kind.Plural()+"/{id}", h.update).Methods(http.MethodPut)
	r.HandleFunc("/"+kind.Plural()+"/{id}", h.remove).Methods(http.MethodDelete)
}

// parent resolves the collection named by the route and checks that the
// caller owns it. Collections of other owners are reported as missing.
func (h *collectionHandler[T]) parent(w http.ResponseWriter, r *http.Request) (types.ParentKey, bool) {
	key := types.ParentKey{Kind: h.kind, Parent: mux.Vars(r)["parent"]}
	owner, err := h.s.deps.Ownership.OwnerOf(r.Context(), key)
	if err != nil {
		h.s.writeStoreError(w, r, err)
		return key, false
	}
	if owner != UserFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return key, false
	}
	return key, true
}

// entity locates the entity named by the route and checks ownership.
func (h *collectionHandler[T]) entity(w http.ResponseWriter, r *http.Request) (string, types.ParentKey, bool) {
	id := mux.Vars(r)["id"]
	parent, owner, err := h.s.deps.Ownership.Locate(r.Context(), h.kind, id)
	if err != nil {
		h.s.writeStoreError(w, r, err)
		return id, types.ParentKey{}, false
	}
	if owner != UserFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return id, types.ParentKey{}, false
	}
	return id, types.ParentKey{Kind: h.kind, Parent: parent}, true
}

func (h *collectionHandler[T]) list(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parent(w, r)
	if !ok {
		return
	}
	items, err := h.store.List(r.Context(), key.Parent)
	if err != nil {
		h.s.writeStoreError(w, r, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *collectionHandler[T]) create(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parent(w, r)
	if !ok {
		return
	}
	var item T
	if err := decode(w, r, &item); err != nil {
		h.s.writeStoreError(w, r, err)
		return
	}
	created, err := h.store.Create(r.Context(), key.Parent, item)
	if err != nil {
		h.s.writeStoreError(w, r, err)
		return
	}
	h.s.emit(r.Context(), h.event(key, types.ActionCreated, created.OrderKey()))
	writeJSON(w, http.StatusCreated, created)
}

func (h *collectionHandler[T]) update(w http.ResponseWriter, r *http.Request) {
	id, key, ok := h.entity(w, r)
	if !ok {
		return
	}
	var item T
	if err := decode(w, r, &item); err != nil {
		h.s.writeStoreError(w, r, err)
		return
	}
	updated, err := h.store.Update(r.Context(), id, item)
	if err != nil {
		h.s.writeStoreError(w, r, err)
		return
	}
	h.s.emit(r.Context(), h.event(key, types.ActionUpdated, id))
	writeJSON(w, http.StatusOK, updated)
}

func (h *collectionHandler[T]) remove(w http.ResponseWriter, r *http.Request) {
	id, key, ok := h.entity(w, r)
	if !ok {
		return
	}
	deleted, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.s.writeStoreError(w, r, err)
		return
	}
	h.s.emit(r.Context(), h.event(key, types.ActionDeleted, id))
	writeJSON(w, http.StatusOK, deleted)
}

func (h *collectionHandler[T]) reorder(w http.ResponseWriter, r *http.Request) {
	key, ok := h.parent(w, r)
	if !ok {
		return
	}
	var updates []ordering.PositionUpdate
	if err := decode(w, r, &updates); err != nil {
		h.s.writeStoreError(w, r, err)
		return
	}
	items, err := h.store.Reorder(r.Context(), key.Parent, updates)
	if err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			h.s.writeStoreError(w, r, err)
			return
		}
		h.s.logger.Info().Err(err).Str("collection", key.String()).Msg("reorder rejected")
		writeError(w, http.StatusConflict, "conflict")
		return
	}
	h.s.emit(r.Context(), h.event(key, types.ActionReordered, ""))
	writeJSON(w, http.StatusOK, items)
}

func (h *collectionHandler[T]) event(key types.ParentKey, action types.Action, entityID string) types.ChangeEvent {
	return types.ChangeEvent{Kind: key.Kind, Parent: key.Parent, Action: action, EntityID: entityID}
}
