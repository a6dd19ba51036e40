package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/menu-sync/internal/types"
)

func (s *Server) listRestaurants(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Restaurants.ListRestaurants(r.Context(), UserFrom(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if list == nil {
		list = []types.Restaurant{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createRestaurant(w http.ResponseWriter, r *http.Request) {
	var in types.Restaurant
	if err := decode(w, r, &in); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	in.ID = ""
	in.OwnerID = UserFrom(r.Context())
	in.IsPublished = false
	created, err := s.deps.Restaurants.CreateRestaurant(r.Context(), in)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// owned loads the restaurant of the route and hides it from non-owners.
func (s *Server) owned(w http.ResponseWriter, r *http.Request) (types.Restaurant, bool) {
	restaurant, err := s.deps.Restaurants.GetRestaurant(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, r, err)
		return types.Restaurant{}, false
	}
	if restaurant.OwnerID != UserFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "not found")
		return types.Restaurant{}, false
	}
	return restaurant, true
}

func (s *Server) getRestaurant(w http.ResponseWriter, r *http.Request) {
	restaurant, ok := s.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, restaurant)
}

func (s *Server) updateRestaurant(w http.ResponseWriter, r *http.Request) {
	current, ok := s.owned(w, r)
	if !ok {
		return
	}
	var in types.Restaurant
	if err := decode(w, r, &in); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	current.Name = in.Name
	current.Location = in.Location
	current.ContactNo = in.ContactNo
	current.ImagePath = in.ImagePath
	updated, err := s.deps.Restaurants.UpdateRestaurant(r.Context(), current)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRestaurant(w http.ResponseWriter, r *http.Request) {
	current, ok := s.owned(w, r)
	if !ok {
		return
	}
	// Unpublish first so public caches drop the restaurant.
	if current.IsPublished && s.deps.Publisher != nil {
		if _, err := s.deps.Publisher.Unpublish(r.Context(), current.ID); err != nil {
			s.writeStoreError(w, r, err)
			return
		}
	}
	deleted, err := s.deps.Restaurants.DeleteRestaurant(r.Context(), current.ID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	s.setPublished(w, r, true)
}

func (s *Server) unpublish(w http.ResponseWriter, r *http.Request) {
	s.setPublished(w, r, false)
}

func (s *Server) setPublished(w http.ResponseWriter, r *http.Request, published bool) {
	current, ok := s.owned(w, r)
	if !ok {
		return
	}
	if s.deps.Publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "publishing is disabled")
		return
	}
	var (
		restaurant types.Restaurant
		err        error
	)
	if published {
		restaurant, err = s.deps.Publisher.Publish(r.Context(), current.ID)
	} else {
		restaurant, err = s.deps.Publisher.Unpublish(r.Context(), current.ID)
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, restaurant)
}
