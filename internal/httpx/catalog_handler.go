package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		h.Log.WithError(err).Error("list products")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": ps})
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, orders.ErrNotFound.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Catalog.GetProduct(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, orders.ErrNotFound.Error())
		return
	}
	if err != nil {
		h.Log.WithError(err).Error("get product")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": p})
}

// getOrder serves the cached snapshot when present. Other users' orders look like missing ones.
func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, orders.ErrOrderNotFound.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if b, hit := h.Cache.Get(ctx, id); hit {
			var o orders.Order
			if err := json.Unmarshal(b, &o); err == nil {
				h.respondOrder(w, principal, o)
				return
			}
		}
	}

	o, err := h.Orders.GetOrder(ctx, id)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, orders.ErrOrderNotFound.Error())
		return
	}
	if err != nil {
		h.Log.WithError(err).Error("get order")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if h.Cache != nil {
		if b, err := json.Marshal(o); err == nil {
			_ = h.Cache.Set(ctx, id, b)
		}
	}
	h.respondOrder(w, principal, o)
}

func (h *handler) respondOrder(w http.ResponseWriter, principal orders.User, o orders.Order) {
	if o.UserID != principal.ID {
		writeError(w, http.StatusNotFound, orders.ErrOrderNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}
