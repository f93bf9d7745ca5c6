package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ilham-s-saksena/race-condition/internal/metrics"
	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

const msgCheckoutFailed = "checkout could not be completed, please try again"

type checkoutRequest struct {
	ProductID *json.Number `json:"product_id"`
	Quantity  *json.Number `json:"quantity"`
}

// parseCheckout applies the request rules: product_id required integer, quantity required integer >= 1.
func parseCheckout(body io.Reader) (productID int64, quantity int, errs fieldErrors) {
	errs = fieldErrors{}
	var req checkoutRequest
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		errs.add("body", "The request body must be a JSON object.")
		return 0, 0, errs
	}

	if req.ProductID == nil {
		errs.add("product_id", "The product id field is required.")
	} else if v, err := strconv.ParseInt(req.ProductID.String(), 10, 64); err != nil {
		errs.add("product_id", "The product id field must be an integer.")
	} else {
		productID = v
	}

	if req.Quantity == nil {
		errs.add("quantity", "The quantity field is required.")
	} else if v, err := strconv.Atoi(req.Quantity.String()); err != nil {
		errs.add("quantity", "The quantity field must be an integer.")
	} else if v < 1 {
		errs.add("quantity", "The quantity field must be at least 1.")
	} else {
		quantity = v
	}
	return productID, quantity, errs
}

func (h *handler) checkout(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	productID, quantity, errs := parseCheckout(bytes.NewReader(raw))
	if len(errs) > 0 {
		h.countCheckout(metrics.OutcomeInvalid)
		writeValidation(w, errs)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.CheckoutTimeout)
	defer cancel()

	start := time.Now()
	order, err := h.Checkout.Checkout(ctx, principal, productID, quantity)
	if h.Metrics != nil {
		h.Metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
	}

	log := h.Log.WithFields(logrus.Fields{
		"user_id":    principal.ID,
		"product_id": productID,
		"quantity":   quantity,
		"request_id": middleware.GetReqID(r.Context()),
	})
	if err != nil {
		outcome, msg := checkoutOutcome(err)
		h.countCheckout(outcome)
		if outcome == metrics.OutcomePersistence {
			log.WithError(err).Error("checkout failed")
		} else {
			log.WithField("reason", outcome).Warn("checkout rejected")
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	h.countCheckout(metrics.OutcomeSuccess)
	log.WithField("order_id", order.ID).Info("checkout succeeded")
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// checkoutOutcome maps a checkout error to its metric label and the message shown to the caller.
// Every failure answers 400; the caller cannot tell a lost race from a sold out product.
func checkoutOutcome(err error) (outcome, msg string) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return metrics.OutcomeNotFound, orders.ErrNotFound.Error()
	case errors.Is(err, orders.ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock, orders.ErrInsufficientStock.Error()
	case errors.Is(err, orders.ErrInvalidQuantity):
		return metrics.OutcomeInvalid, orders.ErrInvalidQuantity.Error()
	default:
		return metrics.OutcomePersistence, msgCheckoutFailed
	}
}

func (h *handler) countCheckout(outcome string) {
	if h.Metrics != nil {
		h.Metrics.CheckoutRequests.WithLabelValues(outcome).Inc()
	}
}
