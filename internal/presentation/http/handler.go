package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hamzaMissewi/storefront-checkout/internal/application/checkout"
	domcart "github.com/hamzaMissewi/storefront-checkout/internal/domain/cart"
	"github.com/hamzaMissewi/storefront-checkout/internal/domain/catalog"
	"github.com/hamzaMissewi/storefront-checkout/internal/domain/inventory"
	domorder "github.com/hamzaMissewi/storefront-checkout/internal/domain/order"
	"github.com/hamzaMissewi/storefront-checkout/internal/pkg/metrics"
)

const headerIdempotencyKey = "Idempotency-Key"

// CheckoutService is what the handler needs from the order assembler.
type CheckoutService interface {
	Execute(ctx context.Context, req checkout.Request) (*domorder.Order, error)
}

type Handler struct {
	checkout CheckoutService
	orders   domorder.Repository
	products catalog.Repository
	carts    domcart.Repository
	validate *validator.Validate
	logger   *zap.Logger
	met      *metrics.Metrics
}

func NewHandler(
	svc CheckoutService,
	orders domorder.Repository,
	products catalog.Repository,
	carts domcart.Repository,
	logger *zap.Logger,
	met *metrics.Metrics,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		checkout: svc,
		orders:   orders,
		products: products,
		carts:    carts,
		validate: validator.New(),
		logger:   logger.With(zap.String("component", "http_server")),
		met:      met,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(withTrace(h.logger))
	r.Use(withObservedResponse(h.met))
	r.Use(chimiddleware.Recoverer)

	r.Post("/orders", h.handleCheckout)
	r.Get("/orders", h.handleListOrders)
	r.Get("/orders/{orderID}", h.handleGetOrder)
	r.Get("/products", h.handleListProducts)
	r.Get("/cart", h.handleGetCart)
	r.Post("/cart", h.handleAddToCart)
	r.Get("/health", h.handleHealth)

	return r
}

type checkoutItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type checkoutRequest struct {
	UserID            string                `json:"userId" validate:"required"`
	Items             []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddressID string                `json:"shippingAddressId" validate:"required"`
	ShippingMethod    string                `json:"shippingMethod" validate:"required"`
}

type orderLineResponse struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Total     int64  `json:"total"`
}

type orderResponse struct {
	ID                string              `json:"id"`
	Number            string              `json:"number"`
	UserID            string              `json:"userId"`
	Status            string              `json:"status"`
	ShippingAddressID string              `json:"shippingAddressId"`
	ShippingMethod    string              `json:"shippingMethod"`
	Lines             []orderLineResponse `json:"lines"`
	Subtotal          int64               `json:"subtotal"`
	Tax               int64               `json:"tax"`
	Shipping          int64               `json:"shipping"`
	Total             int64               `json:"total"`
	ClientSecret      string              `json:"clientSecret,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
}

func toOrderResponse(o *domorder.Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		Number:            o.Number,
		UserID:            o.UserID,
		Status:            string(o.Status),
		ShippingAddressID: o.ShippingAddressID,
		ShippingMethod:    o.ShippingMethod,
		Lines:             make([]orderLineResponse, len(o.Lines)),
		Subtotal:          o.Subtotal,
		Tax:               o.Tax,
		Shipping:          o.Shipping,
		Total:             o.Total,
		CreatedAt:         o.CreatedAt,
	}
	for i, l := range o.Lines {
		resp.Lines[i] = orderLineResponse{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Total:     l.Total,
		}
	}
	for _, p := range o.Payments {
		if p.Status == domorder.PaymentStatusAuthorized {
			resp.ClientSecret = p.ClientSecret
		}
	}
	return resp
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	items := make([]checkout.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = checkout.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, err := h.checkout.Execute(r.Context(), checkout.Request{
		UserID:            req.UserID,
		Items:             items,
		ShippingAddressID: req.ShippingAddressID,
		ShippingMethod:    req.ShippingMethod,
		IdempotencyKey:    r.Header.Get(headerIdempotencyKey),
	})
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if errors.Is(err, domorder.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId query parameter is required"))
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, out)
}

type productResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Stock     int    `json:"stock"`
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = productResponse{ID: p.ID, Name: p.Name, UnitPrice: p.UnitPrice, Stock: p.Stock}
	}
	writeJSON(w, http.StatusOK, out)
}

type cartLineResponse struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId query parameter is required"))
		return
	}

	lines, err := h.carts.Lines(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]cartLineResponse, len(lines))
	for i, l := range lines {
		out[i] = cartLineResponse{ProductID: l.ProductID, Quantity: l.Quantity, AddedAt: l.AddedAt}
	}
	writeJSON(w, http.StatusOK, out)
}

type addToCartRequest struct {
	UserID    string `json:"userId" validate:"required"`
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

func (h *Handler) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	if _, err := h.products.Get(r.Context(), req.ProductID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	line := domcart.Line{
		UserID:    req.UserID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		AddedAt:   time.Now().UTC(),
	}
	if err := h.carts.Add(r.Context(), line); err != nil {
		if errors.Is(err, domcart.ErrInvalidQuantity) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, cartLineResponse{
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
		AddedAt:   line.AddedAt,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeCheckoutError maps assembler failures to status codes. A stock
// shortage names the offending product so clients can adjust the cart.
func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     "insufficient stock",
			"productId": stockErr.ProductID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, checkout.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, checkout.ErrPaymentFailed):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, checkout.ErrPersistence):
		writeError(w, http.StatusInternalServerError, err)
	default:
		h.logger.Error("http_checkout_unmapped_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeValidationError flattens validator output into a field -> rule map.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}
