package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/draftea/order-system/orders-service/application"
	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/saga"
)

const idempotencyKeyHeader = "Idempotency-Key"

type orderCreator interface {
	Execute(ctx context.Context, cmd application.CreateOrderCommand) (*application.OrderResponse, error)
}

type statusUpdater interface {
	Execute(ctx context.Context, cmd application.UpdateOrderStatusCommand) (*application.OrderResponse, error)
}

type transitionLister interface {
	Execute(ctx context.Context, query application.GetValidTransitionsQuery) (*application.ValidTransitionsResponse, error)
}

type orderCanceller interface {
	Execute(ctx context.Context, cmd application.CancelOrderCommand) (*application.OrderResponse, error)
}

type refundCreator interface {
	Execute(ctx context.Context, cmd application.CreateRefundCommand) (*application.RefundResponse, error)
}

type orderReader interface {
	GetOrder(ctx context.Context, orderID string) (*application.OrderResponse, error)
	GetOrderHistory(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error)
	GetSagaExecution(ctx context.Context, orderID string) (*saga.Execution, error)
}

// OrderHandlers contains order HTTP handlers
type OrderHandlers struct {
	createOrder      orderCreator
	updateStatus     statusUpdater
	validTransitions transitionLister
	cancelOrder      orderCanceller
	createRefund     refundCreator
	queries          orderReader
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	createOrder orderCreator,
	updateStatus statusUpdater,
	validTransitions transitionLister,
	cancelOrder orderCanceller,
	createRefund refundCreator,
	queries orderReader,
) *OrderHandlers {
	return &OrderHandlers{
		createOrder:      createOrder,
		updateStatus:     updateStatus,
		validTransitions: validTransitions,
		cancelOrder:      cancelOrder,
		createRefund:     createRefund,
		queries:          queries,
	}
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Patch("/status", h.UpdateOrderStatus)
			r.Get("/transitions", h.GetValidTransitions)
			r.Post("/cancel", h.CancelOrder)
			r.Post("/refunds", h.CreateRefund)
			r.Get("/history", h.GetOrderHistory)
			r.Get("/saga", h.GetSagaExecution)
		})
	})
}

// CreateOrder handles order placement; the Idempotency-Key header makes retries safe
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.CreateOrderCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.IdempotencyKey = r.Header.Get(idempotencyKeyHeader)

	response, err := h.createOrder.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, response)
}

func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	response, err := h.queries.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *OrderHandlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var cmd application.UpdateOrderStatusCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")

	response, err := h.updateStatus.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *OrderHandlers) GetValidTransitions(w http.ResponseWriter, r *http.Request) {
	response, err := h.validTransitions.Execute(r.Context(), application.GetValidTransitionsQuery{
		OrderID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// CancelOrder accepts an empty body
func (h *OrderHandlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.CancelOrderCommand
	if r.ContentLength != 0 && !decodeBody(w, r, &cmd) {
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")

	response, err := h.cancelOrder.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *OrderHandlers) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var cmd application.CreateRefundCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")
	cmd.IdempotencyKey = r.Header.Get(idempotencyKeyHeader)

	response, err := h.createRefund.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, response)
}

func (h *OrderHandlers) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.queries.GetOrderHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *OrderHandlers) GetSagaExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := h.queries.GetSagaExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

// errorResponse is the body of every non-2xx answer
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	OrderID string `json:"order_id,omitempty"`
	Step    string `json:"step,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "invalid_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		hlog.FromRequest(r).Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, body)
}

// errorStatus maps typed errors to HTTP status codes
func errorStatus(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error()}

	var (
		validation  *domain.ValidationError
		invalid     *domain.InvalidTransitionError
		conflict    *domain.ConcurrentModificationError
		notCancel   *domain.CancellationNotAllowedError
		notRefund   *domain.RefundNotAllowedError
		exceeds     *domain.RefundExceedsBalanceError
		failed      *domain.OrderCreationFailedError
		compFailure *saga.CompensationFailure
		external    *domain.ExternalServiceError
	)

	// saga outcomes first: their causes would match the cases below
	switch {
	case errors.As(err, &failed):
		body.Code = failed.Code
		body.OrderID = failed.OrderID.String()
		body.Step = failed.Step
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &compFailure):
		body.Code = domain.CodeReconciliationState
		body.OrderID = compFailure.ExecutionID
		body.Step = compFailure.FailedStep
		return http.StatusInternalServerError, body
	case errors.As(err, &validation):
		body.Code = "invalid_request"
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrOrderNotFound):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.As(err, &invalid):
		body.Code = "invalid_transition"
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &conflict):
		body.Code = "concurrent_modification"
		return http.StatusConflict, body
	case errors.As(err, &notCancel):
		body.Code = "cancellation_not_allowed"
		return http.StatusConflict, body
	case errors.As(err, &notRefund):
		body.Code = "refund_not_allowed"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrOrderCreationInProgress):
		body.Code = "in_progress"
		return http.StatusConflict, body
	case errors.As(err, &exceeds):
		body.Code = "refund_exceeds_balance"
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &external):
		body.Code = domain.ReasonCode(external)
		return http.StatusBadGateway, body
	}

	body.Code = domain.CodeInternal
	body.Error = "internal error"
	return http.StatusInternalServerError, body
}
