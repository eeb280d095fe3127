package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/models"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func serviceConfig(url string) ServiceConfig {
	return ServiceConfig{BaseURL: url, Timeout: time.Second}
}

func TestHTTPInventoryService_Reserve(t *testing.T) {
	var gotKey string
	var gotBody struct {
		Items []reservationItem `json:"items"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reservations", r.URL.Path)
		gotKey = r.Header.Get(idempotencyHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusCreated, domain.Reservation{
			ID:          "res-1",
			Origin:      domain.Address{Line1: "1 Depot Rd", City: "Reno", PostalCode: "89501", Country: "US"},
			WeightGrams: 900,
		})
	}))
	defer srv.Close()

	svc := NewHTTPInventoryService(serviceConfig(srv.URL+"/"), srv.Client())
	res, err := svc.Reserve(context.Background(), []domain.LineItem{
		{ProductID: "sku-1", Quantity: 2, UnitPrice: models.NewMoney(500, "USD")},
	}, "order-1:ReserveInventory")

	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, 900, res.WeightGrams)
	assert.Equal(t, "order-1:ReserveInventory", gotKey)
	require.Len(t, gotBody.Items, 1)
	assert.Equal(t, reservationItem{ProductID: "sku-1", Quantity: 2}, gotBody.Items[0])
}

func TestHTTPInventoryService_ReleaseMissingReservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/reservations/res-9", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc := NewHTTPInventoryService(serviceConfig(srv.URL), srv.Client())
	assert.NoError(t, svc.Release(context.Background(), "res-9"))
}

func TestServiceClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       any
		retryable  bool
		timeout    bool
		code       string
		statusCode int
	}{
		{
			name:       "server error is retryable",
			status:     http.StatusServiceUnavailable,
			body:       serviceErrorBody{Message: "maintenance"},
			retryable:  true,
			statusCode: http.StatusServiceUnavailable,
		},
		{
			name:       "gateway timeout",
			status:     http.StatusGatewayTimeout,
			retryable:  true,
			timeout:    true,
			statusCode: http.StatusGatewayTimeout,
		},
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			retryable:  true,
			statusCode: http.StatusTooManyRequests,
		},
		{
			name:       "rejection keeps remote code",
			status:     http.StatusUnprocessableEntity,
			body:       serviceErrorBody{Code: domain.CodeInvalidPayment, Message: "card expired"},
			code:       domain.CodeInvalidPayment,
			statusCode: http.StatusUnprocessableEntity,
		},
		{
			name:       "rejection without code uses service default",
			status:     http.StatusPaymentRequired,
			body:       map[string]string{"message": "declined"},
			code:       domain.CodePaymentDeclined,
			statusCode: http.StatusPaymentRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			gateway := NewHTTPPaymentGateway(serviceConfig(srv.URL), srv.Client())
			_, err := gateway.CreateIntent(context.Background(), models.NewMoney(2700, "USD"), nil, "order-1:CreatePaymentIntent")

			var svcErr *domain.ExternalServiceError
			require.True(t, errors.As(err, &svcErr))
			assert.Equal(t, "payment", svcErr.Service)
			assert.Equal(t, tt.retryable, svcErr.Retryable)
			assert.Equal(t, tt.timeout, svcErr.Timeout)
			assert.Equal(t, tt.code, svcErr.Code)
			assert.Equal(t, tt.statusCode, svcErr.StatusCode)
		})
	}
}

func TestServiceClient_SlowServiceTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	svc := NewHTTPTaxService(ServiceConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, srv.Client())
	_, err := svc.Calculate(context.Background(), domain.Address{Country: "US"}, models.NewMoney(2500, "USD"), "order-1:CalculateTax")

	var svcErr *domain.ExternalServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.True(t, svcErr.Timeout)
	assert.True(t, svcErr.Retryable)
	assert.Equal(t, domain.CodeServiceUnavailable, domain.ReasonCode(err))
}

func TestHTTPShippingService_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WeightGrams int `json:"weight_grams"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1200, req.WeightGrams)
		writeJSON(w, http.StatusOK, domain.ShippingQuote{
			ID:      "quote-1",
			Amount:  models.NewMoney(500, "USD"),
			Carrier: "ups",
			Service: "ground",
		})
	}))
	defer srv.Close()

	svc := NewHTTPShippingService(serviceConfig(srv.URL), srv.Client())
	quote, err := svc.Quote(context.Background(), domain.Address{Country: "US"}, domain.Address{Country: "US"}, 1200, "k")

	require.NoError(t, err)
	assert.Equal(t, models.NewMoney(500, "USD"), quote.Amount)
	assert.Equal(t, "ups", quote.Carrier)
}

func TestHTTPPaymentGateway_CancelAndRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payment_intents/pi_1/cancel":
			assert.Equal(t, "pi_1:cancel", r.Header.Get(idempotencyHeader))
			w.WriteHeader(http.StatusNoContent)
		case "/refunds":
			assert.Equal(t, "order-1:refund:r1", r.Header.Get(idempotencyHeader))
			writeJSON(w, http.StatusCreated, map[string]string{"id": "re_1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gateway := NewHTTPPaymentGateway(serviceConfig(srv.URL), srv.Client())
	require.NoError(t, gateway.CancelIntent(context.Background(), "pi_1"))

	refundID, err := gateway.Refund(context.Background(), "pi_1", models.NewMoney(1000, "USD"), "order-1:refund:r1")
	require.NoError(t, err)
	assert.Equal(t, "re_1", refundID)
}
