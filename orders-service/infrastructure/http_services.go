package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/telemetry"
)

const idempotencyHeader = "Idempotency-Key"

// ServiceConfig locates one remote service
type ServiceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// serviceClient is the JSON over HTTP transport shared by the service adapters.
// Failures come back as *domain.ExternalServiceError so the saga can classify them.
type serviceClient struct {
	name       string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	// rejectCode is reported for 4xx answers that carry no code of their own
	rejectCode string
}

type serviceRequest struct {
	method         string
	path           string
	body           any
	idempotencyKey string
	// goneOK treats 404 as success, for undo calls on things that no longer exist
	goneOK bool
}

type serviceErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newServiceClient(name string, cfg ServiceConfig, httpClient *http.Client, rejectCode string) *serviceClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &serviceClient{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		rejectCode: rejectCode,
	}
}

func (c *serviceClient) do(ctx context.Context, req serviceRequest, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "call-"+c.name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return errors.Wrapf(err, "encode %s request", c.name)
		}
		body = bytes.NewReader(raw)
	}

	url := c.baseURL + req.path
	httpReq, err := http.NewRequestWithContext(ctx, req.method, url, body)
	if err != nil {
		return errors.Wrapf(err, "build %s request", c.name)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set(idempotencyHeader, req.idempotencyKey)
	}
	span.SetAttributes(
		attribute.String("http.url", url),
		attribute.String("http.method", req.method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return c.transportError(err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusNotFound && req.goneOK {
		return nil
	}
	if resp.StatusCode >= 300 {
		svcErr := c.statusError(resp)
		span.SetStatus(codes.Error, svcErr.Error())
		return svcErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ExternalServiceError{
			Service:    c.name,
			Message:    "malformed response",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return nil
}

func (c *serviceClient) transportError(err error) error {
	svcErr := &domain.ExternalServiceError{Service: c.name, Retryable: true, Err: err}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		svcErr.Timeout = true
		svcErr.Message = "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		svcErr.Retryable = false
	}
	return svcErr
}

func (c *serviceClient) statusError(resp *http.Response) *domain.ExternalServiceError {
	var payload serviceErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload.Message = strings.TrimSpace(string(raw))
	}
	if payload.Message == "" {
		payload.Message = resp.Status
	}

	svcErr := &domain.ExternalServiceError{
		Service:    c.name,
		Code:       payload.Code,
		Message:    payload.Message,
		StatusCode: resp.StatusCode,
	}
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		svcErr.Retryable = true
		svcErr.Timeout = resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout
	case svcErr.Code == "":
		svcErr.Code = c.rejectCode
	}
	return svcErr
}

// HTTPInventoryService implements domain.InventoryService
type HTTPInventoryService struct {
	client *serviceClient
}

func NewHTTPInventoryService(cfg ServiceConfig, httpClient *http.Client) *HTTPInventoryService {
	return &HTTPInventoryService{client: newServiceClient("inventory", cfg, httpClient, domain.CodeInsufficientStock)}
}

type reservationItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

func (s *HTTPInventoryService) Reserve(ctx context.Context, items []domain.LineItem, idempotencyKey string) (domain.Reservation, error) {
	request := struct {
		Items []reservationItem `json:"items"`
	}{Items: make([]reservationItem, len(items))}
	for i, item := range items {
		request.Items[i] = reservationItem{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity}
	}

	var reservation domain.Reservation
	err := s.client.do(ctx, serviceRequest{
		method:         http.MethodPost,
		path:           "/reservations",
		body:           request,
		idempotencyKey: idempotencyKey,
	}, &reservation)
	return reservation, err
}

func (s *HTTPInventoryService) Release(ctx context.Context, reservationID string) error {
	return s.client.do(ctx, serviceRequest{
		method: http.MethodDelete,
		path:   "/reservations/" + reservationID,
		goneOK: true,
	}, nil)
}

// HTTPShippingService implements domain.ShippingService
type HTTPShippingService struct {
	client *serviceClient
}

func NewHTTPShippingService(cfg ServiceConfig, httpClient *http.Client) *HTTPShippingService {
	return &HTTPShippingService{client: newServiceClient("shipping", cfg, httpClient, domain.CodeNoRateAvailable)}
}

func (s *HTTPShippingService) Quote(
	ctx context.Context,
	origin, destination domain.Address,
	weightGrams int,
	idempotencyKey string,
) (domain.ShippingQuote, error) {
	request := struct {
		Origin      domain.Address `json:"origin"`
		Destination domain.Address `json:"destination"`
		WeightGrams int            `json:"weight_grams"`
	}{Origin: origin, Destination: destination, WeightGrams: weightGrams}

	var quote domain.ShippingQuote
	err := s.client.do(ctx, serviceRequest{
		method:         http.MethodPost,
		path:           "/quotes",
		body:           request,
		idempotencyKey: idempotencyKey,
	}, &quote)
	return quote, err
}

// HTTPTaxService implements domain.TaxService
type HTTPTaxService struct {
	client *serviceClient
}

func NewHTTPTaxService(cfg ServiceConfig, httpClient *http.Client) *HTTPTaxService {
	return &HTTPTaxService{client: newServiceClient("tax", cfg, httpClient, domain.CodeTaxUnavailable)}
}

func (s *HTTPTaxService) Calculate(
	ctx context.Context,
	destination domain.Address,
	taxable models.Money,
	idempotencyKey string,
) (domain.TaxQuote, error) {
	request := struct {
		Destination domain.Address `json:"destination"`
		Amount      models.Money   `json:"amount"`
	}{Destination: destination, Amount: taxable}

	var quote domain.TaxQuote
	err := s.client.do(ctx, serviceRequest{
		method:         http.MethodPost,
		path:           "/calculations",
		body:           request,
		idempotencyKey: idempotencyKey,
	}, &quote)
	return quote, err
}

// HTTPPaymentGateway implements domain.PaymentGateway
type HTTPPaymentGateway struct {
	client *serviceClient
}

func NewHTTPPaymentGateway(cfg ServiceConfig, httpClient *http.Client) *HTTPPaymentGateway {
	return &HTTPPaymentGateway{client: newServiceClient("payment", cfg, httpClient, domain.CodePaymentDeclined)}
}

func (g *HTTPPaymentGateway) CreateIntent(
	ctx context.Context,
	amount models.Money,
	metadata map[string]string,
	idempotencyKey string,
) (domain.PaymentIntent, error) {
	request := struct {
		Amount   models.Money      `json:"amount"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}{Amount: amount, Metadata: metadata}

	var intent domain.PaymentIntent
	err := g.client.do(ctx, serviceRequest{
		method:         http.MethodPost,
		path:           "/payment_intents",
		body:           request,
		idempotencyKey: idempotencyKey,
	}, &intent)
	return intent, err
}

func (g *HTTPPaymentGateway) CancelIntent(ctx context.Context, intentID string) error {
	return g.client.do(ctx, serviceRequest{
		method:         http.MethodPost,
		path:           "/payment_intents/" + intentID + "/cancel",
		idempotencyKey: intentID + ":cancel",
		goneOK:         true,
	}, nil)
}

func (g *HTTPPaymentGateway) Refund(ctx context.Context, intentID string, amount models.Money, idempotencyKey string) (string, error) {
	request := struct {
		PaymentIntentID string       `json:"payment_intent_id"`
		Amount          models.Money `json:"amount"`
	}{PaymentIntentID: intentID, Amount: amount}

	var refund struct {
		ID string `json:"id"`
	}
	err := g.client.do(ctx, serviceRequest{
		method:         http.MethodPost,
		path:           "/refunds",
		body:           request,
		idempotencyKey: idempotencyKey,
	}, &refund)
	return refund.ID, err
}
