// Package gateway is the REST client for the formation backend. It performs
// no retries and no caching: responses are parsed and failures are returned
// to the caller unchanged.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/formation-desk/api/internal/domain"
)

const (
	defaultTimeout    = 10 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 256
)

var (
	// ErrMissingIdentifier is returned when a lookup is attempted without its required ids.
	ErrMissingIdentifier = errors.New("gateway: missing identifier")
	// ErrOrderRejected is returned when the backend acknowledges an order with success=false.
	ErrOrderRejected = errors.New("gateway: order rejected")
)

var tracer = otel.Tracer("github.com/formation-desk/api/internal/gateway")

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: %s status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("gateway: %s status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether the backend signalled a transient condition.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client issues formation metadata lookups and order submissions.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *zap.Logger
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout sets the per-request timeout. A client passed through
// WithHTTPClient is copied rather than modified.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			copied := *c.http
			copied.Timeout = timeout
			c.http = &copied
		}
	}
}

// WithAPIToken attaches a bearer token to every request.
func WithAPIToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// FetchEntityTypes lists the legal entity types the backend can form.
func (c *Client) FetchEntityTypes(ctx context.Context) ([]domain.EntityType, error) {
	var payload []referencePayload
	if err := c.getJSON(ctx, "fetch_entity_types", nil, &payload, "formation", "entity-types"); err != nil {
		return nil, err
	}
	out := make([]domain.EntityType, 0, len(payload))
	for _, item := range payload {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		out = append(out, domain.EntityType{ID: id, Name: strings.TrimSpace(item.Name)})
	}
	return out, nil
}

// FetchJurisdictions lists the filing states.
func (c *Client) FetchJurisdictions(ctx context.Context) ([]domain.Jurisdiction, error) {
	var payload []referencePayload
	if err := c.getJSON(ctx, "fetch_jurisdictions", nil, &payload, "formation", "jurisdictions"); err != nil {
		return nil, err
	}
	out := make([]domain.Jurisdiction, 0, len(payload))
	for _, item := range payload {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		out = append(out, domain.Jurisdiction{ID: id, Name: strings.TrimSpace(item.Name)})
	}
	return out, nil
}

// FetchFeeSchedule returns the state fee and expedite options for the pair.
func (c *Client) FetchFeeSchedule(ctx context.Context, jurisdictionID, entityTypeID string) (domain.FeeSchedule, error) {
	jurisdictionID = strings.TrimSpace(jurisdictionID)
	entityTypeID = strings.TrimSpace(entityTypeID)
	if jurisdictionID == "" || entityTypeID == "" {
		return domain.FeeSchedule{}, ErrMissingIdentifier
	}
	query := url.Values{}
	query.Set("jurisdictionId", jurisdictionID)
	query.Set("entityTypeId", entityTypeID)

	var payload feeSchedulePayload
	if err := c.getJSON(ctx, "fetch_fee_schedule", query, &payload, "formation", "fees"); err != nil {
		return domain.FeeSchedule{}, err
	}
	return payload.toDomain(), nil
}

// SubmitOrder forwards the resolved order. An empty idempotencyKey is replaced by a random one.
func (c *Client) SubmitOrder(ctx context.Context, order domain.OrderSubmission, idempotencyKey string) (domain.SubmissionAck, error) {
	const op = "submit_order"
	ctx, span := c.startSpan(ctx, op, http.MethodPost)
	defer span.End()

	body, err := json.Marshal(newOrderPayload(order))
	if err != nil {
		return domain.SubmissionAck{}, c.fail(span, op, err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "formation", "orders")
	if err != nil {
		return domain.SubmissionAck{}, c.fail(span, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SubmissionAck{}, c.fail(span, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, ensureIdempotencyKey(idempotencyKey))

	var ack ackPayload
	if err := c.do(ctx, span, op, req, &ack); err != nil {
		return domain.SubmissionAck{}, err
	}
	result := domain.SubmissionAck{
		Success: ack.Success,
		OrderID: strings.TrimSpace(ack.OrderID),
		Message: strings.TrimSpace(ack.Message),
	}
	if !result.Success {
		err := fmt.Errorf("%w: %s", ErrOrderRejected, result.Message)
		return result, c.fail(span, op, err)
	}
	span.SetAttributes(attribute.String("formation.order_id", result.OrderID))
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, op string, query url.Values, dest any, elem ...string) error {
	ctx, span := c.startSpan(ctx, op, http.MethodGet)
	defer span.End()

	endpoint, err := url.JoinPath(c.baseURL, elem...)
	if err != nil {
		return c.fail(span, op, err)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return c.fail(span, op, err)
	}
	return c.do(ctx, span, op, req, dest)
}

func (c *Client) do(ctx context.Context, span trace.Span, op string, req *http.Request, dest any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(span, op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug("gateway: response",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(span, op, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: drainError(resp.Body)})
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return c.fail(span, op, fmt.Errorf("gateway: %s decode: %w", op, err))
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op, method string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "formation."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method)),
	)
}

func (c *Client) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Warn("gateway: request failed", zap.String("op", op), zap.Error(err))
	return err
}

func ensureIdempotencyKey(key string) string {
	key = strings.TrimSpace(key)
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
