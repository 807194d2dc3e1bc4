package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/formation-desk/api/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL+"/api", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "/relative"} {
		if _, err := NewClient(raw); err == nil {
			t.Fatalf("expected error for base url %q", raw)
		}
	}
}

func TestWithTimeoutLeavesSharedClientUntouched(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}
	client, err := NewClient("https://backend.test/api", WithHTTPClient(shared), WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if shared.Timeout != time.Minute {
		t.Fatalf("shared client timeout changed to %s", shared.Timeout)
	}
	if client.http == shared || client.http.Timeout != 3*time.Second {
		t.Fatalf("expected a copied client with the new timeout, got %s", client.http.Timeout)
	}
}

func TestFetchEntityTypes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/api/formation/entity-types" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"llc","name":"LLC"},{"id":"","name":"broken"},{"id":"ccorp","name":"C-Corp"}]`)
	}, WithAPIToken("secret-token"))

	types, err := client.FetchEntityTypes(context.Background())
	if err != nil {
		t.Fatalf("fetch entity types: %v", err)
	}
	if len(types) != 2 {
		t.Fatalf("expected 2 entity types, got %d", len(types))
	}
	if types[0] != (domain.EntityType{ID: "llc", Name: "LLC"}) {
		t.Fatalf("unexpected first entity type %+v", types[0])
	}
}

func TestFetchJurisdictionsPropagatesStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusServiceUnavailable)
	})

	_, err := client.FetchJurisdictions(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected status error, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", statusErr.StatusCode)
	}
	if statusErr.Body != "backend down" {
		t.Fatalf("unexpected body %q", statusErr.Body)
	}
	if !statusErr.Temporary() {
		t.Fatalf("expected 503 to be temporary")
	}
}

func TestFetchFeeSchedule(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/formation/fees" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("jurisdictionId"); got != "wy" {
			t.Fatalf("unexpected jurisdiction %q", got)
		}
		if got := r.URL.Query().Get("entityTypeId"); got != "llc" {
			t.Fatalf("unexpected entity type %q", got)
		}
		_, _ = io.WriteString(w, `{"stateFee":{"id":"wy-llc","amount":10000},"expeditedFees":[{"id":"std","tierName":"standard","baseAmount":0},{"id":"rush","tierName":"rush","baseAmount":15000}]}`)
	})

	schedule, err := client.FetchFeeSchedule(context.Background(), "wy", "llc")
	if err != nil {
		t.Fatalf("fetch fee schedule: %v", err)
	}
	if schedule.StateFee.ID != "wy-llc" || schedule.StateFee.Amount != 10000 {
		t.Fatalf("unexpected state fee %+v", schedule.StateFee)
	}
	if len(schedule.ExpeditedFees) != 2 || schedule.ExpeditedFees[1].BaseAmount != 15000 {
		t.Fatalf("unexpected expedited fees %+v", schedule.ExpeditedFees)
	}

	if _, err := client.FetchFeeSchedule(context.Background(), "", "llc"); !errors.Is(err, ErrMissingIdentifier) {
		t.Fatalf("expected missing identifier, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single backend call, got %d", calls)
	}
}

func TestFetchFeeScheduleDoesNotRetry(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := client.FetchFeeSchedule(context.Background(), "wy", "llc"); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}

func TestSubmitOrder(t *testing.T) {
	var received map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/formation/orders" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "idem-1" {
			t.Fatalf("unexpected idempotency key %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"success":true,"orderId":"ord_123","message":"accepted"}`)
	})

	ack, err := client.SubmitOrder(context.Background(), domain.OrderSubmission{
		CompanyInfo:    domain.CompanyInfo{Name: "Acme", Designator: "LLC"},
		EntityTypeID:   "llc",
		JurisdictionID: "wy",
		PricingTierID:  "silver",
		StateFeeID:     "wy-llc",
		ExpediteFeeID:  "std",
	}, "idem-1")
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	if !ack.Success || ack.OrderID != "ord_123" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	for _, key := range []string{"companyInfo", "entityTypeId", "jurisdictionId", "pricingTierId", "stateFeeId", "expediteFeeId"} {
		if _, ok := received[key]; !ok {
			t.Fatalf("expected %s in payload", key)
		}
	}
	addons, ok := received["addons"].([]any)
	if !ok {
		t.Fatalf("expected addons array, got %T", received["addons"])
	}
	if len(addons) != 0 {
		t.Fatalf("expected empty addons, got %v", addons)
	}
}

func TestSubmitOrderGeneratesIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Idempotency-Key")) == "" {
			t.Fatalf("expected generated idempotency key")
		}
		_, _ = io.WriteString(w, `{"success":true,"orderId":"ord_1"}`)
	})

	if _, err := client.SubmitOrder(context.Background(), domain.OrderSubmission{}, ""); err != nil {
		t.Fatalf("submit order: %v", err)
	}
}

func TestSubmitOrderRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"message":"name unavailable"}`)
	})

	ack, err := client.SubmitOrder(context.Background(), domain.OrderSubmission{}, "k")
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if ack.Message != "name unavailable" {
		t.Fatalf("expected message to be preserved, got %q", ack.Message)
	}
}
