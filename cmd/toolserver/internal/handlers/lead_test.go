package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/leadflow/internal/ledger"
	"github.com/Kocoro-lab/leadflow/internal/relay"
	"github.com/Kocoro-lab/leadflow/internal/signing"
	"github.com/Kocoro-lab/leadflow/internal/tools"
)

type fakeRelay struct {
	mu         sync.Mutex
	configured bool
	err        error
	sent       []string
}

func (f *fakeRelay) Configured() bool { return f.configured }

func (f *fakeRelay) Send(_ context.Context, _ tools.LeadRequest, key string) (relay.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, key)
	if f.err != nil {
		return relay.Delivery{}, f.err
	}
	return relay.Delivery{IdempotencyKey: key, Status: http.StatusOK}, nil
}

const validLead = `{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com","company":"Analytical Engines"}`

func post(t *testing.T, h *LeadHandler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.CreateLead(rec, httptest.NewRequest(http.MethodPost, "/tools/create-zoho-lead", bytes.NewBufferString(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func newHandler(t *testing.T, store ledger.Store, r Relayer) *LeadHandler {
	h := NewLeadHandler(store, r, zaptest.NewLogger(t))
	h.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return h
}

func TestCreateLeadSuccess(t *testing.T) {
	r := &fakeRelay{configured: true}
	rec, body := post(t, newHandler(t, ledger.NewMemoryStore(time.Hour, nil), r), validLead)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Zoho lead created successfully", body["message"])
	assert.Equal(t, float64(200), body["zapierStatus"])
	assert.Equal(t, "2024-01-02T03:04:05Z", body["timestamp"])

	canonical, err := tools.LeadRequest{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Company: "Analytical Engines",
	}.Canonical()
	require.NoError(t, err)
	assert.Equal(t, signing.IdempotencyKey(canonical), body["leadId"])
	assert.Equal(t, body["leadId"], rec.Header().Get(HeaderIdempotencyKey))
}

func TestCreateLeadValidation(t *testing.T) {
	r := &fakeRelay{configured: true}
	h := newHandler(t, nil, r)

	rec, body := post(t, h, `{"firstName":" ","lastName":"L","email":"nope","company":"C"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request data", body["error"])
	details, ok := body["details"].([]any)
	require.True(t, ok)
	assert.Len(t, details, 2)

	rec, body = post(t, h, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request data", body["error"])
	assert.Empty(t, r.sent)
}

func TestCreateLeadNotConfigured(t *testing.T) {
	rec, body := post(t, newHandler(t, nil, &fakeRelay{}), validLead)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Zapier configuration not available", body["error"])
}

func TestCreateLeadRelayFailure(t *testing.T) {
	store := ledger.NewMemoryStore(time.Hour, nil)
	r := &fakeRelay{configured: true, err: &relay.Error{Status: 503, Err: errors.New("webhook returned 503")}}
	h := newHandler(t, store, r)

	rec, body := post(t, h, validLead)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Failed to send to Zapier", body["error"])
	assert.Equal(t, "Request failed with status code 503", body["details"])
	assert.Equal(t, float64(503), body["status"])

	// The key was released, so a retry relays again.
	r.err = nil
	rec, _ = post(t, h, validLead)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, r.sent, 2)
}

func TestCreateLeadTransportFailureOmitsStatus(t *testing.T) {
	r := &fakeRelay{configured: true, err: &relay.Error{Err: errors.New("dial tcp: connection refused")}}
	rec, body := post(t, newHandler(t, nil, r), validLead)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "dial tcp: connection refused", body["details"])
	assert.NotContains(t, body, "status")
}

func TestCreateLeadUnexpectedError(t *testing.T) {
	r := &fakeRelay{configured: true, err: errors.New("boom")}
	rec, body := post(t, newHandler(t, nil, r), validLead)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", body["error"])
	assert.Equal(t, "boom", body["message"])
}

func TestCreateLeadDuplicateReplaysStoredResponse(t *testing.T) {
	r := &fakeRelay{configured: true}
	h := newHandler(t, ledger.NewMemoryStore(time.Hour, nil), r)

	first, firstBody := post(t, h, validLead)
	require.Equal(t, http.StatusOK, first.Code)

	// Whitespace differences normalize to the same key.
	second, secondBody := post(t, h, `{"firstName":" Ada ","lastName":"Lovelace","email":"ada@example.com","company":"Analytical Engines","leadSource":"API"}`)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotencyReplayed))
	assert.Equal(t, firstBody, secondBody)
	assert.Len(t, r.sent, 1)
}

func TestCreateLeadInFlightConflict(t *testing.T) {
	store := ledger.NewMemoryStore(time.Hour, nil)
	r := &fakeRelay{configured: true}
	h := newHandler(t, store, r)

	canonical, err := tools.LeadRequest{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Company: "Analytical Engines",
	}.Canonical()
	require.NoError(t, err)
	_, reserved, err := store.Reserve(context.Background(), signing.IdempotencyKey(canonical))
	require.NoError(t, err)
	require.True(t, reserved)

	rec, body := post(t, h, validLead)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Request already in progress", body["error"])
	assert.Empty(t, r.sent)
}

// failingCompleteStore reserves normally but cannot record the response.
type failingCompleteStore struct {
	*ledger.MemoryStore
}

func (s failingCompleteStore) Complete(context.Context, string, int, []byte) error {
	return errors.New("redis: connection reset")
}

func TestCreateLeadUnrecordedResponseFreesKey(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	store := failingCompleteStore{ledger.NewMemoryStore(24*time.Hour, func() time.Time { return now })}
	r := &fakeRelay{configured: true}
	h := newHandler(t, store, r)

	rec, _ := post(t, h, validLead)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, r.sent, 1)

	rec, body := post(t, h, validLead)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Request already in progress", body["error"])

	now = now.Add(ledger.DefaultPendingTTL + time.Second)
	rec, _ = post(t, h, validLead)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, r.sent, 2)
}
