package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/ledger"
	"github.com/Kocoro-lab/leadflow/internal/relay"
	"github.com/Kocoro-lab/leadflow/internal/signing"
	"github.com/Kocoro-lab/leadflow/internal/tools"
)

const (
	HeaderIdempotencyKey      = "X-Idempotency-Key"
	HeaderIdempotencyReplayed = "X-Idempotency-Replayed"
)

// Relayer delivers a lead to the CRM webhook.
type Relayer interface {
	Configured() bool
	Send(ctx context.Context, lead tools.LeadRequest, idempotencyKey string) (relay.Delivery, error)
}

// LeadHandler serves POST /tools/create-zoho-lead.
type LeadHandler struct {
	ledger ledger.Store
	relay  Relayer
	logger *zap.Logger
	now    func() time.Time
}

// NewLeadHandler creates a lead handler. A nil store disables duplicate suppression.
func NewLeadHandler(store ledger.Store, relayer Relayer, logger *zap.Logger) *LeadHandler {
	return &LeadHandler{ledger: store, relay: relayer, logger: logger, now: time.Now}
}

// LeadResponse is the success body.
type LeadResponse struct {
	Success      bool   `json:"success"`
	LeadID       string `json:"leadId"`
	Message      string `json:"message"`
	ZapierStatus int    `json:"zapierStatus"`
	Timestamp    string `json:"timestamp"`
}

// CreateLead validates the lead, suppresses duplicates through the ledger
// and relays it to the webhook.
func (h *LeadHandler) CreateLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var lead tools.LeadRequest
	if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid request data",
			"details": []tools.ValidationIssue{{Field: "body", Message: "Request body must be a JSON object"}},
		})
		return
	}
	lead = lead.Normalize()
	if issues := lead.Validate(); len(issues) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid request data",
			"details": issues,
		})
		return
	}

	if !h.relay.Configured() {
		h.logger.Error("Webhook configuration missing")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Zapier configuration not available"})
		return
	}

	canonical, err := lead.Canonical()
	if err != nil {
		h.internalError(w, err)
		return
	}
	key := signing.IdempotencyKey(canonical)
	w.Header().Set(HeaderIdempotencyKey, key)
	logger := h.logger.With(zap.String("idempotency_key", key))

	tracked := false
	if h.ledger != nil {
		entry, reserved, err := h.ledger.Reserve(ctx, key)
		switch {
		case err != nil:
			// Relaying without the ledger risks a duplicate; refusing would lose the lead.
			logger.Warn("Idempotency ledger unavailable", zap.Error(err))
		case !reserved && entry.State == ledger.StateDone:
			logger.Info("Duplicate lead, returning stored response")
			w.Header().Set(HeaderIdempotencyReplayed, "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(entry.Status)
			_, _ = w.Write(entry.Body)
			return
		case !reserved:
			writeJSON(w, http.StatusConflict, map[string]string{"error": "Request already in progress"})
			return
		default:
			tracked = true
		}
	}

	delivery, err := h.relay.Send(ctx, lead, key)
	if err != nil {
		if tracked {
			if relErr := h.ledger.Release(context.WithoutCancel(ctx), key); relErr != nil {
				logger.Warn("Failed to release idempotency key", zap.Error(relErr))
			}
		}
		var relayErr *relay.Error
		if errors.As(err, &relayErr) {
			body := map[string]any{
				"error":   "Failed to send to Zapier",
				"details": relayErr.Error(),
			}
			if relayErr.Status != 0 {
				body["status"] = relayErr.Status
			}
			writeJSON(w, http.StatusBadGateway, body)
			return
		}
		h.internalError(w, err)
		return
	}

	body, err := json.Marshal(LeadResponse{
		Success:      true,
		LeadID:       key,
		Message:      "Zoho lead created successfully",
		ZapierStatus: delivery.Status,
		Timestamp:    h.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.internalError(w, err)
		return
	}
	if tracked {
		if err := h.ledger.Complete(context.WithoutCancel(ctx), key, http.StatusOK, body); err != nil {
			logger.Warn("Failed to record idempotency key", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *LeadHandler) internalError(w http.ResponseWriter, err error) {
	h.logger.Error("Error creating lead", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Internal server error",
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
