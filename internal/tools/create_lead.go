package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Kocoro-lab/leadflow/internal/state"
)

const (
	CreateLeadName = "create_zoho_lead"
	// CreateLeadPath is the tool service endpoint for CreateLeadName.
	CreateLeadPath = "/tools/create-zoho-lead"
)

// Caller posts serialized bytes to a tool endpoint.
type Caller interface {
	Call(ctx context.Context, endpointPath string, body []byte) (string, error)
}

// CreateLeadTool creates a CRM lead through the tool service.
type CreateLeadTool struct {
	caller Caller
}

func NewCreateLeadTool(caller Caller) *CreateLeadTool {
	return &CreateLeadTool{caller: caller}
}

func (t *CreateLeadTool) Name() string { return CreateLeadName }

func (t *CreateLeadTool) Description() string {
	return "Create a new lead in Zoho CRM via Zapier integration"
}

func (t *CreateLeadTool) Parameters() map[string]any { return LeadSchema() }

func (t *CreateLeadTool) Invoke(ctx context.Context, args json.RawMessage) state.Result {
	var lead LeadRequest
	dec := json.NewDecoder(bytes.NewReader(args))
	if err := dec.Decode(&lead); err != nil {
		return t.fail(fmt.Errorf("invalid arguments: %w", err))
	}
	return t.Create(ctx, lead)
}

// Create validates lead and sends it to the tool service.
func (t *CreateLeadTool) Create(ctx context.Context, lead LeadRequest) state.Result {
	lead = lead.Normalize()
	if issues := lead.Validate(); len(issues) > 0 {
		return t.fail(fmt.Errorf("invalid lead: %s", issuesText(issues)))
	}
	body, err := lead.Canonical()
	if err != nil {
		return t.fail(err)
	}
	out, err := t.caller.Call(ctx, CreateLeadPath, body)
	if err != nil {
		return t.fail(err)
	}
	return state.Success("Successfully created Zoho lead: " + out)
}

func (t *CreateLeadTool) fail(err error) state.Result {
	return state.Failure("Failed to create Zoho lead: " + err.Error())
}
