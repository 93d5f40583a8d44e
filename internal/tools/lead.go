package tools

import (
	"encoding/json"
	"net/mail"
	"strings"
)

// DefaultLeadSource is applied when a lead arrives without one.
const DefaultLeadSource = "API"

// LeadRequest is the typed payload of the create_zoho_lead tool. Field order
// is the wire order and therefore part of the idempotency key.
type LeadRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Company     string `json:"company"`
	Phone       string `json:"phone,omitempty"`
	LeadSource  string `json:"leadSource,omitempty"`
	Description string `json:"description,omitempty"`
}

// ValidationIssue describes one rejected field.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Normalize trims surrounding whitespace and applies defaults.
func (l LeadRequest) Normalize() LeadRequest {
	l.FirstName = strings.TrimSpace(l.FirstName)
	l.LastName = strings.TrimSpace(l.LastName)
	l.Email = strings.TrimSpace(l.Email)
	l.Company = strings.TrimSpace(l.Company)
	l.Phone = strings.TrimSpace(l.Phone)
	l.LeadSource = strings.TrimSpace(l.LeadSource)
	if l.LeadSource == "" {
		l.LeadSource = DefaultLeadSource
	}
	return l
}

// Validate returns every violated rule; an empty slice means the lead is valid.
func (l LeadRequest) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if l.FirstName == "" {
		issues = append(issues, ValidationIssue{Field: "firstName", Message: "First name is required"})
	}
	if l.LastName == "" {
		issues = append(issues, ValidationIssue{Field: "lastName", Message: "Last name is required"})
	}
	if !validEmail(l.Email) {
		issues = append(issues, ValidationIssue{Field: "email", Message: "Valid email is required"})
	}
	if l.Company == "" {
		issues = append(issues, ValidationIssue{Field: "company", Message: "Company is required"})
	}
	return issues
}

// Canonical serializes the normalized lead. The result feeds both the request
// signature and the idempotency key.
func (l LeadRequest) Canonical() ([]byte, error) {
	return json.Marshal(l.Normalize())
}

func validEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// LeadSchema is the JSON schema advertised to the language model.
func LeadSchema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"firstName":   str("First name of the lead"),
			"lastName":    str("Last name of the lead"),
			"email":       str("Email address of the lead"),
			"company":     str("Company name"),
			"phone":       str("Phone number (optional)"),
			"leadSource":  str("Source of the lead (optional)"),
			"description": str("Additional description (optional)"),
		},
		"required": []string{"firstName", "lastName", "email", "company"},
	}
}

func issuesText(issues []ValidationIssue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.Field + ": " + is.Message
	}
	return strings.Join(parts, "; ")
}
