package config

import (
	"encoding/json"
	"fmt"
)

// Secrets holds the shared credentials. They are resolved once and never logged.
type Secrets struct {
	// HMACSecret signs and verifies agent -> tool service requests.
	HMACSecret string
	// WebhookURL and WebhookSecret address and sign the CRM webhook relay.
	WebhookURL    string
	WebhookSecret string
}

// String redacts secret values so a Secrets can be passed to a logger safely.
func (s Secrets) String() string {
	return fmt.Sprintf("Secrets{HMACSecret:%s WebhookURL:%s WebhookSecret:%s}",
		redact(s.HMACSecret), redact(s.WebhookURL), redact(s.WebhookSecret))
}

// HasWebhook reports whether the relay can be used.
func (s Secrets) HasWebhook() bool {
	return s.WebhookURL != "" && s.WebhookSecret != ""
}

func redact(v string) string {
	if v == "" {
		return "<unset>"
	}
	return "<redacted>"
}

// secretDocument is the JSON shape stored in ZAPIER_CONFIG and SECRETS_FILE.
type secretDocument struct {
	WebhookURL string `json:"webhookUrl"`
	HMACSecret string `json:"hmacSecret"`
}

// ResolveSecrets reads credentials in priority order: the ZAPIER_CONFIG JSON
// document, the JSON file named by SECRETS_FILE, then the discrete variables
// HMAC_SECRET, ZAPIER_WEBHOOK_URL and ZAPIER_HMAC_SECRET. Earlier sources win
// per field; later sources only fill gaps.
func ResolveSecrets(getenv func(string) string, readFile func(string) ([]byte, error)) (Secrets, error) {
	var s Secrets

	apply := func(doc secretDocument) {
		if s.HMACSecret == "" {
			s.HMACSecret = doc.HMACSecret
		}
		if s.WebhookURL == "" {
			s.WebhookURL = doc.WebhookURL
		}
		// One document carries a single secret for both hops.
		if s.WebhookSecret == "" && doc.WebhookURL != "" {
			s.WebhookSecret = doc.HMACSecret
		}
	}

	if raw := getenv("ZAPIER_CONFIG"); raw != "" {
		var doc secretDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return Secrets{}, fmt.Errorf("%w: parse ZAPIER_CONFIG: %v", ErrConfig, err)
		}
		apply(doc)
	}

	if path := getenv("SECRETS_FILE"); path != "" {
		data, err := readFile(path)
		if err != nil {
			return Secrets{}, fmt.Errorf("%w: read secrets file: %v", ErrConfig, err)
		}
		var doc secretDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return Secrets{}, fmt.Errorf("%w: parse secrets file: %v", ErrConfig, err)
		}
		apply(doc)
	}

	if s.HMACSecret == "" {
		s.HMACSecret = getenv("HMAC_SECRET")
	}
	if s.WebhookURL == "" {
		s.WebhookURL = getenv("ZAPIER_WEBHOOK_URL")
	}
	if s.WebhookSecret == "" {
		s.WebhookSecret = getenv("ZAPIER_HMAC_SECRET")
	}
	return s, nil
}
