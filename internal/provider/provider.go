// Package provider wraps the text-generation services used to write digests.
//
// Every backend is reduced to one capability, Complete. Authentication,
// token refresh and transport details stay inside the backend.
package provider

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 60 * time.Second

// Completer produces a completion for a single prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Backend names accepted by New.
const (
	BackendGigaChat  = "gigachat"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Timeout time.Duration

	GigaChat  GigaChatConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
}

// New builds the configured backend. Missing credentials are reported as errors
// so that startup fails instead of every digest degrading to an error text.
func New(cfg Config) (Completer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendGigaChat, "":
		if cfg.GigaChat.AuthKey == "" {
			return nil, oops.In("provider").With("backend", BackendGigaChat).Errorf("gigachat auth key is required")
		}
		return NewGigaChat(cfg.GigaChat, cfg.Timeout), nil
	case BackendOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, oops.In("provider").With("backend", BackendOpenAI).Errorf("openai api key is required")
		}
		return NewOpenAI(cfg.OpenAI, cfg.Timeout), nil
	case BackendAnthropic:
		if cfg.Anthropic.APIKey == "" {
			return nil, oops.In("provider").With("backend", BackendAnthropic).Errorf("anthropic api key is required")
		}
		return NewAnthropic(cfg.Anthropic, cfg.Timeout), nil
	default:
		return nil, oops.In("provider").With("backend", cfg.Backend).Errorf("unknown provider backend %q", cfg.Backend)
	}
}

func baseTransport(insecure bool) http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		// GigaChat endpoints are signed by the Russian Trusted Root CA, which most
		// system stores do not carry.
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}
