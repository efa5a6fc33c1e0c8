package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"
)

// GigaChat defaults.
const (
	DefaultGigaChatOAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultGigaChatAPIURL   = "https://gigachat.devices.sberbank.ru/api/v1"
	DefaultGigaChatScope    = "GIGACHAT_API_PERS"
	DefaultGigaChatModel    = "GigaChat"

	gigaChatSystemPrompt = "Сделай краткую структурированную сводку."
	gigaChatTemperature  = 0.7
)

// GigaChatConfig configures the GigaChat backend.
type GigaChatConfig struct {
	// AuthKey is the base64 "client_id:client_secret" authorization key.
	AuthKey  string
	Scope    string
	OAuthURL string
	APIURL   string
	Model    string
	Insecure bool
}

// GigaChat talks to the OpenAI-compatible GigaChat chat completions API.
// Access tokens are fetched from the OAuth endpoint and reused until they expire.
type GigaChat struct {
	client *openai.Client
	model  string
}

// NewGigaChat creates a GigaChat backend.
func NewGigaChat(cfg GigaChatConfig, timeout time.Duration) *GigaChat {
	if cfg.Scope == "" {
		cfg.Scope = DefaultGigaChatScope
	}
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = DefaultGigaChatOAuthURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGigaChatAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGigaChatModel
	}

	base := baseTransport(cfg.Insecure)
	tokens := oauth2.ReuseTokenSource(nil, &gigaChatTokenSource{
		client:  &http.Client{Transport: base, Timeout: timeout},
		url:     cfg.OAuthURL,
		authKey: cfg.AuthKey,
		scope:   cfg.Scope,
	})

	oc := openai.DefaultConfig("")
	oc.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
	oc.HTTPClient = &http.Client{
		Transport: &oauth2.Transport{Source: tokens, Base: base},
		Timeout:   timeout,
	}

	return &GigaChat{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}
}

// Complete sends prompt as the user message and returns the first choice.
func (g *GigaChat) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: gigaChatSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: gigaChatTemperature,
	})
	if err != nil {
		return "", oops.In("provider").With("backend", BackendGigaChat, "model", g.model).Wrapf(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", oops.In("provider").With("backend", BackendGigaChat).Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

type gigaChatTokenSource struct {
	client  *http.Client
	url     string
	authKey string
	scope   string
}

type gigaChatToken struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Token implements oauth2.TokenSource.
func (s *gigaChatTokenSource) Token() (*oauth2.Token, error) {
	form := url.Values{"scope": {s.scope}}
	req, err := http.NewRequest(http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, oops.In("provider").Wrapf(err, "create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+s.authKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, oops.In("provider").With("url", s.url).Wrapf(err, "fetch access token")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, oops.In("provider").Wrapf(err, "read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oops.In("provider").
			With("status", resp.StatusCode, "body", string(body)).
			Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok gigaChatToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, oops.In("provider").Wrapf(err, "decode token response")
	}
	if tok.AccessToken == "" {
		return nil, oops.In("provider").Errorf("empty access token")
	}

	t := &oauth2.Token{AccessToken: tok.AccessToken, TokenType: "Bearer"}
	if tok.ExpiresAt > 0 {
		t.Expiry = time.UnixMilli(tok.ExpiresAt)
	}
	return t, nil
}
