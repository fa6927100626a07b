// Package advisor asks an OpenAI-compatible chat model for coaching on how a
// user reacted to their partner.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/ashureev/calmpath/internal/domain"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultModel          = "gpt-4o-mini"
	DefaultRequestTimeout = 30 * time.Second

	maxFieldLength = 4000
)

// Config holds the connection settings for the chat model.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if strings.TrimSpace(out.BaseURL) == "" {
		out.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(out.Model) == "" {
		out.Model = DefaultModel
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	return out
}

// Reaction is what the user brings to the advisor.
type Reaction struct {
	Situation   string `json:"situation"`
	PartnerSaid string `json:"partnerSaid"`
	MyReaction  string `json:"myReaction"`
}

// Advice is the model's structured answer.
type Advice struct {
	Analysis       string `json:"analysis"`
	Suggestion     string `json:"suggestion"`
	BetterResponse string `json:"betterResponse"`
}

// Service performs single-shot reaction analysis. No retries are made; a
// failed call surfaces as domain.ErrUpstream.
type Service struct {
	client openaigo.Client
	model  string
}

// NewService builds an advisor. httpClient may be nil.
func NewService(cfg Config, httpClient *http.Client) (*Service, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("advisor: api key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout + 5*time.Second}
	}

	client := openaigo.NewClient(
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.RequestTimeout),
	)
	return &Service{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

// Validate trims every field and checks it is present and within bounds.
func (r *Reaction) Validate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"situation", &r.Situation},
		{"partnerSaid", &r.PartnerSaid},
		{"myReaction", &r.MyReaction},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return domain.NewValidationError(f.name, f.name+" is required")
		}
		if utf8.RuneCountInString(*f.value) > maxFieldLength {
			return domain.NewValidationError(f.name, fmt.Sprintf("%s must be at most %d characters", f.name, maxFieldLength))
		}
	}
	return nil
}

// AnalyzeReaction sends the reaction to the model and parses its advice.
func (s *Service) AnalyzeReaction(ctx context.Context, in Reaction) (*Advice, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(s.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(systemPrompt),
			openaigo.UserMessage(buildPrompt(in)),
		},
		ResponseFormat: openaigo.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		slog.Error("Advisor request failed", "model", s.model, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("%w: chat completion: %v", domain.ErrUpstream, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", domain.ErrUpstream)
	}

	advice, err := parseAdvice(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Warn("Advisor returned unusable output", "model", s.model, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}

	slog.Info("Advisor analysis completed", "model", s.model, "duration_ms", time.Since(start).Milliseconds())
	return advice, nil
}

const systemPrompt = `You are a calm, practical relationship coach.
You help people de-escalate conflict with their partner.
Always answer with a single JSON object and nothing else.`

func buildPrompt(in Reaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Situation: %s\n", in.Situation)
	fmt.Fprintf(&b, "Partner said: %q\n", in.PartnerSaid)
	fmt.Fprintf(&b, "My initial reaction/thought: %q\n\n", in.MyReaction)
	b.WriteString("Analyze this dynamic. Is my reaction constructive?\n")
	b.WriteString("Suggest a better, more de-escalating response that validates their feelings while expressing my needs.\n\n")
	b.WriteString("Return JSON format:\n")
	b.WriteString(`{"analysis": "Brief analysis of the dynamic", "suggestion": "Advice on approach", "betterResponse": "Specific script to say"}`)
	return b.String()
}

func parseAdvice(content string) (*Advice, error) {
	raw := extractJSONFromText(content)
	if raw == "" {
		return nil, fmt.Errorf("empty model output")
	}
	var advice Advice
	if err := json.Unmarshal([]byte(raw), &advice); err != nil {
		return nil, fmt.Errorf("invalid model json: %w", err)
	}
	advice.Analysis = strings.TrimSpace(advice.Analysis)
	advice.Suggestion = strings.TrimSpace(advice.Suggestion)
	advice.BetterResponse = strings.TrimSpace(advice.BetterResponse)
	if advice.Analysis == "" || advice.Suggestion == "" || advice.BetterResponse == "" {
		return nil, fmt.Errorf("model output is missing fields")
	}
	return &advice, nil
}

// extractJSONFromText strips code fences and surrounding prose from a model
// reply.
func extractJSONFromText(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "```") {
		rest := strings.TrimPrefix(raw, "```")
		// The opening line is a language tag ("json") or empty; keep it when
		// the object starts on the fence line itself.
		if i := strings.Index(rest, "\n"); i >= 0 && !strings.HasPrefix(strings.TrimSpace(rest[:i]), "{") {
			rest = rest[i+1:]
		}
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		raw = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(raw, "{") {
		if i := strings.Index(raw, "{"); i >= 0 {
			if j := strings.LastIndex(raw, "}"); j > i {
				return strings.TrimSpace(raw[i : j+1])
			}
		}
	}
	return raw
}
