// Package summary turns a stored analysis into a short German management
// summary using a generative model.
package summary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/config"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

var (
	// ErrNoAPIKey is returned when the summarizer is used without credentials.
	ErrNoAPIKey = errors.New("summary api key is not configured")
	// ErrBlocked is returned when the model refuses the prompt.
	ErrBlocked = errors.New("model blocked the request")
)

const systemPrompt = `Du bist ein Datenschutz-Auditor für Websites im deutschen und europäischen Rechtsraum (DSGVO, TDDDG, DMA).
Du erhältst das Ergebnis einer automatisierten Cookie- und Consent-Analyse als JSON.
Schreibe eine sachliche Zusammenfassung auf Deutsch für Website-Betreiber ohne juristische Vorkenntnisse:
1. Gesamteinschätzung in zwei bis drei Sätzen, inklusive Score.
2. Die wichtigsten Verstöße, priorisiert nach Schwere, jeweils mit konkreter Handlungsempfehlung.
3. Was bereits gut umgesetzt ist.
Erfinde keine Befunde, die nicht im JSON stehen. Verwende Markdown-Überschriften und Aufzählungen. Keine Rechtsberatung.`

// Generator produces text from a system instruction and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Summarizer rate-limits and retries calls to a Generator.
type Summarizer struct {
	gen        Generator
	limiter    *rate.Limiter
	maxBytes   int
	maxRetries int
	timeout    time.Duration
	logger     *zap.Logger
	// backoffFactory is swapped in tests to avoid real waits.
	backoffFactory func() backoff.BackOff
}

// New wraps gen with the limits of cfg.
func New(gen Generator, cfg config.SummaryConfig, logger *zap.Logger) *Summarizer {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	return &Summarizer{
		gen:        gen,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		maxBytes:   cfg.MaxPayloadBytes,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		logger:     observability.Component(logger, observability.ComponentSummary),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}
}

// Summarize reduces res and asks the model for a summary.
func (s *Summarizer) Summarize(ctx context.Context, res *schemas.AnalysisResult) (string, error) {
	payload, err := Reduce(res, s.maxBytes)
	if err != nil {
		return "", err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	prompt := "Analyseergebnis:\n```json\n" + string(payload) + "\n```"
	log := s.logger.With(zap.String("analysis_id", res.ID), zap.Int("payload_bytes", len(payload)))

	var text string
	attempt := 0
	op := func() error {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		out, err := s.gen.Generate(ctx, systemPrompt, prompt)
		if err != nil {
			if !Retryable(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			log.Warn("Summary request failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return errors.New("model returned an empty summary")
		}
		text = out
		return nil
	}

	var b backoff.BackOff = s.backoffFactory()
	if s.maxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.maxRetries))
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("summarize analysis %s: %w", res.ID, err)
	}
	log.Info("Summary generated.", zap.Int("attempts", attempt), zap.Int("chars", len(text)))
	return text, nil
}

// Retryable reports whether a generator error is transient.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBlocked) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return retryableStatus(apiErrPtr.Code)
	}
	// Network and unknown errors are worth another try.
	return true
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// GeminiGenerator calls the Gemini API through the genai SDK.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiGenerator creates the SDK client. baseURL overrides the API
// endpoint and is empty in production.
func NewGeminiGenerator(ctx context.Context, cfg config.SummaryConfig, baseURL string) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiGenerator{client: client, model: model, temperature: cfg.Temperature}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			Temperature:       genai.Ptr(g.temperature),
		})
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) > 0 {
		if fr := resp.Candidates[0].FinishReason; fr == genai.FinishReasonSafety || fr == genai.FinishReasonBlocklist {
			return "", fmt.Errorf("%w (reason: %s)", ErrBlocked, fr)
		}
	}
	return resp.Text(), nil
}
