package briefagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"quote-dashboard/internal/logger"
	"quote-dashboard/internal/market"
)

const (
	ModeLLM      = "llm"
	ModeFallback = "fallback"

	maxBullets = 5
)

type Config struct {
	Enabled    bool
	Model      string
	APIKey     string
	BaseURL    string
	ByAzure    bool
	APIVersion string
	TimeoutMs  int
}

// Brief is a short plain-language summary of one batch.
type Brief struct {
	Headline    string   `json:"headline"`
	Bullets     []string `json:"bullets"`
	Mode        string   `json:"mode"`
	Model       string   `json:"model,omitempty"`
	UsedOffline bool     `json:"used_offline"`
}

// chatModel is the part of an eino chat model the agent calls.
type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type Agent struct {
	enabled        bool
	model          chatModel
	modelName      string
	disabledReason string
	log            *logger.Entry

	mu         sync.Mutex
	lastErrLog time.Time
}

func New(cfg Config) *Agent {
	log := logger.GetLogger().WithComponent("briefagent")
	if !cfg.Enabled {
		return &Agent{enabled: false, disabledReason: "disabled by config", log: log}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.APIKey == "" || cfg.Model == "" {
		log.Warn("briefagent disabled: missing api key or model")
		return &Agent{enabled: false, disabledReason: "api_key or model missing", log: log}
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cm, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		ByAzure:    cfg.ByAzure,
		APIVersion: cfg.APIVersion,
		Timeout:    timeout,
	})
	if err != nil {
		log.WithError(err).Error("briefagent init failed")
		return &Agent{enabled: false, disabledReason: "init failed", log: log}
	}
	return newWithModel(cm, cfg.Model, log)
}

func newWithModel(m chatModel, name string, log *logger.Entry) *Agent {
	return &Agent{enabled: true, model: m, modelName: name, log: log}
}

// Enabled reports whether Summarize will call the model.
func (a *Agent) Enabled() bool {
	return a != nil && a.enabled && a.model != nil
}

func (a *Agent) Ping(ctx context.Context) (map[string]any, error) {
	if !a.Enabled() {
		reason := "not configured"
		if a != nil && a.disabledReason != "" {
			reason = a.disabledReason
		}
		return map[string]any{"ok": true, "mode": ModeFallback, "reason": reason}, nil
	}

	start := time.Now()
	messages := []*schema.Message{
		schema.SystemMessage("Return ONLY valid JSON: {\"ok\":true}. No other text."),
		schema.UserMessage("ping"),
	}
	_, err := a.model.Generate(ctx, messages)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		a.logLLMError(err)
		return map[string]any{"ok": true, "mode": ModeFallback, "reason": "llm error"}, err
	}
	return map[string]any{"ok": true, "mode": ModeLLM, "model": a.modelName, "latency_ms": latency}, nil
}

type quoteInput struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	Price         *float64 `json:"price"`
	ChangePercent *float64 `json:"change_percent"`
	Volume        *float64 `json:"volume"`
	MarketCap     *float64 `json:"market_cap"`
	Currency      string   `json:"currency"`
	Source        string   `json:"source"`
}

type batchInput struct {
	UsedOffline bool                   `json:"used_offline"`
	Quotes      []quoteInput           `json:"quotes"`
	Failures    []market.SymbolFailure `json:"failures,omitempty"`
}

const systemPrompt = `You are BriefAgent for a stock quote dashboard. Output ONLY valid JSON.
Shape: {"headline": string, "bullets": [string, ...]}.
Rules:
- Describe only what the quotes show. No buy or sell advice, no forecasts.
- headline is one sentence; bullets has 1-5 short items.
- When used_offline is true, say the figures are offline demo data, not live prices.
- Quotes with source OFFLINE are demo data; mention it if you cite them.`

// Summarize describes batch. Without a model, or when the model fails, it
// returns Fallback(batch); on model failure the error is returned alongside.
func (a *Agent) Summarize(ctx context.Context, batch *market.BatchResult) (Brief, error) {
	if batch == nil || len(batch.Quotes) == 0 || !a.Enabled() {
		return Fallback(batch), nil
	}

	in := batchInput{UsedOffline: batch.UsedOffline, Failures: batch.Failures}
	for _, q := range batch.Quotes {
		in.Quotes = append(in.Quotes, quoteInput{
			Symbol:        q.Symbol,
			Name:          q.DisplayName,
			Price:         q.Price,
			ChangePercent: q.ChangePercent,
			Volume:        q.Volume,
			MarketCap:     q.MarketCap,
			Currency:      q.Currency,
			Source:        string(q.Source),
		})
	}
	payload, _ := json.Marshal(in)

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(fmt.Sprintf("Batch: %s", string(payload))),
	}
	resp, err := a.model.Generate(ctx, messages)
	if err != nil {
		a.logLLMErrorOnce(err)
		return Fallback(batch), err
	}
	text := strings.TrimSpace(resp.Content)
	a.log.WithFields(logger.Fields{"output": truncate(text, 800)}).Debug("briefagent output")

	out, err := parseBrief(text)
	if err != nil {
		return Fallback(batch), err
	}
	return a.sanitize(out, batch), nil
}

func (a *Agent) sanitize(in Brief, batch *market.BatchResult) Brief {
	fb := Fallback(batch)
	out := Brief{
		Headline:    strings.TrimSpace(in.Headline),
		Mode:        ModeLLM,
		Model:       a.modelName,
		UsedOffline: batch.UsedOffline,
	}
	if out.Headline == "" {
		out.Headline = fb.Headline
	}
	for _, b := range in.Bullets {
		if b = strings.TrimSpace(b); b != "" {
			out.Bullets = append(out.Bullets, b)
		}
	}
	if len(out.Bullets) == 0 {
		out.Bullets = fb.Bullets
	}
	out.Bullets = trimList(out.Bullets, maxBullets)
	return out
}

// Fallback builds a brief from the numbers alone.
func Fallback(batch *market.BatchResult) Brief {
	if batch == nil || len(batch.Quotes) == 0 {
		return Brief{Headline: "No quotes to summarize", Bullets: []string{}, Mode: ModeFallback}
	}

	var up, down, flat int
	var gainer, loser, biggest *market.Quote
	var volume float64
	var haveVolume bool
	var offline []string
	for i := range batch.Quotes {
		q := &batch.Quotes[i]
		if q.Source == market.SourceOffline {
			offline = append(offline, q.Symbol)
		}
		if q.Volume != nil {
			volume += *q.Volume
			haveVolume = true
		}
		if q.MarketCap != nil && (biggest == nil || *q.MarketCap > *biggest.MarketCap) {
			biggest = q
		}
		if q.ChangePercent == nil {
			continue
		}
		switch pct := *q.ChangePercent; {
		case pct > 0:
			up++
			if gainer == nil || pct > *gainer.ChangePercent {
				gainer = q
			}
		case pct < 0:
			down++
			if loser == nil || pct < *loser.ChangePercent {
				loser = q
			}
		default:
			flat++
		}
	}

	n := len(batch.Quotes)
	headline := fmt.Sprintf("%d %s: %d up, %d down, %d unchanged", n, plural(n, "symbol"), up, down, flat)
	if batch.UsedOffline {
		headline = fmt.Sprintf("Offline demo data for %d %s; live quotes are unavailable", n, plural(n, "symbol"))
	}

	var bullets []string
	if gainer != nil {
		bullets = append(bullets, fmt.Sprintf("Top gainer %s %s at %s %s",
			gainer.Symbol, FormatPercent(gainer.ChangePercent), FormatNumber(gainer.Price, 2), gainer.Currency))
	}
	if loser != nil {
		bullets = append(bullets, fmt.Sprintf("Top loser %s %s at %s %s",
			loser.Symbol, FormatPercent(loser.ChangePercent), FormatNumber(loser.Price, 2), loser.Currency))
	}
	if biggest != nil {
		bullets = append(bullets, fmt.Sprintf("Largest by market cap: %s (%s)", biggest.Symbol, FormatLargeNumber(biggest.MarketCap)))
	}
	if haveVolume {
		bullets = append(bullets, fmt.Sprintf("Combined volume %s", FormatLargeNumber(&volume)))
	}
	if !batch.UsedOffline && len(offline) > 0 {
		bullets = append(bullets, fmt.Sprintf("Offline data used for %s", strings.Join(offline, ", ")))
	}
	if len(batch.Failures) > 0 {
		syms := make([]string, len(batch.Failures))
		for i, f := range batch.Failures {
			syms[i] = f.Symbol
		}
		bullets = append(bullets, fmt.Sprintf("Unavailable: %s", strings.Join(syms, ", ")))
	}
	if bullets == nil {
		bullets = []string{}
	}

	return Brief{
		Headline:    headline,
		Bullets:     trimList(bullets, maxBullets),
		Mode:        ModeFallback,
		UsedOffline: batch.UsedOffline,
	}
}

func parseBrief(text string) (Brief, error) {
	var out Brief
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}
	jsonStr := extractFirstJSONObject(text)
	if jsonStr == "" {
		return Brief{}, fmt.Errorf("no json object found")
	}
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return Brief{}, fmt.Errorf("parse brief: %w", err)
	}
	return out, nil
}

func extractFirstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func (a *Agent) logLLMError(err error) {
	apiErr := &openai.APIError{}
	if errors.As(err, &apiErr) {
		a.log.WithFields(logger.Fields{
			"status":  apiErr.HTTPStatusCode,
			"message": truncate(apiErr.Message, 300),
		}).Error("briefagent api error")
		return
	}
	a.log.WithError(err).Error("briefagent error")
}

// logLLMErrorOnce drops repeats within five seconds.
func (a *Agent) logLLMErrorOnce(err error) {
	a.mu.Lock()
	if time.Since(a.lastErrLog) < 5*time.Second {
		a.mu.Unlock()
		return
	}
	a.lastErrLog = time.Now()
	a.mu.Unlock()
	a.logLLMError(err)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func trimList(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
