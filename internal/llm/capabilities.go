package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"routing-backend/internal/pricing"
	"routing-backend/internal/shared/telemetry"
)

// Candidate is a desk offered to the scorer.
type Candidate struct {
	DeskID      string
	AgentName   string
	ModelID     string
	Description string
	Categories  []string
}

// ScoreRequest asks for per-desk fit scores.
type ScoreRequest struct {
	Title       string
	Description string
	Category    string
	Candidates  []Candidate
}

// DeskScore is one scored desk.
type DeskScore struct {
	DeskID     string
	Confidence float64
	Reasoning  string
}

// ScoreResult carries scores and the cost of producing them.
type ScoreResult struct {
	Scores    []DeskScore
	Model     string
	CostUSD   float64
	LatencyMs int64
}

// Scorer rates candidate desks for a task.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResult, error)
}

// SummaryRequest describes an analysis period.
type SummaryRequest struct {
	RunType       string
	TasksAnalyzed int
	TotalCostUSD  float64
	Facts         []string
}

// Summary is a narrative summary of an analysis period.
type Summary struct {
	Text    string
	Model   string
	CostUSD float64
}

// Summarizer produces analysis narratives.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (Summary, error)
}

// Client implements Scorer and Summarizer over a Completer.
type Client struct {
	Completer    Completer
	ScoreModel   string
	SummaryModel string
	Pricing      pricing.Table
	Now          func() time.Time
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

type scoreResponse struct {
	Scores []struct {
		DeskID     string  `json:"deskId"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	} `json:"scores"`
}

// Score implements Scorer. Entries naming unknown desks or carrying an
// out-of-range confidence are dropped.
func (c *Client) Score(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	if len(req.Candidates) == 0 {
		return ScoreResult{Model: c.ScoreModel}, nil
	}
	prompt, err := render("score.tmpl", req)
	if err != nil {
		return ScoreResult{}, err
	}

	start := c.now()
	var parsed scoreResponse
	cost, err := c.completeJSON(ctx, c.ScoreModel, prompt, &parsed)
	result := ScoreResult{
		Model:     c.ScoreModel,
		CostUSD:   cost,
		LatencyMs: c.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		return result, err
	}

	known := make(map[string]struct{}, len(req.Candidates))
	for _, cand := range req.Candidates {
		known[cand.DeskID] = struct{}{}
	}
	for _, s := range parsed.Scores {
		if _, ok := known[s.DeskID]; !ok {
			continue
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			continue
		}
		result.Scores = append(result.Scores, DeskScore{
			DeskID:     s.DeskID,
			Confidence: s.Confidence,
			Reasoning:  strings.TrimSpace(s.Reason),
		})
	}
	return result, nil
}

// Summarize implements Summarizer.
func (c *Client) Summarize(ctx context.Context, req SummaryRequest) (Summary, error) {
	prompt, err := render("summary.tmpl", req)
	if err != nil {
		return Summary{}, err
	}
	out, err := c.Completer.Complete(ctx, c.SummaryModel, prompt)
	if err != nil {
		return Summary{}, err
	}
	cost := c.logUsage("summarize", prompt, out)
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return Summary{Model: c.SummaryModel, CostUSD: cost}, fmt.Errorf("%w: empty summary", ErrInvalidResponse)
	}
	return Summary{Text: text, Model: c.SummaryModel, CostUSD: cost}, nil
}

// completeJSON decodes a JSON reply, asking the model once to repair
// unparseable output.
func (c *Client) completeJSON(ctx context.Context, model, prompt string, dst any) (float64, error) {
	out, err := c.Completer.Complete(ctx, model, prompt)
	if err != nil {
		return 0, err
	}
	cost := c.logUsage("score", prompt, out)
	raw := stripFences(out.Text)
	if json.Unmarshal([]byte(raw), dst) == nil {
		return cost, nil
	}

	repair, err := render("repair.tmpl", raw)
	if err != nil {
		return cost, err
	}
	out, err = c.Completer.Complete(ctx, model, repair)
	if err != nil {
		return cost, err
	}
	cost += c.logUsage("score.repair", repair, out)
	if err := json.Unmarshal([]byte(stripFences(out.Text)), dst); err != nil {
		return cost, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return cost, nil
}

func (c *Client) logUsage(op, prompt string, out Completion) float64 {
	model := out.Model
	cost := c.Pricing.UsageCost(model, out.PromptTokens, out.CompletionTokens)
	telemetry.Info("llm.usage", map[string]any{
		"op":                op,
		"provider":          c.Completer.Name(),
		"model":             model,
		"prompt_hash":       hashPrompt(prompt),
		"prompt_tokens":     out.PromptTokens,
		"completion_tokens": out.CompletionTokens,
		"cost_usd":          cost,
	})
	return cost
}

var (
	_ Scorer     = (*Client)(nil)
	_ Summarizer = (*Client)(nil)
)
