package llm

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"routing-backend/internal/pricing"
)

func testCandidates() []Candidate {
	return []Candidate{
		{DeskID: "desk-code", AgentName: "Coder", ModelID: "claude-sonnet", Categories: []string{"code"}},
		{DeskID: "desk-research", AgentName: "Researcher", ModelID: "gemini-2.0-flash", Description: "market and vendor research"},
	}
}

func TestScoreParsesFencedJSONAndDropsUnknownDesks(t *testing.T) {
	completer := &scriptedCompleter{replies: []Completion{{
		Text: "```json\n" + `{"scores":[
			{"deskId":"desk-code","confidence":0.8,"reason":"code change"},
			{"deskId":"desk-ghost","confidence":0.9,"reason":"hallucinated"},
			{"deskId":"desk-research","confidence":1.4,"reason":"out of range"}
		]}` + "\n```",
		PromptTokens:     1000,
		CompletionTokens: 100,
	}}}
	client := &Client{
		Completer:  completer,
		ScoreModel: "claude-haiku",
		Pricing:    pricing.Table{"claude-haiku": {PromptPer1K: 0.001, CompletionPer1K: 0.005}},
	}

	res, err := client.Score(context.Background(), ScoreRequest{Title: "Fix the login bug", Candidates: testCandidates()})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(res.Scores) != 1 || res.Scores[0].DeskID != "desk-code" || res.Scores[0].Confidence != 0.8 {
		t.Fatalf("unexpected scores %+v", res.Scores)
	}
	if res.Model != "claude-haiku" {
		t.Fatalf("unexpected model %q", res.Model)
	}
	if math.Abs(res.CostUSD-0.0015) > 1e-9 {
		t.Fatalf("unexpected cost %v", res.CostUSD)
	}
	prompt := completer.prompts[0]
	for _, want := range []string{"Fix the login bug", "deskId=desk-code", "categories=code", "market and vendor research"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestScoreRepairsInvalidJSONOnce(t *testing.T) {
	completer := &scriptedCompleter{replies: []Completion{
		{Text: `scores: desk-code 0.7`},
		{Text: `{"scores":[{"deskId":"desk-code","confidence":0.7,"reason":"fixed"}]}`},
	}}
	client := &Client{Completer: completer, ScoreModel: "m"}

	res, err := client.Score(context.Background(), ScoreRequest{Title: "t", Candidates: testCandidates()})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if completer.calls() != 2 {
		t.Fatalf("expected one repair call, got %d calls", completer.calls())
	}
	if len(res.Scores) != 1 || res.Scores[0].Reasoning != "fixed" {
		t.Fatalf("unexpected scores %+v", res.Scores)
	}
}

func TestScoreFailsAfterUnrepairableOutput(t *testing.T) {
	completer := &scriptedCompleter{replies: []Completion{{Text: "nope"}, {Text: "still nope"}}}
	client := &Client{Completer: completer, ScoreModel: "m"}

	_, err := client.Score(context.Background(), ScoreRequest{Title: "t", Candidates: testCandidates()})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestScoreWithoutCandidatesSkipsProvider(t *testing.T) {
	completer := &scriptedCompleter{}
	client := &Client{Completer: completer, ScoreModel: "m"}
	if _, err := client.Score(context.Background(), ScoreRequest{Title: "t"}); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if completer.calls() != 0 {
		t.Fatalf("expected no provider calls")
	}
}

func TestSummarizeRendersFacts(t *testing.T) {
	completer := &scriptedCompleter{replies: []Completion{{Text: "  Move typo fixes to haiku.  "}}}
	client := &Client{Completer: completer, SummaryModel: "claude-sonnet"}

	sum, err := client.Summarize(context.Background(), SummaryRequest{
		RunType:       "weekly",
		TasksAnalyzed: 42,
		Facts:         []string{"desk-code: 80% of tasks could run on claude-haiku"},
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Text != "Move typo fixes to haiku." {
		t.Fatalf("unexpected summary %q", sum.Text)
	}
	if !strings.Contains(completer.prompts[0], "Tasks analyzed: 42") || !strings.Contains(completer.prompts[0], "claude-haiku") {
		t.Fatalf("unexpected prompt:\n%s", completer.prompts[0])
	}
}

func TestPlaceholderIsNotConfigured(t *testing.T) {
	completer, err := NewCompleter(context.Background(), ProviderConfig{Provider: "anthropic"})
	if err != nil {
		t.Fatalf("NewCompleter: %v", err)
	}
	_, err = completer.Complete(context.Background(), "m", "p")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewCompleter(context.Background(), ProviderConfig{Provider: "bogus", APIKey: "k"}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
