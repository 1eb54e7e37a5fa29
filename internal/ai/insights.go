package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"veriflow.io/internal/compliance"
	"veriflow.io/internal/obs"
)

const systemPrompt = "You are a compliance advisor for small service businesses. " +
	"Answer with a single JSON object: {\"summary\": string, \"risks\": [string], \"actions\": [string]}. " +
	"No prose outside the JSON."

// Insights is the structured output of a business-analysis call.
type Insights struct {
	Summary  string   `json:"summary"`
	Risks    []string `json:"risks"`
	Actions  []string `json:"actions"`
	Fallback bool     `json:"fallback,omitempty"`
}

// Analyzer formats prompts, delegates to the completion API and parses the
// structured response. When the model is unreachable or returns something
// unparseable it degrades to a deterministic rule-based summary instead of
// failing the request.
type Analyzer struct {
	llm Completer
}

// NewAnalyzer wraps a completer. A nil completer means fallback-only mode.
func NewAnalyzer(llm Completer) *Analyzer {
	return &Analyzer{llm: llm}
}

// BusinessInsights generates a compliance health summary for one tenant.
func (a *Analyzer) BusinessInsights(ctx context.Context, stats compliance.Stats, deadlines []compliance.Deadline) (Insights, error) {
	if a.llm == nil {
		return fallbackInsights(stats, deadlines), nil
	}

	raw, err := a.llm.Complete(ctx, systemPrompt, buildPrompt(stats, deadlines))
	if err != nil {
		obs.LogEvent("warn", "insights completion failed, using fallback", map[string]any{
			"error": err.Error(),
		})
		return fallbackInsights(stats, deadlines), nil
	}

	ins, err := parseInsights(raw)
	if err != nil {
		obs.LogEvent("warn", "insights response unparseable, using fallback", map[string]any{
			"error": err.Error(),
		})
		return fallbackInsights(stats, deadlines), nil
	}
	return ins, nil
}

func buildPrompt(stats compliance.Stats, deadlines []compliance.Deadline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compliance status: %d obligations tracked, %d completed (%d%%), %d in progress, %d not started, %d overdue.\n",
		stats.Total, stats.Completed, stats.CompletionRate, stats.InProgress, stats.NotStarted, stats.Overdue)
	if len(deadlines) == 0 {
		b.WriteString("No deadlines in the next 30 days.\n")
	} else {
		b.WriteString("Upcoming deadlines:\n")
		for _, d := range deadlines {
			fmt.Fprintf(&b, "- item %s due in %d day(s), status %s\n", d.Record.ItemID, d.DaysUntilDue, d.Record.Status)
		}
	}
	b.WriteString("Summarize the compliance posture and recommend next actions.")
	return b.String()
}

// parseInsights extracts the JSON object from a model response, tolerating
// markdown code fences and surrounding chatter.
func parseInsights(raw string) (Insights, error) {
	trimmed := strings.TrimSpace(raw)
	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end <= start {
		return Insights{}, fmt.Errorf("no JSON object in response")
	}
	var ins Insights
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &ins); err != nil {
		return Insights{}, fmt.Errorf("decode insights: %w", err)
	}
	if strings.TrimSpace(ins.Summary) == "" {
		return Insights{}, fmt.Errorf("insights missing summary")
	}
	return ins, nil
}

// fallbackInsights produces a deterministic summary from the same inputs the
// model would see.
func fallbackInsights(stats compliance.Stats, deadlines []compliance.Deadline) Insights {
	ins := Insights{Fallback: true}
	ins.Summary = fmt.Sprintf("%d of %d obligations completed (%d%%).", stats.Completed, stats.Total, stats.CompletionRate)

	if stats.Overdue > 0 {
		ins.Risks = append(ins.Risks, fmt.Sprintf("%d obligation(s) are overdue.", stats.Overdue))
		ins.Actions = append(ins.Actions, "Resolve overdue obligations first; penalties usually accrue from the missed date.")
	}
	if stats.NotStarted > 0 && stats.Total > 0 && stats.NotStarted*2 >= stats.Total {
		ins.Risks = append(ins.Risks, "More than half of tracked obligations have not been started.")
	}
	for _, d := range deadlines {
		if d.DaysUntilDue <= 7 {
			ins.Actions = append(ins.Actions, fmt.Sprintf("Item %s is due in %d day(s).", d.Record.ItemID, d.DaysUntilDue))
		}
	}
	if len(ins.Actions) == 0 {
		ins.Actions = append(ins.Actions, "No urgent deadlines; keep the current cadence.")
	}
	return ins
}
