package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"veriflow.io/internal/compliance"
)

type fakeCompleter struct {
	response string
	err      error
}

func (f fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

func TestBusinessInsightsParsesModelOutput(t *testing.T) {
	a := NewAnalyzer(fakeCompleter{response: "```json\n" +
		`{"summary":"Mostly on track.","risks":["one overdue filing"],"actions":["file the quarterly return"]}` +
		"\n```"})

	ins, err := a.BusinessInsights(context.Background(), compliance.Stats{Total: 4, Completed: 3}, nil)
	if err != nil {
		t.Fatalf("BusinessInsights: %v", err)
	}
	if ins.Fallback {
		t.Fatal("expected model output, got fallback")
	}
	if ins.Summary != "Mostly on track." || len(ins.Risks) != 1 || len(ins.Actions) != 1 {
		t.Fatalf("unexpected insights: %+v", ins)
	}
}

func TestBusinessInsightsFallsBackOnError(t *testing.T) {
	a := NewAnalyzer(fakeCompleter{err: errors.New("connection refused")})

	stats := compliance.Stats{Total: 3, Completed: 1, Overdue: 2, CompletionRate: 33}
	ins, err := a.BusinessInsights(context.Background(), stats, nil)
	if err != nil {
		t.Fatalf("BusinessInsights: %v", err)
	}
	if !ins.Fallback {
		t.Fatal("expected fallback insights")
	}
	if !strings.Contains(ins.Summary, "1 of 3") {
		t.Fatalf("unexpected summary: %q", ins.Summary)
	}
	if len(ins.Risks) == 0 || !strings.Contains(ins.Risks[0], "overdue") {
		t.Fatalf("expected overdue risk, got %+v", ins.Risks)
	}
}

func TestBusinessInsightsFallsBackOnGarbage(t *testing.T) {
	a := NewAnalyzer(fakeCompleter{response: "Sure! Here are some thoughts with no JSON."})

	ins, err := a.BusinessInsights(context.Background(), compliance.Stats{Total: 1, Completed: 1, CompletionRate: 100}, nil)
	if err != nil {
		t.Fatalf("BusinessInsights: %v", err)
	}
	if !ins.Fallback {
		t.Fatal("expected fallback for unparseable output")
	}
}

func TestBusinessInsightsNilCompleter(t *testing.T) {
	a := NewAnalyzer(nil)
	deadlines := []compliance.Deadline{
		{Record: compliance.TrackingRecord{ItemID: "B1"}, DaysUntilDue: 3},
	}
	ins, err := a.BusinessInsights(context.Background(), compliance.Stats{Total: 2, Completed: 1, CompletionRate: 50}, deadlines)
	if err != nil {
		t.Fatalf("BusinessInsights: %v", err)
	}
	if !ins.Fallback {
		t.Fatal("expected fallback in fallback-only mode")
	}
	if len(ins.Actions) == 0 || !strings.Contains(ins.Actions[0], "B1") {
		t.Fatalf("expected a near-term deadline action, got %+v", ins.Actions)
	}
}

func TestParseInsightsRejectsEmptySummary(t *testing.T) {
	if _, err := parseInsights(`{"summary":"","risks":[]}`); err == nil {
		t.Fatal("expected error for empty summary")
	}
	if _, err := parseInsights(`{broken`); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
