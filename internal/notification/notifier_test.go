package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tvbacktest/internal/optimizer"
	"tvbacktest/internal/strategy"
)

func sampleReport(failed int, eligible bool) *optimizer.Report {
	return &optimizer.Report{
		Strategy:    "sma_crossover",
		ParamNames:  []string{"fast", "slow"},
		Datasets:    []string{"NIFTY_D", "BANKNIFTY_D"},
		Cells:       4,
		FailedCells: failed,
		Variants: []optimizer.VariantResult{
			{
				Rank:              1,
				Params:            strategy.Params{"fast": 9, "slow": 21},
				Score:             2.5,
				Eligible:          eligible,
				Scored:            2,
				AvgNetProfitPct:   12.5,
				AvgMaxDrawdownPct: 5,
			},
			{Rank: 2, Params: strategy.Params{"fast": 5, "slow": 21}, Score: 1},
		},
	}
}

func TestRunAlert_Levels(t *testing.T) {
	tests := []struct {
		name     string
		report   *optimizer.Report
		want     AlertLevel
		contains string
	}{
		{"clean", sampleReport(0, true), AlertInfo, "best fast=9 slow=21: score 2.50, net 12.50%, max DD 5.00%"},
		{"some_failed", sampleReport(1, true), AlertWarning, "4 cells, 1 failed"},
		{"filtered", sampleReport(0, false), AlertWarning, "no eligible variant"},
		{"all_failed", sampleReport(4, false), AlertCritical, "every cell failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := RunAlert("run-1", tt.report)
			if a.Level != tt.want {
				t.Errorf("level: got %s, want %s", a.Level, tt.want)
			}
			if !strings.Contains(a.Message, tt.contains) {
				t.Errorf("message %q should contain %q", a.Message, tt.contains)
			}
			if a.Title != "sma_crossover optimization finished" || a.RunID != "run-1" {
				t.Errorf("unexpected alert header: %+v", a)
			}
		})
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(srv.URL)
	w.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }

	alert := Alert{Level: AlertWarning, Title: "t", Message: "m", Strategy: "rsi_reversal", RunID: "abc"}
	if err := w.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Alert != alert {
		t.Errorf("payload alert: got %+v, want %+v", got.Alert, alert)
	}
	if got.TS != "2026-03-02T10:00:00Z" {
		t.Errorf("ts: got %q", got.TS)
	}
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTelegramNotifier_Send(t *testing.T) {
	var (
		path string
		msg  telegramMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&msg)
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("123:tok", "-1001")
	tn.apiBase = srv.URL
	err := tn.Send(context.Background(), Alert{Level: AlertCritical, Title: "sma_crossover done", Message: "score 2.5", RunID: "r1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/bot123:tok/sendMessage" {
		t.Errorf("path: got %q", path)
	}
	if msg.ChatID != "-1001" || msg.ParseMode != "MarkdownV2" {
		t.Errorf("message: got %+v", msg)
	}
	want := "🚨 *sma\\_crossover done*\n\nscore 2\\.5\n\n`r1`"
	if msg.Text != want {
		t.Errorf("text: got %q, want %q", msg.Text, want)
	}
}

type failingNotifier struct{ err error }

func (f failingNotifier) Send(context.Context, Alert) error { return f.err }

type countingNotifier struct{ n int }

func (c *countingNotifier) Send(context.Context, Alert) error {
	c.n++
	return nil
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	counter := &countingNotifier{}
	m := Multi{failingNotifier{errA}, counter, NewLogNotifier()}

	err := m.Send(context.Background(), Alert{Title: "x"})
	if !errors.Is(err, errA) {
		t.Errorf("expected joined error to wrap errA, got %v", err)
	}
	if counter.n != 1 {
		t.Errorf("later notifiers should still be called, got %d", counter.n)
	}
	if err := (Multi{counter}).Send(context.Background(), Alert{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain text", "plain text"},
		{"fast=9 slow=21", `fast\=9 slow\=21`},
		{"net 12.5% (max DD -3)", `net 12\.5% \(max DD \-3\)`},
		{"a_b*c!", `a\_b\*c\!`},
	}
	for _, tt := range tests {
		if got := escapeMarkdown(tt.in); got != tt.want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
