package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/itcshield/itc/internal/poller"
	"github.com/itcshield/itc/internal/recon"
	"github.com/itcshield/itc/internal/remote"
)

// --- Multi tests ---

func TestMulti_SendsToAll(t *testing.T) {
	a, b := &MockAdapter{}, &MockAdapter{}
	if err := (Multi{a, b}).Send(context.Background(), Message{Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a.SentCount() != 1 || b.SentCount() != 1 {
		t.Errorf("counts = %d, %d", a.SentCount(), b.SentCount())
	}
}

func TestMulti_ContinuesPastFailure(t *testing.T) {
	bad := &MockAdapter{Err: errors.New("boom")}
	good := &MockAdapter{}
	err := (Multi{bad, good}).Send(context.Background(), Message{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "adapter 0: boom") {
		t.Errorf("err = %v", err)
	}
	if good.SentCount() != 1 {
		t.Error("second adapter skipped after first failed")
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Send(context.Background(), Message{}); err != nil {
		t.Errorf("Nop.Send = %v", err)
	}
}

func TestMockAdapter_LastSent(t *testing.T) {
	m := &MockAdapter{}
	if m.LastSent() != nil {
		t.Error("LastSent on empty mock should be nil")
	}
	_ = m.Send(context.Background(), Message{Text: "a"})
	_ = m.Send(context.Background(), Message{Text: "b"})
	if m.LastSent().Text != "b" || len(m.AllSent()) != 2 {
		t.Errorf("LastSent = %+v", m.LastSent())
	}
}

// --- Format tests ---

func TestJobCompleted(t *testing.T) {
	job := poller.Job{
		ID:    "job-1",
		State: poller.StateCompleted,
		Result: &remote.JobReport{
			Total: 3, Success: 2, Failed: 1,
			RiskSummary: map[string]int{"HIGH": 1, "LOW": 2, "UNKNOWN": 0},
		},
	}
	msg := JobCompleted(job, "vendors.csv")
	if len(msg.Events) != 1 {
		t.Fatalf("events = %d", len(msg.Events))
	}
	evt := msg.Events[0]
	if evt.Severity != "warning" || evt.Color != ColorWarning {
		t.Errorf("severity = %s, color = %s; want warning when vendors failed", evt.Severity, evt.Color)
	}
	var names []string
	for _, f := range evt.Fields {
		names = append(names, f.Name)
	}
	want := "File,Vendors,Passed,Failed,Risk LOW,Risk HIGH,Risk UNKNOWN"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("fields = %s, want %s", got, want)
	}
}

func TestJobCompleted_AllPassed(t *testing.T) {
	msg := JobCompleted(poller.Job{ID: "j", Result: &remote.JobReport{Total: 1, Success: 1}}, "")
	if msg.Events[0].Severity != "success" {
		t.Errorf("severity = %s", msg.Events[0].Severity)
	}
}

func TestJobFailed(t *testing.T) {
	msg := JobFailed(poller.Job{ID: "job-2", Error: "vendor master unavailable"}, "v.csv")
	evt := msg.Events[0]
	if evt.Title != "Batch job-2 failed" || evt.Body != "vendor master unavailable" || evt.Color != ColorError {
		t.Errorf("event = %+v", evt)
	}
}

func TestReconciliationDone(t *testing.T) {
	p, err := recon.Decode([]byte(`{"period":"102025","summary":{"total_pr":2,"total_2b":1,"matched":1,"mismatch":1},
		"results":{"matched":[{"pr_amount":100,"gstr2b_amount":100,"difference":0}],
		"mismatch":[{"pr_amount":100,"gstr2b_amount":80,"difference":20}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	msg := ReconciliationDone("run-1", recon.Classify(p), 0)
	evt := msg.Events[0]
	if evt.Severity != "warning" {
		t.Errorf("severity = %s, want warning with a mismatch", evt.Severity)
	}
	var disputed string
	for _, f := range evt.Fields {
		if f.Name == "Disputed amount" {
			disputed = f.Value
		}
	}
	if disputed != "₹20.00" {
		t.Errorf("disputed = %q", disputed)
	}

	msg = ReconciliationDone("run-1", recon.Classify(p), 2)
	if msg.Events[0].Severity != "error" || !strings.Contains(msg.Events[0].Body, "2 consistency issue") {
		t.Errorf("event = %+v", msg.Events[0])
	}
}
