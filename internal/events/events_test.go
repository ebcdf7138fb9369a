package events

import (
	"context"
	"testing"
	"time"
)

func TestMultiPublishesInOrder(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	var calls []string
	m := Multi{a, nil, PublisherFunc(func(_ context.Context, evs []Event) {
		for _, e := range evs {
			calls = append(calls, e.Name)
		}
	}), b}

	ts := time.Unix(1_700_000_000, 0)
	m.Publish(context.Background(), []Event{
		New("0xam", IllegalPaymentConfirmed, ts, nil),
		New("0xam", FullLiquidationStarted, ts, map[string]any{"agentVault": "0x1"}),
	})

	for _, r := range []*Recorder{a, b} {
		names := r.Names()
		if len(names) != 2 || names[0] != IllegalPaymentConfirmed || names[1] != FullLiquidationStarted {
			t.Errorf("unexpected order %v", names)
		}
	}
	if len(calls) != 2 {
		t.Errorf("func publisher saw %d events", len(calls))
	}
	if got := a.Named(FullLiquidationStarted); len(got) != 1 || got[0].Args["agentVault"] != "0x1" {
		t.Errorf("unexpected events %+v", got)
	}
}

func TestNewAssignsIDs(t *testing.T) {
	e1 := New("s", "n", time.Now(), nil)
	e2 := New("s", "n", time.Now(), nil)
	if e1.ID == "" || e1.ID == e2.ID {
		t.Errorf("expected unique ids, got %q and %q", e1.ID, e2.ID)
	}
	if e1.Args == nil {
		t.Error("args must not be nil")
	}
}
