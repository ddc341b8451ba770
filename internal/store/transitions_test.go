package store

import (
	"testing"

	"shopline/queue-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		name             string
		from             string
		target           string
		allowDirectServe bool
		want             bool
	}{
		{name: "in_queue to picked", from: models.StateInQueue, target: models.StatePicked, want: true},
		{name: "picked to served", from: models.StatePicked, target: models.StateServed, want: true},
		{name: "in_queue to served blocked", from: models.StateInQueue, target: models.StateServed, want: false},
		{name: "in_queue to served with direct serve", from: models.StateInQueue, target: models.StateServed, allowDirectServe: true, want: true},
		{name: "served is terminal", from: models.StateServed, target: models.StateInQueue, want: false},
		{name: "picked back to in_queue blocked", from: models.StatePicked, target: models.StateInQueue, want: false},
		{name: "same state is not a transition", from: models.StatePicked, target: models.StatePicked, want: false},
		{name: "unknown state", from: "waiting", target: models.StatePicked, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidTransition(tc.from, tc.target, tc.allowDirectServe)
			if got != tc.want {
				t.Fatalf("ValidTransition(%s, %s, %v) = %v, want %v", tc.from, tc.target, tc.allowDirectServe, got, tc.want)
			}
		})
	}
}

func TestKnownState(t *testing.T) {
	for _, state := range []string{models.StateInQueue, models.StatePicked, models.StateServed} {
		if !KnownState(state) {
			t.Fatalf("expected %s to be known", state)
		}
	}
	for _, state := range []string{"", "waiting", "done", "IN_QUEUE"} {
		if KnownState(state) {
			t.Fatalf("expected %s to be unknown", state)
		}
	}
}

func TestPriorStates(t *testing.T) {
	prior := PriorStates(models.StatePicked, false)
	if len(prior) != 1 || prior[0] != models.StateInQueue {
		t.Fatalf("unexpected prior states for picked: %v", prior)
	}

	prior = PriorStates(models.StateServed, false)
	if len(prior) != 1 || prior[0] != models.StatePicked {
		t.Fatalf("unexpected prior states for served: %v", prior)
	}

	prior = PriorStates(models.StateServed, true)
	if len(prior) != 2 {
		t.Fatalf("expected two prior states for served with direct serve, got %v", prior)
	}

	if prior := PriorStates(models.StateInQueue, false); len(prior) != 0 {
		t.Fatalf("expected no prior states for in_queue, got %v", prior)
	}
}
