package store

import "shopline/queue-service/internal/models"

// successor is the single source of truth for the queue state machine:
// in_queue -> picked -> served, with served terminal.
var successor = map[string]string{
	models.StateInQueue: models.StatePicked,
	models.StatePicked:  models.StateServed,
}

// ValidTransition reports whether target is the legal successor of from.
// When allowDirectServe is set, in_queue -> served is additionally allowed
// so operators can complete an entry that was never picked.
func ValidTransition(from, target string, allowDirectServe bool) bool {
	if successor[from] == target {
		return true
	}
	if allowDirectServe && from == models.StateInQueue && target == models.StateServed {
		return true
	}
	return false
}

// KnownState reports whether value names a queue state at all.
func KnownState(value string) bool {
	switch value {
	case models.StateInQueue, models.StatePicked, models.StateServed:
		return true
	}
	return false
}

// PriorStates lists the states a CAS update may move from when targeting
// target.
func PriorStates(target string, allowDirectServe bool) []string {
	var prior []string
	for from, to := range successor {
		if to == target {
			prior = append(prior, from)
		}
	}
	if allowDirectServe && target == models.StateServed {
		prior = append(prior, models.StateInQueue)
	}
	return prior
}
