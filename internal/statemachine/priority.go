package statemachine

import (
	"strings"

	"github.com/gsd-tools/review-broker/internal/domain"
)

// InferPriority is a pure function of (agentType, phase), grounded on
// original_source/priority.py. Planner precedes the verify-phase check.
func InferPriority(agentType, phase string) domain.Priority {
	if strings.Contains(strings.ToLower(agentType), "planner") {
		return domain.PriorityCritical
	}
	if strings.Contains(strings.ToLower(phase), "verify") {
		return domain.PriorityLow
	}
	return domain.PriorityNormal
}

// priorityRank orders list_reviews results: critical, normal, low.
func priorityRank(p domain.Priority) int {
	switch p {
	case domain.PriorityCritical:
		return 0
	case domain.PriorityNormal:
		return 1
	case domain.PriorityLow:
		return 2
	default:
		return 3
	}
}

// PriorityRank exposes priorityRank for ORDER BY CASE construction at the
// store layer.
func PriorityRank(p domain.Priority) int { return priorityRank(p) }
