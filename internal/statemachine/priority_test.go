package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gsd-tools/review-broker/internal/domain"
)

func TestInferPriority(t *testing.T) {
	assert.Equal(t, domain.PriorityCritical, InferPriority("Planner", "implement"))
	assert.Equal(t, domain.PriorityCritical, InferPriority("claude-planner-v2", "verify"))
	assert.Equal(t, domain.PriorityLow, InferPriority("coder", "VERIFY"))
	assert.Equal(t, domain.PriorityNormal, InferPriority("coder", "implement"))
}

func TestPriorityRank_Orders(t *testing.T) {
	assert.Less(t, PriorityRank(domain.PriorityCritical), PriorityRank(domain.PriorityNormal))
	assert.Less(t, PriorityRank(domain.PriorityNormal), PriorityRank(domain.PriorityLow))
}
