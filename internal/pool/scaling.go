package pool

import (
	"context"
	"math"
	"sort"

	"github.com/gsd-tools/review-broker/internal/domain"
	"github.com/gsd-tools/review-broker/internal/store"
)

// activeCountForProject counts tracked, non-draining, non-exited
// subprocesses scoped to project (nil and "" both mean the no-project
// bucket, since spawn_reviewer(project=nil) and spawn_reviewer(project="")
// are indistinguishable once persisted).
func (p *Pool) activeCountForProject(project *string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := projectKey(project)
	count := 0
	for id, proc := range p.processes {
		if p.draining[id] || proc.exitCode != nil {
			continue
		}
		if projectKey(p.projectOf[id]) == key {
			count++
		}
	}
	return count
}

func projectKey(project *string) string {
	if project == nil {
		return ""
	}
	return *project
}

// ReactiveScale implements spec §4.5.2: group pending reviews by project,
// spawn up to the ratio-derived deficit per bucket, capped by remaining
// pool headroom. Cooldown is bypassed for every bucket in a scaling pass —
// the periodic interval (or the create/requeue trigger) is the pass's own
// throttle, not the per-spawn cooldown.
func (p *Pool) ReactiveScale(ctx context.Context) error {
	if p.cfg == nil {
		return nil
	}

	pending := domain.StatusPending
	reviews, err := p.store.ListReviews(ctx, store.ListReviewsFilter{Status: &pending})
	if err != nil {
		return err
	}

	buckets := make(map[string]int)
	bucketProject := make(map[string]*string)
	for _, r := range reviews {
		key := projectKey(r.Project)
		buckets[key]++
		bucketProject[key] = r.Project
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		headroom := p.cfg.MaxPoolSize - p.ActiveCount()
		if headroom <= 0 {
			break
		}

		pendingCount := buckets[key]
		active := p.activeCountForProject(bucketProject[key])
		needed := int(math.Ceil(float64(pendingCount)/p.cfg.ScalingRatio)) - active
		if needed > headroom {
			needed = headroom
		}
		for i := 0; i < needed; i++ {
			if _, err := p.SpawnReviewer(ctx, bucketProject[key], true); err != nil {
				return err
			}
		}
	}
	return nil
}
