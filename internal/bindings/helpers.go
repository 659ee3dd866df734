package bindings

import (
	"time"

	"github.com/gsd-tools/review-broker/internal/domain"
)

func strField(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func strPtrField(input map[string]any, key string) *string {
	v, ok := input[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func boolField(input map[string]any, key string) bool {
	v, _ := input[key].(bool)
	return v
}

func intField(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func intPtrField(input map[string]any, key string) *int {
	v, ok := input[key]
	if !ok || v == nil {
		return nil
	}
	n := intField(input, key, 0)
	return &n
}

func int64PtrField(input map[string]any, key string) *int64 {
	if v, ok := input[key]; !ok || v == nil {
		return nil
	}
	n := int64(intField(input, key, 0))
	return &n
}

func statusPtrField(input map[string]any, key string) *domain.ReviewStatus {
	s := strPtrField(input, key)
	if s == nil {
		return nil
	}
	status := domain.ReviewStatus(*s)
	return &status
}

func strSliceField(input map[string]any, key string) []string {
	v, ok := input[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v))
	for _, e := range v {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func metadataField(input map[string]any, key string) map[string]any {
	v, _ := input[key].(map[string]any)
	return v
}

func waitTimeoutField(input map[string]any, key string) time.Duration {
	switch v := input[key].(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return 0
}
