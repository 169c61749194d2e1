// Package observability provides the service's OpenTelemetry metrics.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrVariant = "variant"
	attrStage   = "stage"
	attrSuccess = "success"
	attrPassed  = "passed"
	attrOutcome = "outcome"
	attrAwait   = "await"
)

// variantRoutes are API prefixes followed by a variant path segment.
var variantRoutes = []string{"/v1/datasets/", "/v1/holdouts/", "/v1/predict/", "/v1/status/"}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func variantAttr(variant string) attribute.KeyValue {
	return attribute.String(attrVariant, variant)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func passedAttr(passed bool) attribute.KeyValue {
	return attribute.Bool(attrPassed, passed)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func awaitAttr(name string) attribute.KeyValue {
	return attribute.String(attrAwait, name)
}

// normalizePath replaces the variant segment of API paths with a placeholder.
// Variants are user supplied, so raw paths would be unbounded label values.
func normalizePath(path string) string {
	for _, prefix := range variantRoutes {
		if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
			return prefix + "{variant}"
		}
	}
	return path
}
