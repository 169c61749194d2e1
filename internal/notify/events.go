package notify

import "modelops/pkg/cloudevent"

// Event types for lifecycle notifications.
const (
	EventTypeStage     = "modelops.variant.stage"
	EventTypePromoted  = "modelops.variant.promoted"
	EventTypeRejected  = "modelops.variant.rejected"
	EventTypeAnnounced = "modelops.promotion.announced"
)

// Builder builds lifecycle CloudEvents for one pipeline run.
type Builder struct {
	source string
	runID  string
}

// NewBuilder creates a builder stamping events with runID.
func NewBuilder(source, runID string) *Builder {
	if source == "" {
		source = "modelops/pipeline"
	}
	return &Builder{source: source, runID: runID}
}

func (b *Builder) build(eventType, subject string, data map[string]any) *cloudevent.CloudEvent {
	data["runId"] = b.runID
	return cloudevent.New(eventType, b.source, subject, data)
}

// Stage reports that variant entered state. err is set for the failed state.
func (b *Builder) Stage(variant, state string, err error) *cloudevent.CloudEvent {
	data := map[string]any{"variant": variant, "state": state}
	if err != nil {
		data["error"] = err.Error()
	}
	return b.build(EventTypeStage, variant, data)
}

// Promoted reports that variant's candidate reached production.
func (b *Builder) Promoted(variant string, metrics map[string]float64) *cloudevent.CloudEvent {
	return b.build(EventTypePromoted, variant, map[string]any{
		"variant": variant,
		"metrics": metrics,
	})
}

// Rejected reports that variant's candidate failed the validation gate.
func (b *Builder) Rejected(variant string, metrics map[string]float64, failed []string) *cloudevent.CloudEvent {
	return b.build(EventTypeRejected, variant, map[string]any{
		"variant": variant,
		"metrics": metrics,
		"failed":  failed,
	})
}

// Announced reports the branch merge outcome of a run.
func (b *Builder) Announced(outcome string, err error) *cloudevent.CloudEvent {
	data := map[string]any{"outcome": outcome}
	if err != nil {
		data["error"] = err.Error()
	}
	return b.build(EventTypeAnnounced, "", data)
}
