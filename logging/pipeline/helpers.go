package pipeline

import (
	"context"

	"github.com/Ruskei/BetterHud/logging"
)

const (
	// EventRegistrationRejected is emitted when a placeholder cannot be registered or bound.
	EventRegistrationRejected logging.EventType = "pipeline.registration_rejected"
	// EventBuildFailed is emitted when a placeholder's build phase fails for an update cycle.
	EventBuildFailed logging.EventType = "pipeline.build_failed"
	// EventEvaluationFailed is emitted when a component cannot be evaluated for a player.
	EventEvaluationFailed logging.EventType = "pipeline.evaluation_failed"
	// EventComparisonMismatch is emitted when a condition compares a number against a non-numeric string.
	EventComparisonMismatch logging.EventType = "pipeline.comparison_mismatch"
	// EventListenerConfigWarning is emitted for listener settings that load but behave oddly.
	EventListenerConfigWarning logging.EventType = "pipeline.listener_config_warning"
	// EventCacheSwept is emitted after the listener cache sweeper evicts expired entries.
	EventCacheSwept logging.EventType = "pipeline.cache_swept"
)

// RegistrationRejectedPayload describes a rejected registration or binding.
type RegistrationRejectedPayload struct {
	Placeholder string `json:"placeholder"`
	Reason      string `json:"reason"`
}

// RegistrationRejected publishes a registration failure.
func RegistrationRejected(ctx context.Context, pub logging.Publisher, payload RegistrationRejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRegistrationRejected,
		Actor:    logging.EntityRef{ID: payload.Placeholder, Kind: logging.EntityKindPlaceholder},
		Severity: logging.SeverityError,
		Category: logging.CategoryPipeline,
		Payload:  payload,
	})
}

// BuildFailedPayload captures a failed build phase.
type BuildFailedPayload struct {
	Placeholder string   `json:"placeholder"`
	Args        []string `json:"args,omitempty"`
	Source      string   `json:"source"`
	Error       string   `json:"error"`
}

// BuildFailed publishes a build-phase failure for the given update cycle.
func BuildFailed(ctx context.Context, pub logging.Publisher, tick uint64, cycleKey string, payload BuildFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBuildFailed,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: payload.Placeholder, Kind: logging.EntityKindPlaceholder},
		Severity: logging.SeverityError,
		Category: logging.CategoryPipeline,
		Payload:  payload,
		CycleKey: cycleKey,
	})
}

// EvaluationFailedPayload captures a per-player evaluation failure.
type EvaluationFailedPayload struct {
	Group     string `json:"group"`
	Component string `json:"component"`
	Error     string `json:"error"`
	Fallback  string `json:"fallback"`
}

// EvaluationFailed publishes a per-(component, player) evaluation failure.
func EvaluationFailed(ctx context.Context, pub logging.Publisher, tick uint64, player string, payload EvaluationFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEvaluationFailed,
		Tick:     tick,
		Actor:    logging.PlayerRef(player),
		Targets:  []logging.EntityRef{logging.ComponentRef(payload.Component)},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryPipeline,
		Payload:  payload,
	})
}

// ComparisonMismatchPayload describes a condition that failed on incompatible operands.
type ComparisonMismatchPayload struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

// ComparisonMismatch publishes a condition type mismatch. The condition
// itself resolved to false.
func ComparisonMismatch(ctx context.Context, pub logging.Publisher, tick uint64, player string, payload ComparisonMismatchPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventComparisonMismatch,
		Tick:     tick,
		Actor:    logging.PlayerRef(player),
		Targets:  []logging.EntityRef{logging.ComponentRef(payload.Component)},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPipeline,
		Payload:  payload,
	})
}

// ListenerConfigWarningPayload carries a non-fatal listener configuration issue.
type ListenerConfigWarningPayload struct {
	Listener string `json:"listener"`
	Warning  string `json:"warning"`
}

// ListenerConfigWarning publishes a listener configuration warning.
func ListenerConfigWarning(ctx context.Context, pub logging.Publisher, payload ListenerConfigWarningPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventListenerConfigWarning,
		Actor:    logging.EntityRef{ID: payload.Listener, Kind: logging.EntityKindListener},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryPipeline,
		Payload:  payload,
	})
}

// CacheSweptPayload summarises a sweep pass.
type CacheSweptPayload struct {
	Evicted   int `json:"evicted"`
	Remaining int `json:"remaining"`
}

// CacheSwept publishes the outcome of a listener cache sweep.
func CacheSwept(ctx context.Context, pub logging.Publisher, tick uint64, payload CacheSweptPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCacheSwept,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: "listener-cache", Kind: logging.EntityKindSystem},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPipeline,
		Payload:  payload,
	})
}
