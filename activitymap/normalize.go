package activitymap

import (
	"strings"
	"time"

	selfservice "github.com/goliatone/go-selfservice"
)

const (
	// MetadataKeyActorType stores the actor type derived from selfservice.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataRedacted replaces sensitive metadata values.
	MetadataRedacted = "[redacted]"
)

const (
	defaultChannel    = "selfservice"
	defaultObjectType = "user"
	defaultActorID    = "system"
)

var defaultSensitiveKeys = []string{"password", "token", "secret"}

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	objectType    string
	actorFallback string
	sensitiveKeys []string
}

// Normalize converts a selfservice.ActivityEvent into a generic normalized shape.
// Metadata keys containing a sensitive fragment are redacted.
func Normalize(event selfservice.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
		options.actorFallback,
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event, options.sensitiveKeys),
		OccurredAt: occurredAt.UTC(),
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the final actor-id fallback when actor/user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithSensitiveKeys adds metadata key fragments that get redacted.
func WithSensitiveKeys(keys ...string) Option {
	return func(opts *normalizeOptions) {
		for _, key := range keys {
			if key = strings.ToLower(strings.TrimSpace(key)); key != "" {
				opts.sensitiveKeys = append(opts.sensitiveKeys, key)
			}
		}
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		sensitiveKeys: append([]string(nil), defaultSensitiveKeys...),
	}
}

func normalizeMetadata(event selfservice.ActivityEvent, sensitive []string) map[string]any {
	var metadata map[string]any
	if len(event.Metadata) > 0 {
		metadata = make(map[string]any, len(event.Metadata)+1)
		for key, value := range event.Metadata {
			if isSensitive(key, sensitive) {
				value = MetadataRedacted
			}
			metadata[key] = value
		}
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyActorType]; !exists {
			metadata[MetadataKeyActorType] = actorType
		}
	}

	return metadata
}

func isSensitive(key string, sensitive []string) bool {
	key = strings.ToLower(key)
	for _, fragment := range sensitive {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
