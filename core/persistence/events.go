package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
)

// RepositoryEventType defines the possible event types for repository operations.
type RepositoryEventType string

const (
	DocumentCreateStart   RepositoryEventType = "document:create:start"
	DocumentCreateSuccess RepositoryEventType = "document:create:success"
	DocumentCreateFailed  RepositoryEventType = "document:create:failed"
	DocumentReadStart     RepositoryEventType = "document:read:start"
	DocumentReadSuccess   RepositoryEventType = "document:read:success"
	DocumentReadFailed    RepositoryEventType = "document:read:failed"
	DocumentUpdateStart   RepositoryEventType = "document:update:start"
	DocumentUpdateSuccess RepositoryEventType = "document:update:success"
	DocumentUpdateFailed  RepositoryEventType = "document:update:failed"
	DocumentDeleteStart   RepositoryEventType = "document:delete:start"
	DocumentDeleteSuccess RepositoryEventType = "document:delete:success"
	DocumentDeleteFailed  RepositoryEventType = "document:delete:failed"
	BulkWriteStart        RepositoryEventType = "bulk:write:start"
	BulkWriteSuccess      RepositoryEventType = "bulk:write:success"
	BulkWriteFailed       RepositoryEventType = "bulk:write:failed"
	CloneStart            RepositoryEventType = "clone:start"
	CloneSuccess          RepositoryEventType = "clone:success"
	CloneFailed           RepositoryEventType = "clone:failed"
	SubscriptionRegister  RepositoryEventType = "subscription:register"
)

// RepositoryEvent represents events emitted during repository operations.
type RepositoryEvent struct {
	Type       RepositoryEventType `json:"type"`
	Timestamp  int64               `json:"timestamp"` // Unix milliseconds
	Operation  string              `json:"operation"`
	Collection string              `json:"collection"`
	Input      any                 `json:"input,omitempty"`
	Output     any                 `json:"output,omitempty"`
	Error      *string             `json:"error,omitempty"`
	Duration   *int64              `json:"duration,omitempty"` // milliseconds
}

// EventCallbackFunction is a subscriber callback for repository events.
type EventCallbackFunction func(ctx context.Context, event RepositoryEvent) error

// SubscriptionInfo describes a registered subscription.
type SubscriptionInfo struct {
	Event       RepositoryEventType `json:"event"`
	Label       *string             `json:"label,omitempty"`
	Description *string             `json:"description,omitempty"`
	Unsubscribe func()
}

// RegisterSubscriptionOptions defines options for registering a subscription.
type RegisterSubscriptionOptions struct {
	Event       RepositoryEventType
	Label       *string
	Description *string
	Callback    EventCallbackFunction
}

// subscriptionSet holds the uuid-keyed subscriptions of a repository.
type subscriptionSet struct {
	bus           *events.TypedEventBus[RepositoryEvent]
	subscriptions map[string]*SubscriptionInfo
	mu            sync.RWMutex
}

func newSubscriptionSet(bus *events.TypedEventBus[RepositoryEvent]) *subscriptionSet {
	return &subscriptionSet{
		bus:           bus,
		subscriptions: map[string]*SubscriptionInfo{},
	}
}

func (s *subscriptionSet) register(options RegisterSubscriptionOptions) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	unsubscribe := s.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	s.subscriptions[id] = &SubscriptionInfo{
		Event:       options.Event,
		Label:       options.Label,
		Description: options.Description,
		Unsubscribe: unsubscribe,
	}
	return id
}

func (s *subscriptionSet) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(s.subscriptions, id)
	}
}

func (s *subscriptionSet) list() []SubscriptionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}

// createEvent builds a RepositoryEvent with a duration measured from start.
func createEvent(
	eventType RepositoryEventType,
	operation string,
	collection string,
	input any,
	output any,
	errStr *string,
	start time.Time,
) RepositoryEvent {
	duration := time.Since(start).Milliseconds()
	return RepositoryEvent{
		Type:       eventType,
		Timestamp:  start.UnixMilli(),
		Operation:  operation,
		Collection: collection,
		Input:      input,
		Output:     output,
		Error:      errStr,
		Duration:   &duration,
	}
}

// withEvents wraps an operation with start, success, and failure events.
func (r *Repository) withEvents(
	operation string,
	startType, successType, failedType RepositoryEventType,
	input any,
	fn func() (any, error),
) (any, error) {
	start := time.Now()

	r.emit(createEvent(startType, operation, r.name, input, nil, nil, start))

	result, err := fn()
	if err != nil {
		errStr := err.Error()
		r.emit(createEvent(failedType, operation, r.name, input, nil, &errStr, start))
		return nil, err
	}

	r.emit(createEvent(successType, operation, r.name, input, result, nil, start))
	return result, nil
}

func (r *Repository) emit(event RepositoryEvent) {
	if r.bus != nil {
		r.bus.Emit(string(event.Type), event)
	}
}

// RegisterSubscription registers a callback for a repository event type and
// returns an id usable with UnregisterSubscription.
func (r *Repository) RegisterSubscription(options RegisterSubscriptionOptions) string {
	id := r.subs.register(options)
	r.emit(createEvent(
		SubscriptionRegister,
		"register_subscription",
		r.name,
		map[string]any{"event": options.Event, "label": options.Label},
		map[string]any{"subscriptionId": id},
		nil,
		time.Now(),
	))
	return id
}

// UnregisterSubscription removes a subscription by its id.
func (r *Repository) UnregisterSubscription(id string) {
	r.subs.unregister(id)
}

// Subscriptions returns all registered subscriptions.
func (r *Repository) Subscriptions() []SubscriptionInfo {
	return r.subs.list()
}
