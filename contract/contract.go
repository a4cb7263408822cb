//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"dm-relay/domain/chat"
	"dm-relay/domain/event"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Consumer receives events without being addressable (search index, projections).
type Consumer interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// EventSink is one live channel of a user. ID is its identity in the registry.
// Reserve books the next slot in the channel's outbound order without blocking;
// the returned Delivery fills that slot and must be called exactly once.
type EventSink interface {
	Consumer
	ID() string
	Reserve() Delivery
}

// Delivery pushes an event into a slot booked with EventSink.Reserve.
type Delivery func(ctx context.Context, e event.DomainEvent) error

type IRegistry interface {
	Register(userID chat.UserID, sink EventSink)
	Unregister(userID chat.UserID, sink EventSink)
	ChannelsFor(userID chat.UserID) []EventSink
	IsOnline(userID chat.UserID) bool
	Count() (users int, channels int)
}

// IProfileResolver is the identity collaborator used to decorate inbox entries.
type IProfileResolver interface {
	Resolve(ctx context.Context, userID chat.UserID) (chat.Profile, error)
}
