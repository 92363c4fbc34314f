// Package events defines the wire contracts for transaction lifecycle events
// consumed by the budget service and the budget alerts it emits. Inbound
// payloads form a closed set of variants dispatched by kind; there is no
// reflection-based routing.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed marks an event payload that can never be processed successfully:
// missing required fields, an unparseable body, or a non-positive amount.
// Consumers must not requeue such messages.
var ErrMalformed = errors.New("malformed event")

// Kind identifies the transaction lifecycle variant of an inbound event.
type Kind string

const (
	KindCreated Kind = "CREATED"
	KindDeleted Kind = "DELETED"
)

// Category type of the transaction that produced an event. Only expense
// transactions affect budgets.
const CategoryTypeExpense = "expense"

// ID builds the deterministic event identifier from the business transaction
// id, the event kind, and the delivery coordinate. Redelivery of the same
// physical message yields the same identifier; distinct lifecycle events for
// the same transaction (create, then delete) do not collide because the kind
// differs.
func ID(transactionID string, kind Kind, partition int32, offset int64) string {
	return fmt.Sprintf("%s-%s-%d-%d", transactionID, kind, partition, offset)
}

// TransactionEvent is the closed set of inbound transaction lifecycle events.
// Implemented only by TransactionCreatedEvent and TransactionDeletedEvent.
type TransactionEvent interface {
	EventKind() Kind
	Transaction() string
}

// TransactionCreatedEvent is published by the transaction service when a new
// transaction is recorded.
type TransactionCreatedEvent struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	UserEmail       string    `json:"user_email"`
	AmountCents     int64     `json:"amount_cents"`
	CategoryID      int       `json:"category_id"`
	CategoryName    string    `json:"category_name"`
	CategoryType    string    `json:"category_type"`
	Description     string    `json:"description"`
	TransactionDate time.Time `json:"transaction_date"`
}

// EventKind implements TransactionEvent.
func (e *TransactionCreatedEvent) EventKind() Kind { return KindCreated }

// Transaction implements TransactionEvent.
func (e *TransactionCreatedEvent) Transaction() string { return e.ID }

// Validate checks the field contract. A violation is wrapped in ErrMalformed.
func (e *TransactionCreatedEvent) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing transaction id", ErrMalformed)
	case e.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrMalformed)
	case e.AmountCents <= 0:
		return fmt.Errorf("%w: non-positive amount %d", ErrMalformed, e.AmountCents)
	case e.CategoryType == "":
		return fmt.Errorf("%w: missing category type", ErrMalformed)
	}
	return nil
}

// TransactionDeletedEvent is published by the transaction service when a
// previously recorded transaction is deleted.
type TransactionDeletedEvent struct {
	TransactionID   string    `json:"transaction_id"`
	UserID          string    `json:"user_id"`
	UserEmail       string    `json:"user_email"`
	AmountCents     int64     `json:"amount_cents"`
	CategoryID      int       `json:"category_id"`
	CategoryName    string    `json:"category_name"`
	CategoryType    string    `json:"category_type"`
	Description     string    `json:"description"`
	TransactionDate time.Time `json:"transaction_date"`
	DeletedAt       time.Time `json:"deleted_at"`
}

// EventKind implements TransactionEvent.
func (e *TransactionDeletedEvent) EventKind() Kind { return KindDeleted }

// Transaction implements TransactionEvent.
func (e *TransactionDeletedEvent) Transaction() string { return e.TransactionID }

// Validate checks the field contract. A violation is wrapped in ErrMalformed.
func (e *TransactionDeletedEvent) Validate() error {
	switch {
	case e.TransactionID == "":
		return fmt.Errorf("%w: missing transaction id", ErrMalformed)
	case e.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrMalformed)
	case e.AmountCents <= 0:
		return fmt.Errorf("%w: non-positive amount %d", ErrMalformed, e.AmountCents)
	case e.CategoryType == "":
		return fmt.Errorf("%w: missing category type", ErrMalformed)
	}
	return nil
}

// DecodeCreated parses and validates a TransactionCreatedEvent payload.
func DecodeCreated(body []byte) (*TransactionCreatedEvent, error) {
	var ev TransactionCreatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// DecodeDeleted parses and validates a TransactionDeletedEvent payload.
func DecodeDeleted(body []byte) (*TransactionDeletedEvent, error) {
	var ev TransactionDeletedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
