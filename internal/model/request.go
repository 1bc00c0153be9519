package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestState is the lifecycle position of a payment request.
type RequestState string

const (
	RequestCreated   RequestState = "CREATED"
	RequestPending   RequestState = "PENDING"
	RequestAccepted  RequestState = "ACCEPTED"
	RequestDenied    RequestState = "DENIED"
	RequestExpired   RequestState = "EXPIRED"
	RequestCancelled RequestState = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s RequestState) Terminal() bool {
	switch s {
	case RequestAccepted, RequestDenied, RequestExpired, RequestCancelled:
		return true
	}
	return false
}

// TransferRequest asks Target to pay Amount of Currency to Requester.
type TransferRequest struct {
	ID        uuid.UUID
	Requester uuid.UUID
	Target    uuid.UUID
	Currency  Currency
	Amount    decimal.Decimal
	CreatedAt time.Time
	State     RequestState
}

// Expired reports whether now is at or past CreatedAt+timeout.
func (r *TransferRequest) Expired(now time.Time, timeout time.Duration) bool {
	return !now.Before(r.CreatedAt.Add(timeout))
}
