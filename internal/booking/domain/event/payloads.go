package event

// Typed event payloads. Update-style payloads use pointer fields so a fold
// only touches fields the event actually carries; replay then composes
// correctly across partial updates.

// BookingCreatedPayload carries the initial booking fields.
type BookingCreatedPayload struct {
	UserID        string `json:"user_id"`
	TrainID       string `json:"train_id"`
	FareAmount    int64  `json:"fare_amount"`
	Currency      string `json:"currency"`
	PassengerName string `json:"passenger_name,omitempty"`
	Status        string `json:"status"`
}

// BookingUpdatedPayload carries a partial booking update.
type BookingUpdatedPayload struct {
	Status        *string `json:"status,omitempty"`
	FareAmount    *int64  `json:"fare_amount,omitempty"`
	Currency      *string `json:"currency,omitempty"`
	PassengerName *string `json:"passenger_name,omitempty"`
}

// BookingStatusChangedPayload overwrites the booking status.
type BookingStatusChangedPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// BookingConfirmedPayload marks the booking CONFIRMED.
type BookingConfirmedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// BookingCancelledPayload marks the booking CANCELLED.
type BookingCancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// BookingFareUpdatedPayload overwrites the fare amount.
type BookingFareUpdatedPayload struct {
	FareAmount int64 `json:"fare_amount"`
}

// PaymentInitiatedPayload carries the provisional payment request.
type PaymentInitiatedPayload struct {
	BookingID string `json:"booking_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// PaymentStatusChangedPayload overwrites the payment status.
type PaymentStatusChangedPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// PaymentAmountUpdatedPayload overwrites the payment amount.
type PaymentAmountUpdatedPayload struct {
	Amount int64 `json:"amount"`
}
