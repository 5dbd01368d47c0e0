package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Booking errors
	CodeBookingInvalidStatusTransition Code = "BOOKING_INVALID_STATUS_TRANSITION"
	CodeBookingUserMissing             Code = "BOOKING_USER_MISSING"
	CodeBookingTrainMissing            Code = "BOOKING_TRAIN_MISSING"
	CodeBookingFareInvalid             Code = "BOOKING_FARE_INVALID"
	CodeBookingCurrencyMissing         Code = "BOOKING_CURRENCY_MISSING"

	// Event errors
	CodeEventTypeUnknown        Code = "EVENT_TYPE_UNKNOWN"
	CodeEventAggregateMissing   Code = "EVENT_AGGREGATE_MISSING"
	CodeEventPayloadInvalid     Code = "EVENT_PAYLOAD_INVALID"
	CodeEventStreamEmpty        Code = "EVENT_STREAM_EMPTY"
	CodeEventPayloadUndecodable Code = "EVENT_PAYLOAD_UNDECODABLE"

	// Saga errors
	CodeSagaRequestInvalid Code = "SAGA_REQUEST_INVALID"
	CodeSagaDataInvalid    Code = "SAGA_DATA_INVALID"

	// Idempotency errors
	CodeIdempotencyKeyMissing  Code = "IDEMPOTENCY_KEY_MISSING"
	CodeIdempotencyWaitExpired Code = "IDEMPOTENCY_WAIT_EXPIRED"
)

// HTTPStatus maps an error code onto the HTTP status the API surface returns.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound, CodeEventStreamEmpty:
		return http.StatusNotFound
	case CodeBookingInvalidStatusTransition,
		CodeBookingUserMissing,
		CodeBookingTrainMissing,
		CodeBookingFareInvalid,
		CodeBookingCurrencyMissing,
		CodeSagaRequestInvalid,
		CodeIdempotencyKeyMissing:
		return http.StatusBadRequest
	case CodeIdempotencyWaitExpired:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
