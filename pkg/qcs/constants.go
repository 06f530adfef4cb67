package qcs

// Operation names reported through OperationLogger by the negotiation loop.
const (
	OperationQueryCredits      = "query_credits"
	OperationQueryAvailability = "query_availability"
	OperationPresent           = "present"
	OperationAdvance           = "advance"
	OperationSelect            = "select"
	OperationBook              = "book"
	OperationAbort             = "abort"
)

const (
	OperationStatusOK    = "ok"
	OperationStatusError = "error"
)

const (
	// ErrorTypeReservationNotFound is returned by GET /schedule when no reservation matches.
	ErrorTypeReservationNotFound = "reservation_not_found"
	// ErrorTypeLatticesNotFound is returned by GET /lattices when no lattice matches.
	ErrorTypeLatticesNotFound = "lattices_not_found"

	// ReservationStatusActive marks a reservation that has not been cancelled.
	ReservationStatusActive = "ACTIVE"
)
