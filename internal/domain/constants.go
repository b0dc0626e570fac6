package domain

// TransferStatus is the persisted lifecycle state of a transfer.
type TransferStatus string

const (
	TransferStatusInitiated  TransferStatus = "INITIATED"
	TransferStatusProcessing TransferStatus = "PROCESSING"
	TransferStatusPending    TransferStatus = "PENDING"
	TransferStatusCompleted  TransferStatus = "COMPLETED"
	TransferStatusFailed     TransferStatus = "FAILED"
)

// IsTerminal reports whether the transfer can no longer change.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusCompleted || s == TransferStatusFailed
}

// Phase is an in-memory execution step of a single orchestration run.
// Phases are never persisted; they only show up in logs and metrics.
type Phase string

const (
	PhaseAdmitted   Phase = "ADMITTED"
	PhaseReserving  Phase = "RESERVING"
	PhaseRouting    Phase = "ROUTING"
	PhaseCompleting Phase = "COMPLETING"
	PhaseReleasing  Phase = "RELEASING"
	PhaseDone       Phase = "DONE"
)

// Reservation statuses reported by the ledger.
const (
	ReservationStatusReserved  = "RESERVED"
	ReservationStatusRejected  = "REJECTED"
	ReservationStatusCommitted = "COMMITTED"
	ReservationStatusReleased  = "RELEASED"
)

// Failure reasons recorded on FAILED transfers.
const (
	FailureReservationFailed = "reservation failed"
	FailureLedgerUnavailable = "ledger unavailable"
	FailureGatewayTimeout    = "gateway timeout"
	FailureInterrupted       = "interrupted"
)

// Origin tags the aggregate that asked for a transfer.
const (
	OriginDirect    = "DIRECT"
	OriginScheduled = "SCHEDULED"
	OriginSplitBill = "SPLIT_BILL"
)

// Event types published on the bus.
const (
	EventTransactionInitiated = "transaction.initiated"
	EventTransactionPending   = "transaction.pending"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventReservationCreated   = "reservation.created"
	EventReservationReleased  = "reservation.released"
)
