package constants

// Row level error codes written to a job's report.
const (
	UserDoesNotExist        = "USER_DOES_NOT_EXIST"
	AlreadyFraudBlocked     = "ALREADY_FRAUD_BLOCKED"
	AccountAlreadyClosed    = "ACCOUNT_ALREADY_CLOSED"
	AccountAlreadySuspended = "ACCOUNT_ALREADY_SUSPENDED"
	AccountAlreadyCancelled = "ACCOUNT_ALREADY_CANCELLED"
	AccountAPIRejected      = "ACCOUNT_API_REJECTED"
	AccountAPITimeout       = "ACCOUNT_API_TIMEOUT"
	InternalError           = "INTERNAL_ERROR"
)

// QueProcessBulkJob is the que-go job type consumed by the bulk worker.
const QueProcessBulkJob = "ProcessBulkJob"

const (
	DefaultPhoneRegion = "US"
	MetricNamespace    = "Servicing"
)

const RespCodeErr = "request %s has unexpected response code received %d, body '%s'"
