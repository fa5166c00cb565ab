package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldTxID        = "transaction_id"
	FieldDepositID   = "deposit_id"
	FieldKind        = "kind"
	FieldCategory    = "category"
	FieldAmount      = "amount"
	FieldTermMonths  = "term_months"
	FieldRate        = "rate_percent"
	FieldMaturityAt  = "maturity_at"
	FieldMatured     = "matured"
	FieldVersion     = "snapshot_version"
	FieldBackend     = "backend"
	FieldEventType   = "event_type"
	FieldIdempotency = "idempotency_key"
)

const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentBank      = "bank"
	ComponentMaturity  = "maturity"
	ComponentScheduler = "scheduler"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentEvents    = "events"
	ComponentBackend   = "backend"
	ComponentRateLimit = "rate_limit"
	ComponentCLI       = "cli"
)

// Operation names used in FieldOperation and PersistenceError.Op.
const (
	OpAddTransaction = "add_transaction"
	OpCreateDeposit  = "create_deposit"
	OpWithdraw       = "withdraw_deposit"
	OpReconcile      = "reconcile"
	OpClear          = "clear_transactions"
	OpUpdateRates    = "update_rates"
	OpUpdateProfile  = "update_profile"
	OpChangeSecret   = "change_secret"
	OpRefresh        = "refresh"
	OpStartup        = "startup"
	OpShutdown       = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithRequestID(id string) LogFields {
	if id != "" {
		f[FieldRequestID] = id
	}
	return f
}

// WithHTTP adds request and response fields.
func (f LogFields) WithHTTP(method, path string, status int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = status
	f[FieldDuration] = durationMs
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
