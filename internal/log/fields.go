package log

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldRunID          = "run_id"
	FieldUserID         = "user_id"
	FieldTransactionID  = "transaction_id"
	FieldRuleID         = "rule_id"
	FieldAllocationID   = "allocation_id"
	FieldAnchorID       = "anchor_id"
	FieldOccurrenceDate = "occurrence_date"
	FieldMonth          = "month"
	FieldAmountCents    = "amount_cents"
	FieldCurrency       = "currency"
	FieldReason         = "reason"
	FieldDuration       = "duration_ms"
	FieldCount          = "count"
	FieldError          = "error"
	FieldErrorKind      = "error_kind"
	FieldOperation      = "operation"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentScheduler = "scheduler"
	ComponentRecurring = "recurring"
	ComponentRollup    = "rollup"
	ComponentLedger    = "ledger"
	ComponentFX        = "fx"
	ComponentCache     = "cache"
	ComponentCLI       = "cli"
	ComponentHTTP      = "http"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpRestore   = "restore"
	OpPost      = "post"
	OpRecompute = "recompute"
	OpRebuild   = "rebuild"
	OpConvert   = "convert"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithUser adds the account the operation runs for
func (f LogFields) WithUser(userID int64) LogFields {
	f[FieldUserID] = userID
	return f
}

// WithError adds the error message and, for tagged errors, its kind
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		if kind := errorKind(err); kind != "" {
			f[FieldErrorKind] = kind
		}
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithMonth adds a YYYY-MM month field
func (f LogFields) WithMonth(month string) LogFields {
	f[FieldMonth] = month
	return f
}

// WithRule adds recurring rule fields
func (f LogFields) WithRule(ruleID int64, occurrence string) LogFields {
	f[FieldRuleID] = ruleID
	if occurrence != "" {
		f[FieldOccurrenceDate] = occurrence
	}
	return f
}

// WithTransaction adds ledger entry fields
func (f LogFields) WithTransaction(id, amountCents int64) LogFields {
	f[FieldTransactionID] = id
	f[FieldAmountCents] = amountCents
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
