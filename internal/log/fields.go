package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldTemplateID  = "template_id"
	FieldOwnerID     = "owner_id"
	FieldEntryID     = "entry_id"
	FieldFrequency   = "frequency"
	FieldAmountPaise = "amount_paise"
	FieldOccurrence  = "occurrence"
	FieldNextRun     = "next_occurrence"

	FieldSweepID   = "sweep_id"
	FieldDue       = "due"
	FieldSucceeded = "succeeded"
	FieldFailed    = "failed"
	FieldReason    = "reason"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentTemplate  = "template"
	ComponentSweep     = "sweep"
	ComponentScheduler = "scheduler"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpCancel   = "cancel"
	OpList     = "list"
	OpGenerate = "generate"
	OpAdvance  = "advance"
	OpSweep    = "sweep"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
