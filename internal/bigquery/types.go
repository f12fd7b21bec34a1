package bigquery

import (
	"context"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// TenantRepository provides read access to the roster of currently-relevant
// payers: occupants with an assignment in status active, pending_contract or
// contract_sent. The roster is rebuilt fresh on every matching attempt.
type TenantRepository interface {
	// ListRelevantTenants returns the joined assignment+person roster.
	ListRelevantTenants(ctx context.Context) ([]*TenantRow, error)

	// ListTenantPersons returns all tenant-typed persons, whether or not
	// they currently hold an open assignment.
	ListTenantPersons(ctx context.Context) ([]*PersonRow, error)

	// FindPersonByID returns the person or nil when no such person exists.
	FindPersonByID(ctx context.Context, personID string) (*PersonRow, error)

	// FindOpenAssignment returns the person's currently-relevant assignment
	// or nil when there is none.
	FindOpenAssignment(ctx context.Context, personID string) (*TenantRow, error)
}

// MappingRepository manages the durable sender-name → person cache.
type MappingRepository interface {
	// FindMapping looks up a mapping by normalized sender name. Returns nil
	// when no mapping exists.
	FindMapping(ctx context.Context, normalized string) (*SenderMappingRow, error)

	// UpsertMapping inserts or replaces the mapping keyed by its normalized
	// name. Concurrent writers converge to the last write.
	UpsertMapping(ctx context.Context, row *SenderMappingRow) error

	// DeleteMapping removes a stale mapping by normalized name.
	DeleteMapping(ctx context.Context, normalized string) error

	// ListMappings returns all mappings, newest first.
	ListMappings(ctx context.Context) ([]*SenderMappingRow, error)
}

// PaymentRepository writes operational payment records.
type PaymentRepository interface {
	// InsertPayment inserts one payment row. A duplicate external_ref may
	// surface as a store-level conflict error; callers classify it with
	// IsDuplicateErr and treat it as already recorded.
	InsertPayment(ctx context.Context, row *PaymentRow) error

	// FindPaymentByExternalRef returns the payment carrying the given
	// external correlation id, or nil when none exists.
	FindPaymentByExternalRef(ctx context.Context, externalRef string) (*PaymentRow, error)
}

// LedgerRepository writes the mirrored accounting record.
type LedgerRepository interface {
	InsertLedgerEntry(ctx context.Context, row *LedgerEntryRow) error
}

// ReviewRepository manages the manual-review queue.
type ReviewRepository interface {
	InsertPendingPayment(ctx context.Context, row *PendingPaymentRow) error
	GetPendingPayment(ctx context.Context, pendingID string) (*PendingPaymentRow, error)
	ListPendingPayments(ctx context.Context) ([]*PendingPaymentRow, error)

	// MarkPendingResolved sets status=resolved and records who resolved it.
	MarkPendingResolved(ctx context.Context, pendingID, resolvedBy string) error
}

// AuditRepository writes the per-attempt processing log. Every attribution
// attempt produces exactly one row, before the recording decision.
type AuditRepository interface {
	InsertProcessingLog(ctx context.Context, row *ProcessingLogRow) (string, error)

	// UpdateProcessingLogOutcome records the final status of an attempt.
	// Failures here are logged by callers but never fail the attempt.
	UpdateProcessingLogOutcome(ctx context.Context, logID string, outcome *ProcessingOutcome) error
}

// TenantRow is one currently-relevant payer: a person joined to an open
// assignment with its rate and deposit.
type TenantRow struct {
	PersonID      string   `bigquery:"person_id"`
	AssignmentID  string   `bigquery:"assignment_id"`
	FullName      string   `bigquery:"full_name"`
	Email         string   `bigquery:"email"`
	MonthlyRent   *big.Rat `bigquery:"monthly_rent"`
	DepositAmount *big.Rat `bigquery:"deposit_amount"`
}

// PersonRow is a tenant-typed person record.
type PersonRow struct {
	PersonID  string `bigquery:"person_id"`
	FirstName string `bigquery:"first_name"`
	LastName  string `bigquery:"last_name"`
	Email     string `bigquery:"email"`
}

// SenderMappingRow records a previously resolved sender name. At most one
// row exists per normalized name.
type SenderMappingRow struct {
	SenderNameRaw        string    `bigquery:"sender_name_raw"`
	SenderNameNormalized string    `bigquery:"sender_name_normalized"`
	PersonID             string    `bigquery:"person_id"`
	Confidence           float64   `bigquery:"confidence"`
	MatchSource          string    `bigquery:"match_source"`
	UpdatedTS            time.Time `bigquery:"updated_ts"`
}

// Match sources stored on sender mappings.
const (
	MatchSourceCached         = "cached"
	MatchSourceExact          = "exact"
	MatchSourceGemini         = "gemini"
	MatchSourceAdminConfirmed = "admin_confirmed"
	MatchSourceZelleConfirmed = "zelle_admin_confirmed"
)

// PaymentRow is the operational payment record, the system of record for
// "did we charge the tenant". ExternalRef is the idempotency key shared by
// every entry point that can create a payment.
type PaymentRow struct {
	PaymentID    string     `bigquery:"payment_id"`
	PersonID     string     `bigquery:"person_id"`
	AssignmentID string     `bigquery:"assignment_id"`
	Amount       *big.Rat   `bigquery:"amount"`
	PaidOn       civil.Date `bigquery:"paid_on"`
	Method       string     `bigquery:"method"`
	ExternalRef  string     `bigquery:"external_ref"`
	RecordedBy   string     `bigquery:"recorded_by"`
	CreatedTS    time.Time  `bigquery:"created_ts"`
}

// LedgerEntryRow mirrors a payment into the accounting ledger. It soft-links
// back to the payment via SourcePaymentID for reconciliation; the two writes
// are independent and best-effort.
type LedgerEntryRow struct {
	EntryID         string     `bigquery:"entry_id"`
	SourcePaymentID string     `bigquery:"source_payment_id"`
	PersonID        string     `bigquery:"person_id"`
	Amount          *big.Rat   `bigquery:"amount"`
	EntryDate       civil.Date `bigquery:"entry_date"`
	Category        string     `bigquery:"category"`
	Description     string     `bigquery:"description"`
	CreatedTS       time.Time  `bigquery:"created_ts"`
}

// PendingPaymentRow parks a low-confidence attempt for human review.
// Suggestions holds the AI matcher's ranked candidates as serialized JSON.
type PendingPaymentRow struct {
	PendingID     string               `bigquery:"pending_id"`
	LogID         string               `bigquery:"log_id"`
	SenderNameRaw string               `bigquery:"sender_name_raw"`
	Amount        bigquery.NullFloat64 `bigquery:"amount"`
	PaidOn        bigquery.NullDate    `bigquery:"paid_on"`
	Method        bigquery.NullString  `bigquery:"method"`
	Suggestions   string               `bigquery:"suggestions"`
	Reasoning     string               `bigquery:"reasoning"`
	Status        string               `bigquery:"status"`
	ResolvedBy    bigquery.NullString  `bigquery:"resolved_by"`
	CreatedTS     time.Time            `bigquery:"created_ts"`
}

// Pending payment statuses.
const (
	PendingStatusOpen     = "open"
	PendingStatusResolved = "resolved"
)

// ProcessingLogRow is the audit row for one attribution attempt. The raw
// input and parsed fields are written up front; the outcome is filled in by
// UpdateProcessingLogOutcome once the attempt settles.
type ProcessingLogRow struct {
	LogID         string                 `bigquery:"log_id"`
	RawText       string                 `bigquery:"raw_text"`
	ArchiveURI    string                 `bigquery:"archive_uri"`
	SenderNameRaw string                 `bigquery:"sender_name_raw"`
	Amount        bigquery.NullFloat64   `bigquery:"amount"`
	PaidOn        bigquery.NullDate      `bigquery:"paid_on"`
	Method        bigquery.NullString    `bigquery:"method"`
	EntryPoint    string                 `bigquery:"entry_point"`
	MatchMethod   string                 `bigquery:"match_method"`
	MatchScore    float64                `bigquery:"match_confidence"`
	PersonID      string                 `bigquery:"person_id"`
	Status        string                 `bigquery:"status"`
	ErrorMessage  string                 `bigquery:"error_message"`
	CreatedTS     time.Time              `bigquery:"created_ts"`
	UpdatedTS     bigquery.NullTimestamp `bigquery:"updated_ts"`
}

// ProcessingOutcome is the terminal state recorded on a processing log row.
type ProcessingOutcome struct {
	MatchMethod  string
	MatchScore   float64
	PersonID     string
	Status       string
	ErrorMessage string
}

// Processing log statuses.
const (
	LogStatusReceived      = "received"
	LogStatusSuccess       = "success"
	LogStatusPendingReview = "pending_review"
	LogStatusFailed        = "failed"
)
