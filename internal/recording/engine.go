package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dmelnik/rentdesk/internal/attribution"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
)

// ReviewNotifier is told about review-queue activity so an external board
// can mirror it. Notification failures never fail the attempt.
type ReviewNotifier interface {
	PendingCreated(ctx context.Context, row *bq.PendingPaymentRow) error
}

// Options carries the per-attempt metadata that does not come from parsing
// or matching: where the attempt entered the system and how to correlate it
// with the outside world.
type Options struct {
	// ExternalRef is the idempotency key. Empty means the caller has no
	// correlation id and duplicate detection is skipped.
	ExternalRef string

	// EntryPoint names the surface the attempt came through (api, worker,
	// cli, webhook).
	EntryPoint string

	// RecordedBy is stamped on the payment row.
	RecordedBy string

	// ArchiveURI points at the archived raw text, when archiving succeeded.
	ArchiveURI string
}

// Outcome reports how one attempt settled.
type Outcome struct {
	LogID           string
	Recorded        bool
	AlreadyRecorded bool
	PaymentID       string
	PendingID       string
}

// Engine turns a parsed draft plus a match result into durable rows: a
// Payment and mirrored LedgerEntry on a confident match, a PendingPayment
// otherwise, and a ProcessingLogEntry either way.
type Engine struct {
	payments bq.PaymentRepository
	ledger   bq.LedgerRepository
	review   bq.ReviewRepository
	audit    bq.AuditRepository
	notifier ReviewNotifier
	log      zerolog.Logger
}

// NewEngine creates a recording engine. notifier may be nil.
func NewEngine(payments bq.PaymentRepository, ledger bq.LedgerRepository, review bq.ReviewRepository, audit bq.AuditRepository, notifier ReviewNotifier, log zerolog.Logger) *Engine {
	return &Engine{
		payments: payments,
		ledger:   ledger,
		review:   review,
		audit:    audit,
		notifier: notifier,
		log:      log,
	}
}

// Record settles one attribution attempt. The audit row is written first so
// the attempt is traceable even when everything after it fails. A match
// with an open assignment and a known amount records a payment; anything
// else parks the attempt for review. A duplicate external_ref is a success,
// not an error: the attempt settles as already recorded.
func (e *Engine) Record(ctx context.Context, draft *attribution.TransactionDraft, match *attribution.MatchResult, opts Options) (*Outcome, error) {
	logRow := &bq.ProcessingLogRow{
		RawText:       draft.RawText,
		ArchiveURI:    opts.ArchiveURI,
		SenderNameRaw: draft.SenderNameRaw,
		Amount:        nullFloat(draft.Amount),
		PaidOn:        nullDate(draft.TransactionDate),
		Method:        nullString(draft.Method),
		EntryPoint:    opts.EntryPoint,
		Status:        bq.LogStatusReceived,
	}

	logID, err := e.audit.InsertProcessingLog(ctx, logRow)
	if err != nil {
		return nil, fmt.Errorf("Engine.Record: write processing log: %w", err)
	}

	outcome := &Outcome{LogID: logID}

	if match.Matched && match.AssignmentID != "" && draft.Amount != nil {
		if err := e.recordPayment(ctx, draft, match, opts, outcome); err != nil {
			e.settleLog(ctx, logID, match, bq.LogStatusFailed, err.Error())
			return nil, err
		}
		e.settleLog(ctx, logID, match, bq.LogStatusSuccess, "")
		return outcome, nil
	}

	if err := e.parkForReview(ctx, draft, match, logID, outcome); err != nil {
		e.settleLog(ctx, logID, match, bq.LogStatusFailed, err.Error())
		return nil, err
	}
	e.settleLog(ctx, logID, match, bq.LogStatusPendingReview, "")
	return outcome, nil
}

// recordPayment performs the dual write. The payment insert is the
// idempotency point; the ledger mirror is best-effort and a failure there
// is logged for reconciliation, never surfaced.
func (e *Engine) recordPayment(ctx context.Context, draft *attribution.TransactionDraft, match *attribution.MatchResult, opts Options, outcome *Outcome) error {
	if opts.ExternalRef != "" {
		existing, err := e.payments.FindPaymentByExternalRef(ctx, opts.ExternalRef)
		if err != nil {
			return fmt.Errorf("Engine.recordPayment: duplicate pre-check: %w", err)
		}
		if existing != nil {
			e.log.Info().
				Str("external_ref", opts.ExternalRef).
				Str("payment_id", existing.PaymentID).
				Msg("Payment already recorded, skipping")
			outcome.AlreadyRecorded = true
			outcome.PaymentID = existing.PaymentID
			return nil
		}
	}

	payment := &bq.PaymentRow{
		PaymentID:    uuid.NewString(),
		PersonID:     match.PersonID,
		AssignmentID: match.AssignmentID,
		Amount:       ratFromFloat(*draft.Amount),
		PaidOn:       paidOn(draft.TransactionDate),
		Method:       methodOrOther(draft.Method),
		ExternalRef:  opts.ExternalRef,
		RecordedBy:   opts.RecordedBy,
		CreatedTS:    time.Now(),
	}

	if err := e.payments.InsertPayment(ctx, payment); err != nil {
		if bq.IsDuplicateErr(err) {
			e.log.Info().
				Str("external_ref", opts.ExternalRef).
				Msg("Payment insert lost the race to an earlier write, treating as recorded")
			outcome.AlreadyRecorded = true
			return nil
		}
		return fmt.Errorf("Engine.recordPayment: insert payment: %w", err)
	}

	outcome.Recorded = true
	outcome.PaymentID = payment.PaymentID

	entry := &bq.LedgerEntryRow{
		EntryID:         uuid.NewString(),
		SourcePaymentID: payment.PaymentID,
		PersonID:        payment.PersonID,
		Amount:          ratFromFloat(*draft.Amount),
		EntryDate:       payment.PaidOn,
		Category:        "rent_income",
		Description:     fmt.Sprintf("Payment from %s via %s", match.PersonName, payment.Method),
		CreatedTS:       time.Now(),
	}
	if err := e.ledger.InsertLedgerEntry(ctx, entry); err != nil && !bq.IsDuplicateErr(err) {
		e.log.Error().Err(err).
			Str("payment_id", payment.PaymentID).
			Msg("Ledger mirror failed, payment stands; reconcile manually")
	}

	return nil
}

// parkForReview writes the attempt into the manual-review queue with the
// matcher's ranked suggestions attached.
func (e *Engine) parkForReview(ctx context.Context, draft *attribution.TransactionDraft, match *attribution.MatchResult, logID string, outcome *Outcome) error {
	suggestions := ""
	if len(match.Suggestions) > 0 {
		raw, err := json.Marshal(match.Suggestions)
		if err != nil {
			e.log.Error().Err(err).Msg("Could not serialize suggestions, parking without them")
		} else {
			suggestions = string(raw)
		}
	}

	pending := &bq.PendingPaymentRow{
		PendingID:     uuid.NewString(),
		LogID:         logID,
		SenderNameRaw: draft.SenderNameRaw,
		Amount:        nullFloat(draft.Amount),
		PaidOn:        nullDate(draft.TransactionDate),
		Method:        nullString(draft.Method),
		Suggestions:   suggestions,
		Reasoning:     match.Reasoning,
		Status:        bq.PendingStatusOpen,
		CreatedTS:     time.Now(),
	}

	if err := e.review.InsertPendingPayment(ctx, pending); err != nil {
		return fmt.Errorf("Engine.parkForReview: insert pending payment: %w", err)
	}
	outcome.PendingID = pending.PendingID

	if e.notifier != nil {
		if err := e.notifier.PendingCreated(ctx, pending); err != nil {
			e.log.Error().Err(err).
				Str("pending_id", pending.PendingID).
				Msg("Review board notification failed")
		}
	}

	return nil
}

func (e *Engine) settleLog(ctx context.Context, logID string, match *attribution.MatchResult, status, errMsg string) {
	outcome := &bq.ProcessingOutcome{
		MatchMethod:  match.Method,
		MatchScore:   match.Confidence,
		PersonID:     match.PersonID,
		Status:       status,
		ErrorMessage: errMsg,
	}
	if err := e.audit.UpdateProcessingLogOutcome(ctx, logID, outcome); err != nil {
		e.log.Error().Err(err).Str("log_id", logID).Msg("Failed to settle processing log")
	}
}

// methodOrOther clamps unknown transfer methods to "other" so the payments
// table only ever carries the known enum.
func methodOrOther(method string) string {
	switch method {
	case attribution.MethodZelle, attribution.MethodVenmo, attribution.MethodACH,
		attribution.MethodCheck, attribution.MethodWire, attribution.MethodPaypal:
		return method
	default:
		return attribution.MethodOther
	}
}

// paidOn defaults to today when the statement carried no usable date.
func paidOn(t *time.Time) civil.Date {
	if t != nil {
		return civil.DateOf(*t)
	}
	return civil.DateOf(time.Now())
}

func ratFromFloat(v float64) *big.Rat {
	return new(big.Rat).SetFloat64(v)
}

func nullFloat(v *float64) bigquery.NullFloat64 {
	if v == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *v, Valid: true}
}

func nullDate(t *time.Time) bigquery.NullDate {
	if t == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(*t), Valid: true}
}

func nullString(s string) bigquery.NullString {
	if s == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: s, Valid: true}
}
