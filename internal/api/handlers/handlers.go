package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dmelnik/rentdesk/internal/api/middleware"
	"github.com/dmelnik/rentdesk/internal/attribution"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"github.com/dmelnik/rentdesk/internal/jobs"
	"github.com/dmelnik/rentdesk/internal/recording"
)

// PaymentsHandler handles payment import endpoints.
type PaymentsHandler struct {
	importer  *recording.Importer
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewPaymentsHandler creates a new payments handler.
func NewPaymentsHandler(importer *recording.Importer, publisher jobs.Publisher, log zerolog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		importer:  importer,
		publisher: publisher,
		log:       log,
	}
}

// ImportPayment handles POST /api/payments/import
// It runs one raw bank-activity entry through the full pipeline and
// reports how the attempt settled.
func (h *PaymentsHandler) ImportPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		RawText     string `json:"raw_text"`
		SenderName  string `json:"sender_name"`
		ExternalRef string `json:"external_ref"`
		RecordedBy  string `json:"recorded_by"`
		ForceAI     bool   `json:"force_ai"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RawText == "" {
		middleware.WriteError(w, http.StatusBadRequest, "raw_text is required")
		return
	}

	result, err := h.importer.Process(ctx, &recording.ImportRequest{
		RawText:     req.RawText,
		SenderName:  req.SenderName,
		ExternalRef: req.ExternalRef,
		EntryPoint:  "api",
		RecordedBy:  req.RecordedBy,
		ForceAI:     req.ForceAI,
	})
	if err != nil {
		if errors.Is(err, recording.ErrNoSender) {
			middleware.WriteError(w, http.StatusBadRequest, "No sender name found in payment text")
			return
		}
		h.log.Error().Err(err).Msg("Payment import failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process payment")
		return
	}

	middleware.WriteJSON(w, importStatusCode(result.Outcome), importResponse(result))
}

// importStatusCode maps an outcome to an HTTP status: recorded attempts
// return 200, parked attempts 202.
func importStatusCode(outcome *recording.Outcome) int {
	if outcome.Recorded || outcome.AlreadyRecorded {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func importResponse(result *recording.ImportResult) map[string]interface{} {
	resp := map[string]interface{}{
		"log_id":       result.Outcome.LogID,
		"match_method": result.Match.Method,
		"confidence":   result.Match.Confidence,
	}

	switch {
	case result.Outcome.AlreadyRecorded:
		resp["status"] = "already_recorded"
		resp["payment_id"] = result.Outcome.PaymentID
	case result.Outcome.Recorded:
		resp["status"] = "recorded"
		resp["payment_id"] = result.Outcome.PaymentID
		resp["person_id"] = result.Match.PersonID
		resp["person_name"] = result.Match.PersonName
		resp["parsed_payment"] = parsedPayment(result.Draft)
	default:
		resp["status"] = "pending_review"
		resp["pending_id"] = result.Outcome.PendingID
		resp["reasoning"] = result.Match.Reasoning
		if len(result.Match.Suggestions) > 0 {
			resp["suggestions"] = result.Match.Suggestions
		}
	}

	return resp
}

// parsedPayment echoes back what the parser extracted from the raw text.
func parsedPayment(draft *attribution.TransactionDraft) map[string]interface{} {
	parsed := map[string]interface{}{
		"amount": nil,
		"date":   nil,
		"method": nil,
	}
	if draft.Amount != nil {
		parsed["amount"] = *draft.Amount
	}
	if draft.TransactionDate != nil {
		parsed["date"] = draft.TransactionDate.Format("2006-01-02")
	}
	if draft.Method != "" {
		parsed["method"] = draft.Method
	}
	return parsed
}

// ImportBatch handles POST /api/payments/import-batch
// It enqueues each entry as an asynchronous attribution job and returns
// immediately with the job ids.
func (h *PaymentsHandler) ImportBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Items []struct {
			RawText     string `json:"raw_text"`
			ExternalRef string `json:"external_ref"`
		} `json:"items"`
		RecordedBy string `json:"recorded_by"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Items) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "items is required")
		return
	}

	batchID := uuid.NewString()
	jobIDs := make([]string, 0, len(req.Items))

	for _, item := range req.Items {
		if item.RawText == "" {
			continue
		}
		job := &jobs.AttributePaymentJob{
			BatchID:     batchID,
			RawText:     item.RawText,
			ExternalRef: item.ExternalRef,
			EntryPoint:  "batch",
			RecordedBy:  req.RecordedBy,
		}
		if err := h.publisher.PublishAttribution(ctx, job); err != nil {
			h.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to enqueue attribution job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue batch")
			return
		}
		jobIDs = append(jobIDs, job.JobID)
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id": batchID,
		"job_ids":  jobIDs,
		"count":    len(jobIDs),
	})
}

// PendingResolvedNotifier is told when a pending payment is resolved so an
// external review board can be updated.
type PendingResolvedNotifier interface {
	PendingResolved(ctx context.Context, pendingID string) error
}

// PendingHandler handles the manual-review queue endpoints.
type PendingHandler struct {
	review   bq.ReviewRepository
	tenants  bq.TenantRepository
	mappings bq.MappingRepository
	engine   *recording.Engine
	resolved PendingResolvedNotifier
	log      zerolog.Logger
}

// NewPendingHandler creates a new pending-review handler. resolved may be
// nil when no review board is configured.
func NewPendingHandler(review bq.ReviewRepository, tenants bq.TenantRepository, mappings bq.MappingRepository, engine *recording.Engine, resolved PendingResolvedNotifier, log zerolog.Logger) *PendingHandler {
	return &PendingHandler{
		review:   review,
		tenants:  tenants,
		mappings: mappings,
		engine:   engine,
		resolved: resolved,
		log:      log,
	}
}

// ListPending handles GET /api/pending
func (h *PendingHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := h.review.ListPendingPayments(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list pending payments")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list pending payments")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pending": rows,
		"count":   len(rows),
	})
}

// ResolvePending handles POST /api/pending/:pendingId/resolve
// A reviewer names the correct tenant; the handler records the payment,
// caches the confirmed mapping and closes the pending row.
func (h *PendingHandler) ResolvePending(w http.ResponseWriter, r *http.Request, pendingID string) {
	ctx := r.Context()

	var req struct {
		PersonID   string `json:"person_id"`
		ResolvedBy string `json:"resolved_by"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PersonID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "person_id is required")
		return
	}

	pending, err := h.review.GetPendingPayment(ctx, pendingID)
	if err != nil {
		h.log.Error().Err(err).Str("pending_id", pendingID).Msg("Failed to load pending payment")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load pending payment")
		return
	}
	if pending == nil {
		middleware.WriteError(w, http.StatusNotFound, "Pending payment not found")
		return
	}
	if pending.Status == bq.PendingStatusResolved {
		middleware.WriteError(w, http.StatusConflict, "Pending payment is already resolved")
		return
	}
	if !pending.Amount.Valid {
		middleware.WriteError(w, http.StatusConflict, "Pending payment has no amount and cannot be recorded")
		return
	}

	person, err := h.tenants.FindPersonByID(ctx, req.PersonID)
	if err != nil {
		h.log.Error().Err(err).Str("person_id", req.PersonID).Msg("Failed to load person")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load person")
		return
	}
	if person == nil {
		middleware.WriteError(w, http.StatusNotFound, "Person not found")
		return
	}

	assignment, err := h.tenants.FindOpenAssignment(ctx, req.PersonID)
	if err != nil {
		h.log.Error().Err(err).Str("person_id", req.PersonID).Msg("Failed to load assignment")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load assignment")
		return
	}
	if assignment == nil {
		middleware.WriteError(w, http.StatusConflict, "Person has no open assignment")
		return
	}

	fullName := person.FirstName + " " + person.LastName
	draft := draftFromPending(pending)
	match := &attribution.MatchResult{
		Matched:      true,
		PersonID:     person.PersonID,
		PersonName:   fullName,
		AssignmentID: assignment.AssignmentID,
		Confidence:   1.0,
		Method:       bq.MatchSourceAdminConfirmed,
		Reasoning:    "resolved by " + req.ResolvedBy,
	}

	outcome, err := h.engine.Record(ctx, draft, match, recording.Options{
		ExternalRef: "pending:" + pendingID,
		EntryPoint:  "review",
		RecordedBy:  req.ResolvedBy,
	})
	if err != nil {
		h.log.Error().Err(err).Str("pending_id", pendingID).Msg("Failed to record resolved payment")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to record payment")
		return
	}

	// The reviewer's verdict seeds the cache so the same sender resolves
	// instantly next time.
	mapping := &bq.SenderMappingRow{
		SenderNameRaw:        pending.SenderNameRaw,
		SenderNameNormalized: attribution.NormalizeName(pending.SenderNameRaw),
		PersonID:             person.PersonID,
		Confidence:           1.0,
		MatchSource:          bq.MatchSourceAdminConfirmed,
		UpdatedTS:            time.Now(),
	}
	if err := h.mappings.UpsertMapping(ctx, mapping); err != nil {
		h.log.Error().Err(err).Str("pending_id", pendingID).Msg("Failed to cache confirmed mapping")
	}

	if err := h.review.MarkPendingResolved(ctx, pendingID, req.ResolvedBy); err != nil {
		h.log.Error().Err(err).Str("pending_id", pendingID).Msg("Failed to mark pending resolved")
		middleware.WriteError(w, http.StatusInternalServerError, "Payment recorded but pending row not closed")
		return
	}

	if h.resolved != nil {
		if err := h.resolved.PendingResolved(ctx, pendingID); err != nil {
			h.log.Error().Err(err).Str("pending_id", pendingID).Msg("Review board update failed")
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "resolved",
		"pending_id":       pendingID,
		"payment_id":       outcome.PaymentID,
		"already_recorded": outcome.AlreadyRecorded,
		"person_id":        person.PersonID,
		"person_name":      fullName,
	})
}

// draftFromPending rebuilds a transaction draft out of a parked row.
func draftFromPending(pending *bq.PendingPaymentRow) *attribution.TransactionDraft {
	draft := &attribution.TransactionDraft{
		SenderNameRaw: pending.SenderNameRaw,
	}
	if pending.Amount.Valid {
		amount := pending.Amount.Float64
		draft.Amount = &amount
	}
	if pending.PaidOn.Valid {
		d := pending.PaidOn.Date.In(time.UTC)
		draft.TransactionDate = &d
	}
	if pending.Method.Valid {
		draft.Method = pending.Method.StringVal
	}
	return draft
}

// WebhooksHandler handles inbound payment-confirmation callbacks.
type WebhooksHandler struct {
	tenants  bq.TenantRepository
	mappings bq.MappingRepository
	engine   *recording.Engine
	log      zerolog.Logger
}

// NewWebhooksHandler creates a new webhooks handler.
func NewWebhooksHandler(tenants bq.TenantRepository, mappings bq.MappingRepository, engine *recording.Engine, log zerolog.Logger) *WebhooksHandler {
	return &WebhooksHandler{
		tenants:  tenants,
		mappings: mappings,
		engine:   engine,
		log:      log,
	}
}

// PaymentConfirmed handles POST /api/webhooks/payment-confirmed
// An upstream system vouches for who sent a payment; the handler records it
// idempotently under the provided external reference and caches the sender.
func (h *WebhooksHandler) PaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		ExternalRef string  `json:"external_ref"`
		SenderName  string  `json:"sender_name"`
		PersonID    string  `json:"person_id"`
		Amount      float64 `json:"amount"`
		Date        string  `json:"date"`
		Method      string  `json:"method"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ExternalRef == "" || req.PersonID == "" || req.Amount <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "external_ref, person_id and a positive amount are required")
		return
	}

	person, err := h.tenants.FindPersonByID(ctx, req.PersonID)
	if err != nil {
		h.log.Error().Err(err).Str("person_id", req.PersonID).Msg("Failed to load person")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load person")
		return
	}
	if person == nil {
		middleware.WriteError(w, http.StatusNotFound, "Person not found")
		return
	}

	assignment, err := h.tenants.FindOpenAssignment(ctx, req.PersonID)
	if err != nil {
		h.log.Error().Err(err).Str("person_id", req.PersonID).Msg("Failed to load assignment")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load assignment")
		return
	}
	if assignment == nil {
		middleware.WriteError(w, http.StatusConflict, "Person has no open assignment")
		return
	}

	draft := &attribution.TransactionDraft{
		Amount:        &req.Amount,
		Method:        req.Method,
		SenderNameRaw: req.SenderName,
	}
	if req.Date != "" {
		if d, err := time.Parse("2006-01-02", req.Date); err == nil {
			draft.TransactionDate = &d
		}
	}

	fullName := person.FirstName + " " + person.LastName
	match := &attribution.MatchResult{
		Matched:      true,
		PersonID:     person.PersonID,
		PersonName:   fullName,
		AssignmentID: assignment.AssignmentID,
		Confidence:   1.0,
		Method:       bq.MatchSourceZelleConfirmed,
		Reasoning:    "confirmed by upstream webhook",
	}

	outcome, err := h.engine.Record(ctx, draft, match, recording.Options{
		ExternalRef: req.ExternalRef,
		EntryPoint:  "webhook",
		RecordedBy:  "webhook",
	})
	if err != nil {
		h.log.Error().Err(err).Str("external_ref", req.ExternalRef).Msg("Failed to record confirmed payment")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to record payment")
		return
	}

	if req.SenderName != "" {
		mapping := &bq.SenderMappingRow{
			SenderNameRaw:        req.SenderName,
			SenderNameNormalized: attribution.NormalizeName(req.SenderName),
			PersonID:             person.PersonID,
			Confidence:           1.0,
			MatchSource:          bq.MatchSourceZelleConfirmed,
			UpdatedTS:            time.Now(),
		}
		if err := h.mappings.UpsertMapping(ctx, mapping); err != nil {
			h.log.Error().Err(err).Str("external_ref", req.ExternalRef).Msg("Failed to cache confirmed sender")
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "recorded",
		"payment_id":       outcome.PaymentID,
		"already_recorded": outcome.AlreadyRecorded,
		"log_id":           outcome.LogID,
	})
}

// MappingsHandler exposes the sender-mapping cache.
type MappingsHandler struct {
	mappings bq.MappingRepository
	log      zerolog.Logger
}

// NewMappingsHandler creates a new mappings handler.
func NewMappingsHandler(mappings bq.MappingRepository, log zerolog.Logger) *MappingsHandler {
	return &MappingsHandler{mappings: mappings, log: log}
}

// ListMappings handles GET /api/sender-mappings
func (h *MappingsHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rows, err := h.mappings.ListMappings(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list sender mappings")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list sender mappings")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"mappings": rows,
		"count":    len(rows),
	})
}

// DeleteMapping handles DELETE /api/sender-mappings/:name
// The name is normalized before deletion, so callers can pass the raw form.
func (h *MappingsHandler) DeleteMapping(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()

	normalized := attribution.NormalizeName(name)
	if normalized == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Sender name is required")
		return
	}

	if err := h.mappings.DeleteMapping(ctx, normalized); err != nil {
		h.log.Error().Err(err).Str("normalized", normalized).Msg("Failed to delete sender mapping")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to delete sender mapping")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "deleted",
		"normalized": normalized,
	})
}

// JobsHandler exposes asynchronous job status.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// GetJob handles GET /api/jobs/:jobId
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs with optional batch_id and status filters.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := jobs.JobFilter{
		BatchID: r.URL.Query().Get("batch_id"),
		Status:  jobs.JobStatus(r.URL.Query().Get("status")),
	}

	list, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}
