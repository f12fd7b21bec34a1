package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dmelnik/rentdesk/internal/attribution"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"github.com/dmelnik/rentdesk/internal/jobs"
	"github.com/dmelnik/rentdesk/internal/recording"
)

type fakeStore struct {
	payments     []*bq.PaymentRow
	ledger       []*bq.LedgerEntryRow
	pending      map[string]*bq.PendingPaymentRow
	mappings     map[string]*bq.SenderMappingRow
	persons      map[string]*bq.PersonRow
	assignments  map[string]*bq.TenantRow
	resolved     map[string]string
	paymentByRef map[string]*bq.PaymentRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pending:      make(map[string]*bq.PendingPaymentRow),
		mappings:     make(map[string]*bq.SenderMappingRow),
		persons:      make(map[string]*bq.PersonRow),
		assignments:  make(map[string]*bq.TenantRow),
		resolved:     make(map[string]string),
		paymentByRef: make(map[string]*bq.PaymentRow),
	}
}

func (f *fakeStore) InsertPayment(ctx context.Context, row *bq.PaymentRow) error {
	if row.ExternalRef != "" {
		if _, ok := f.paymentByRef[row.ExternalRef]; ok {
			return fmt.Errorf("InsertPayment: external_ref %q: %w", row.ExternalRef, bq.ErrDuplicate)
		}
		f.paymentByRef[row.ExternalRef] = row
	}
	f.payments = append(f.payments, row)
	return nil
}

func (f *fakeStore) FindPaymentByExternalRef(ctx context.Context, externalRef string) (*bq.PaymentRow, error) {
	return f.paymentByRef[externalRef], nil
}

func (f *fakeStore) InsertLedgerEntry(ctx context.Context, row *bq.LedgerEntryRow) error {
	f.ledger = append(f.ledger, row)
	return nil
}

func (f *fakeStore) InsertPendingPayment(ctx context.Context, row *bq.PendingPaymentRow) error {
	f.pending[row.PendingID] = row
	return nil
}

func (f *fakeStore) GetPendingPayment(ctx context.Context, pendingID string) (*bq.PendingPaymentRow, error) {
	return f.pending[pendingID], nil
}

func (f *fakeStore) ListPendingPayments(ctx context.Context) ([]*bq.PendingPaymentRow, error) {
	var rows []*bq.PendingPaymentRow
	for _, r := range f.pending {
		rows = append(rows, r)
	}
	return rows, nil
}

func (f *fakeStore) MarkPendingResolved(ctx context.Context, pendingID, resolvedBy string) error {
	f.resolved[pendingID] = resolvedBy
	if row, ok := f.pending[pendingID]; ok {
		row.Status = bq.PendingStatusResolved
	}
	return nil
}

func (f *fakeStore) InsertProcessingLog(ctx context.Context, row *bq.ProcessingLogRow) (string, error) {
	return "log-1", nil
}

func (f *fakeStore) UpdateProcessingLogOutcome(ctx context.Context, logID string, outcome *bq.ProcessingOutcome) error {
	return nil
}

func (f *fakeStore) FindMapping(ctx context.Context, normalized string) (*bq.SenderMappingRow, error) {
	return f.mappings[normalized], nil
}

func (f *fakeStore) UpsertMapping(ctx context.Context, row *bq.SenderMappingRow) error {
	f.mappings[row.SenderNameNormalized] = row
	return nil
}

func (f *fakeStore) DeleteMapping(ctx context.Context, normalized string) error {
	delete(f.mappings, normalized)
	return nil
}

func (f *fakeStore) ListMappings(ctx context.Context) ([]*bq.SenderMappingRow, error) {
	var rows []*bq.SenderMappingRow
	for _, r := range f.mappings {
		rows = append(rows, r)
	}
	return rows, nil
}

func (f *fakeStore) ListRelevantTenants(ctx context.Context) ([]*bq.TenantRow, error) {
	var rows []*bq.TenantRow
	for _, r := range f.assignments {
		rows = append(rows, r)
	}
	return rows, nil
}

func (f *fakeStore) ListTenantPersons(ctx context.Context) ([]*bq.PersonRow, error) {
	var rows []*bq.PersonRow
	for _, r := range f.persons {
		rows = append(rows, r)
	}
	return rows, nil
}

func (f *fakeStore) FindPersonByID(ctx context.Context, personID string) (*bq.PersonRow, error) {
	return f.persons[personID], nil
}

func (f *fakeStore) FindOpenAssignment(ctx context.Context, personID string) (*bq.TenantRow, error) {
	return f.assignments[personID], nil
}

type fakeMatcher struct {
	result *attribution.MatchResult
}

func (f *fakeMatcher) Match(ctx context.Context, senderName string, amount *float64, forceAI bool) (*attribution.MatchResult, error) {
	return f.result, nil
}

type fakePublisher struct {
	published []*jobs.AttributePaymentJob
}

func (f *fakePublisher) PublishAttribution(ctx context.Context, job *jobs.AttributePaymentJob) error {
	if job.JobID == "" {
		job.JobID = fmt.Sprintf("job-%d", len(f.published)+1)
	}
	f.published = append(f.published, job)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func paymentsFixture(match *attribution.MatchResult) (*PaymentsHandler, *fakeStore, *fakePublisher) {
	store := newFakeStore()
	engine := recording.NewEngine(store, store, store, store, nil, zerolog.Nop())
	importer := recording.NewImporter(&fakeMatcher{result: match}, engine, nil, zerolog.Nop())
	publisher := &fakePublisher{}
	return NewPaymentsHandler(importer, publisher, zerolog.Nop()), store, publisher
}

func TestImportPayment_MissingRawText(t *testing.T) {
	h, _, _ := paymentsFixture(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/import", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ImportPayment(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestImportPayment_NoSender(t *testing.T) {
	h, _, _ := paymentsFixture(nil)

	body := `{"raw_text": "02/02/2026\nCREDIT\n$1,195.00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/import", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ImportPayment(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestImportPayment_Recorded(t *testing.T) {
	match := &attribution.MatchResult{
		Matched:      true,
		PersonID:     "p-alice",
		PersonName:   "Alice Johnson",
		AssignmentID: "a-alice",
		Confidence:   0.92,
		Method:       attribution.MatchMethodGemini,
	}
	h, store, _ := paymentsFixture(match)

	body := `{"raw_text": "ZELLE FROM ALICE JOHNSON $1,195.00", "external_ref": "bank:1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/import", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ImportPayment(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["status"] != "recorded" {
		t.Errorf("status = %v, want recorded", resp["status"])
	}
	if resp["person_name"] != "Alice Johnson" {
		t.Errorf("person_name = %v", resp["person_name"])
	}
	parsed, ok := resp["parsed_payment"].(map[string]interface{})
	if !ok {
		t.Fatalf("parsed_payment missing from response: %v", resp)
	}
	if parsed["amount"] != 1195.0 {
		t.Errorf("parsed_payment.amount = %v, want 1195", parsed["amount"])
	}
	if parsed["method"] != "zelle" {
		t.Errorf("parsed_payment.method = %v, want zelle", parsed["method"])
	}
	if len(store.payments) != 1 || len(store.ledger) != 1 {
		t.Errorf("payments = %d, ledger = %d, want 1 and 1", len(store.payments), len(store.ledger))
	}
}

func TestImportPayment_PendingReview(t *testing.T) {
	match := &attribution.MatchResult{
		Matched:    false,
		Confidence: 0.6,
		Method:     attribution.MatchMethodGemini,
		Reasoning:  "ambiguous",
		Suggestions: []attribution.Suggestion{
			{PersonID: "p-alice", Name: "Alice Johnson", Confidence: 0.6},
		},
	}
	h, store, _ := paymentsFixture(match)

	body := `{"raw_text": "ZELLE FROM A JOHNSON $1,195.00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/import", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ImportPayment(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["status"] != "pending_review" {
		t.Errorf("status = %v, want pending_review", resp["status"])
	}
	if resp["pending_id"] == "" {
		t.Error("missing pending_id")
	}
	if len(store.pending) != 1 {
		t.Errorf("pending rows = %d, want 1", len(store.pending))
	}
}

func TestImportBatch(t *testing.T) {
	h, _, publisher := paymentsFixture(nil)

	body := `{"items": [
		{"raw_text": "ZELLE FROM A $1.00", "external_ref": "r1"},
		{"raw_text": "ZELLE FROM B $2.00", "external_ref": "r2"},
		{"raw_text": ""}
	], "recorded_by": "batch-import"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/import-batch", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ImportBatch(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("published = %d, want 2 (empty item skipped)", len(publisher.published))
	}
	if publisher.published[0].BatchID != publisher.published[1].BatchID {
		t.Error("jobs of one request must share a batch id")
	}
	if publisher.published[0].RecordedBy != "batch-import" {
		t.Errorf("RecordedBy = %q", publisher.published[0].RecordedBy)
	}
}

func pendingFixture() (*PendingHandler, *fakeStore) {
	store := newFakeStore()
	store.persons["p-alice"] = &bq.PersonRow{PersonID: "p-alice", FirstName: "Alice", LastName: "Johnson"}
	store.assignments["p-alice"] = &bq.TenantRow{PersonID: "p-alice", AssignmentID: "a-alice", FullName: "Alice Johnson"}
	store.pending["pend-1"] = &bq.PendingPaymentRow{
		PendingID:     "pend-1",
		SenderNameRaw: "ALI JOHNSON",
		Amount:        bigquery.NullFloat64{Float64: 1195, Valid: true},
		Status:        bq.PendingStatusOpen,
	}

	engine := recording.NewEngine(store, store, store, store, nil, zerolog.Nop())
	return NewPendingHandler(store, store, store, engine, nil, zerolog.Nop()), store
}

func TestResolvePending(t *testing.T) {
	h, store := pendingFixture()

	body := `{"person_id": "p-alice", "resolved_by": "admin"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pending/pend-1/resolve", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ResolvePending(w, req, "pend-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	if len(store.payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(store.payments))
	}
	if store.payments[0].ExternalRef != "pending:pend-1" {
		t.Errorf("ExternalRef = %q, want pending:pend-1", store.payments[0].ExternalRef)
	}
	if store.resolved["pend-1"] != "admin" {
		t.Errorf("resolved = %v", store.resolved)
	}
	mapping := store.mappings["ali johnson"]
	if mapping == nil || mapping.MatchSource != bq.MatchSourceAdminConfirmed {
		t.Errorf("mapping = %+v, want admin_confirmed", mapping)
	}
}

func TestResolvePending_Idempotent(t *testing.T) {
	h, store := pendingFixture()

	body := `{"person_id": "p-alice", "resolved_by": "admin"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pending/pend-1/resolve", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ResolvePending(w, req, "pend-1")
	if w.Code != http.StatusOK {
		t.Fatalf("first resolve status = %d", w.Code)
	}

	// The row is now resolved; a second call conflicts instead of
	// double-recording.
	req = httptest.NewRequest(http.MethodPost, "/api/pending/pend-1/resolve", strings.NewReader(body))
	w = httptest.NewRecorder()
	h.ResolvePending(w, req, "pend-1")

	if w.Code != http.StatusConflict {
		t.Fatalf("second resolve status = %d, want 409", w.Code)
	}
	if len(store.payments) != 1 {
		t.Errorf("payments = %d, want 1", len(store.payments))
	}
}

func TestResolvePending_NotFound(t *testing.T) {
	h, _ := pendingFixture()

	body := `{"person_id": "p-alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pending/nope/resolve", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ResolvePending(w, req, "nope")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestResolvePending_NoAssignment(t *testing.T) {
	h, store := pendingFixture()
	delete(store.assignments, "p-alice")

	body := `{"person_id": "p-alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pending/pend-1/resolve", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ResolvePending(w, req, "pend-1")

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestPaymentConfirmedWebhook(t *testing.T) {
	store := newFakeStore()
	store.persons["p-alice"] = &bq.PersonRow{PersonID: "p-alice", FirstName: "Alice", LastName: "Johnson"}
	store.assignments["p-alice"] = &bq.TenantRow{PersonID: "p-alice", AssignmentID: "a-alice"}

	engine := recording.NewEngine(store, store, store, store, nil, zerolog.Nop())
	h := NewWebhooksHandler(store, store, engine, zerolog.Nop())

	body := `{"external_ref": "zelle:42", "sender_name": "ALICE J", "person_id": "p-alice", "amount": 1195, "date": "2026-02-02", "method": "zelle"}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment-confirmed", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.PaymentConfirmed(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	if len(store.payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(store.payments))
	}
	mapping := store.mappings["alice j"]
	if mapping == nil || mapping.MatchSource != bq.MatchSourceZelleConfirmed {
		t.Errorf("mapping = %+v, want zelle_admin_confirmed", mapping)
	}

	// Replay: same external_ref records nothing new.
	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/payment-confirmed", strings.NewReader(body))
	w = httptest.NewRecorder()
	h.PaymentConfirmed(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", w.Code)
	}
	if len(store.payments) != 1 {
		t.Errorf("payments after replay = %d, want 1", len(store.payments))
	}
}

func TestDeleteMapping_Normalizes(t *testing.T) {
	store := newFakeStore()
	store.mappings["alice johnson"] = &bq.SenderMappingRow{SenderNameNormalized: "alice johnson"}
	h := NewMappingsHandler(store, zerolog.Nop())

	req := httptest.NewRequest(http.MethodDelete, "/api/sender-mappings/ALICE%20JOHNSON", nil)
	w := httptest.NewRecorder()
	h.DeleteMapping(w, req, "ALICE JOHNSON")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if _, ok := store.mappings["alice johnson"]; ok {
		t.Error("mapping not deleted")
	}
}
