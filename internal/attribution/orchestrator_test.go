package attribution

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/rs/zerolog"

	bq "github.com/dmelnik/rentdesk/internal/bigquery"
)

// fakeTenantRepo serves a fixed roster.
type fakeTenantRepo struct {
	roster      []*bq.TenantRow
	persons     []*bq.PersonRow
	assignments map[string]*bq.TenantRow
	rosterErr   error
}

func (f *fakeTenantRepo) ListRelevantTenants(ctx context.Context) ([]*bq.TenantRow, error) {
	if f.rosterErr != nil {
		return nil, f.rosterErr
	}
	return f.roster, nil
}

func (f *fakeTenantRepo) ListTenantPersons(ctx context.Context) ([]*bq.PersonRow, error) {
	return f.persons, nil
}

func (f *fakeTenantRepo) FindPersonByID(ctx context.Context, personID string) (*bq.PersonRow, error) {
	for _, p := range f.persons {
		if p.PersonID == personID {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeTenantRepo) FindOpenAssignment(ctx context.Context, personID string) (*bq.TenantRow, error) {
	return f.assignments[personID], nil
}

// fakeMappingRepo is an in-memory mapping table keyed by normalized name.
type fakeMappingRepo struct {
	mappings  map[string]*bq.SenderMappingRow
	upserts   int
	deletes   int
	upsertErr error
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{mappings: make(map[string]*bq.SenderMappingRow)}
}

func (f *fakeMappingRepo) FindMapping(ctx context.Context, normalized string) (*bq.SenderMappingRow, error) {
	return f.mappings[normalized], nil
}

func (f *fakeMappingRepo) UpsertMapping(ctx context.Context, row *bq.SenderMappingRow) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	f.mappings[row.SenderNameNormalized] = row
	return nil
}

func (f *fakeMappingRepo) DeleteMapping(ctx context.Context, normalized string) error {
	f.deletes++
	delete(f.mappings, normalized)
	return nil
}

func (f *fakeMappingRepo) ListMappings(ctx context.Context) ([]*bq.SenderMappingRow, error) {
	var rows []*bq.SenderMappingRow
	for _, r := range f.mappings {
		rows = append(rows, r)
	}
	return rows, nil
}

// fakeOracle returns a canned response and counts calls.
type fakeOracle struct {
	response string
	err      error
	calls    int
}

func (f *fakeOracle) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func rat(v int64) *big.Rat { return big.NewRat(v, 1) }

func testRoster() *fakeTenantRepo {
	alice := &bq.TenantRow{
		PersonID:      "p-alice",
		AssignmentID:  "a-alice",
		FullName:      "Alice Johnson",
		Email:         "alice@example.com",
		MonthlyRent:   rat(1195),
		DepositAmount: rat(1195),
	}
	bob := &bq.TenantRow{
		PersonID:      "p-bob",
		AssignmentID:  "a-bob",
		FullName:      "Bob Lee",
		Email:         "bob@example.com",
		MonthlyRent:   rat(2400),
		DepositAmount: rat(2400),
	}
	return &fakeTenantRepo{
		roster: []*bq.TenantRow{alice, bob},
		persons: []*bq.PersonRow{
			{PersonID: "p-alice", FirstName: "Alice", LastName: "Johnson"},
			{PersonID: "p-bob", FirstName: "Bob", LastName: "Lee"},
		},
		assignments: map[string]*bq.TenantRow{
			"p-alice": alice,
			"p-bob":   bob,
		},
	}
}

func newTestMatcher(tenants *fakeTenantRepo, mappings *fakeMappingRepo, oracle Oracle) *Matcher {
	return NewMatcher(tenants, mappings, oracle, DefaultMatchThreshold, DefaultSuggestionFloor, zerolog.Nop())
}

func TestMatch_EmptySenderName(t *testing.T) {
	m := newTestMatcher(testRoster(), newFakeMappingRepo(), &fakeOracle{})

	if _, err := m.Match(context.Background(), "  !! ", nil, false); err == nil {
		t.Fatal("expected error for empty sender name")
	}
}

func TestMatch_ExactHitThenCacheHit(t *testing.T) {
	tenants := testRoster()
	mappings := newFakeMappingRepo()
	oracle := &fakeOracle{}
	m := newTestMatcher(tenants, mappings, oracle)

	result, err := m.Match(context.Background(), "ALICE JOHNSON", nil, false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !result.Matched || result.PersonID != "p-alice" {
		t.Fatalf("result = %+v, want match on p-alice", result)
	}
	if result.Method != MatchMethodExact {
		t.Errorf("Method = %q, want %q", result.Method, MatchMethodExact)
	}
	if result.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", result.Confidence)
	}
	if mappings.upserts != 1 {
		t.Errorf("upserts = %d, want 1 (exact hit promoted to cache)", mappings.upserts)
	}

	// Second identical sender resolves from the cache.
	result, err = m.Match(context.Background(), "ALICE JOHNSON", nil, false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Method != MatchMethodCached {
		t.Errorf("second Method = %q, want %q", result.Method, MatchMethodCached)
	}
	if oracle.calls != 0 {
		t.Errorf("oracle calls = %d, want 0", oracle.calls)
	}
}

func TestMatch_ConfidenceGate(t *testing.T) {
	tests := []struct {
		name        string
		confidence  float64
		wantMatched bool
	}{
		{"at threshold matches", 0.85, true},
		{"just below threshold goes to review", 0.8499, false},
		{"well above threshold matches", 0.97, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{
				response: fmt.Sprintf(`{"best_match": 1, "confidence": %v, "reasoning": "nickname", "other_possibilities": []}`, tt.confidence),
			}
			mappings := newFakeMappingRepo()
			m := newTestMatcher(testRoster(), mappings, oracle)

			result, err := m.Match(context.Background(), "ALI JOHNSON", nil, false)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if result.Matched != tt.wantMatched {
				t.Fatalf("Matched = %v, want %v (confidence %v)", result.Matched, tt.wantMatched, tt.confidence)
			}
			if result.Method != MatchMethodGemini {
				t.Errorf("Method = %q, want %q", result.Method, MatchMethodGemini)
			}
			if tt.wantMatched {
				if result.PersonID != "p-alice" {
					t.Errorf("PersonID = %q, want p-alice", result.PersonID)
				}
				if mappings.upserts != 1 {
					t.Errorf("upserts = %d, want 1 (AI match cached)", mappings.upserts)
				}
			} else {
				if mappings.upserts != 0 {
					t.Errorf("upserts = %d, want 0 (below gate must not cache)", mappings.upserts)
				}
				if len(result.Suggestions) == 0 {
					t.Error("expected the best candidate as a suggestion")
				}
			}
		})
	}
}

func TestMatch_SuggestionFloor(t *testing.T) {
	oracle := &fakeOracle{
		response: `{"best_match": 1, "confidence": 0.6, "reasoning": "partial",
			"other_possibilities": [
				{"index": 2, "confidence": 0.55, "reasoning": "initials"},
				{"index": 2, "confidence": 0.3, "reasoning": "weak"}
			]}`,
	}
	m := newTestMatcher(testRoster(), newFakeMappingRepo(), oracle)

	result, err := m.Match(context.Background(), "A J", nil, false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Matched {
		t.Fatal("expected unmatched result")
	}
	if len(result.Suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2 (best + one above floor)", len(result.Suggestions))
	}
	if result.Suggestions[0].PersonID != "p-alice" || result.Suggestions[1].PersonID != "p-bob" {
		t.Errorf("suggestion order = %s, %s", result.Suggestions[0].PersonID, result.Suggestions[1].PersonID)
	}
}

func TestMatch_OracleFailureDegrades(t *testing.T) {
	oracle := &fakeOracle{err: fmt.Errorf("deadline exceeded")}
	m := newTestMatcher(testRoster(), newFakeMappingRepo(), oracle)

	result, err := m.Match(context.Background(), "UNKNOWN SENDER", nil, false)
	if err != nil {
		t.Fatalf("Match: %v, want degraded result instead of error", err)
	}
	if result.Matched {
		t.Fatal("expected unmatched result")
	}
	if result.Method != MatchMethodFailed {
		t.Errorf("Method = %q, want %q", result.Method, MatchMethodFailed)
	}
}

func TestMatch_MalformedOracleOutputDegrades(t *testing.T) {
	oracle := &fakeOracle{response: "I think it is Alice, probably."}
	m := newTestMatcher(testRoster(), newFakeMappingRepo(), oracle)

	result, err := m.Match(context.Background(), "UNKNOWN SENDER", nil, false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Matched || result.Method != MatchMethodFailed {
		t.Errorf("result = %+v, want failed unmatched", result)
	}
}

func TestMatch_StaleMappingSelfHeals(t *testing.T) {
	tenants := testRoster()
	mappings := newFakeMappingRepo()
	mappings.mappings["ghost writer"] = &bq.SenderMappingRow{
		SenderNameNormalized: "ghost writer",
		PersonID:             "p-gone",
		Confidence:           0.9,
		MatchSource:          bq.MatchSourceGemini,
	}
	oracle := &fakeOracle{
		response: `{"best_match": null, "confidence": 0.1, "reasoning": "no plausible tenant", "other_possibilities": []}`,
	}
	m := newTestMatcher(tenants, mappings, oracle)

	result, err := m.Match(context.Background(), "GHOST WRITER", nil, false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if mappings.deletes != 1 {
		t.Errorf("deletes = %d, want 1 (stale mapping removed)", mappings.deletes)
	}
	if result.Matched {
		t.Error("expected fall-through to an unmatched AI result")
	}
	if oracle.calls != 1 {
		t.Errorf("oracle calls = %d, want 1", oracle.calls)
	}
}

func TestMatch_CachedPersonWithoutAssignmentIsTerminal(t *testing.T) {
	tenants := testRoster()
	delete(tenants.assignments, "p-alice")
	mappings := newFakeMappingRepo()
	mappings.mappings["alice johnson"] = &bq.SenderMappingRow{
		SenderNameNormalized: "alice johnson",
		PersonID:             "p-alice",
		Confidence:           1.0,
		MatchSource:          bq.MatchSourceAdminConfirmed,
	}
	oracle := &fakeOracle{}
	m := newTestMatcher(tenants, mappings, oracle)

	result, err := m.Match(context.Background(), "ALICE JOHNSON", nil, false)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Matched {
		t.Fatal("expected unmatched result")
	}
	if len(result.Suggestions) != 1 || result.Suggestions[0].PersonID != "p-alice" {
		t.Errorf("suggestions = %+v, want the cached person", result.Suggestions)
	}
	if oracle.calls != 0 {
		t.Errorf("oracle calls = %d, want 0 (cache stage is terminal)", oracle.calls)
	}
}

func TestMatch_ForceAISkipsCache(t *testing.T) {
	tenants := testRoster()
	mappings := newFakeMappingRepo()
	mappings.mappings["bob lee"] = &bq.SenderMappingRow{
		SenderNameNormalized: "bob lee",
		PersonID:             "p-alice", // wrong on purpose
		Confidence:           0.9,
		MatchSource:          bq.MatchSourceGemini,
	}
	oracle := &fakeOracle{}
	m := newTestMatcher(tenants, mappings, oracle)

	// The exact stage still runs and finds the right person, overwriting
	// the bad mapping.
	result, err := m.Match(context.Background(), "BOB LEE", nil, true)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !result.Matched || result.PersonID != "p-bob" {
		t.Fatalf("result = %+v, want exact match on p-bob", result)
	}
	if result.Method != MatchMethodExact {
		t.Errorf("Method = %q, want %q", result.Method, MatchMethodExact)
	}
	if got := mappings.mappings["bob lee"].PersonID; got != "p-bob" {
		t.Errorf("mapping person = %q, want p-bob (corrected)", got)
	}
}
