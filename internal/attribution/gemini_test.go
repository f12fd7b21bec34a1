package attribution

import (
	"testing"
)

func TestCleanOracleJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "raw json untouched",
			in:   `{"best_match": 1}`,
			want: `{"best_match": 1}`,
		},
		{
			name: "json fence stripped",
			in:   "```json\n{\"best_match\": 1}\n```",
			want: `{"best_match": 1}`,
		},
		{
			name: "bare fence stripped",
			in:   "```\n{\"best_match\": 1}\n```",
			want: `{"best_match": 1}`,
		},
		{
			name: "prose around the object removed",
			in:   "Here you go:\n{\"best_match\": 2}\nHope that helps!",
			want: `{"best_match": 2}`,
		},
		{
			name: "surrounding whitespace trimmed",
			in:   "  \n {\"a\": 1} \n ",
			want: `{"a": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanOracleJSON(tt.in); got != tt.want {
				t.Errorf("cleanOracleJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseOracleVerdict(t *testing.T) {
	verdict, err := parseOracleVerdict("```json\n" + `{
		"best_match": 2,
		"confidence": 0.91,
		"reasoning": "swapped name order",
		"other_possibilities": [{"index": 1, "confidence": 0.4, "reasoning": "same surname"}]
	}` + "\n```")
	if err != nil {
		t.Fatalf("parseOracleVerdict: %v", err)
	}

	if verdict.BestMatch == nil || *verdict.BestMatch != 2 {
		t.Errorf("BestMatch = %v, want 2", verdict.BestMatch)
	}
	if verdict.Confidence != 0.91 {
		t.Errorf("Confidence = %v, want 0.91", verdict.Confidence)
	}
	if len(verdict.OtherPossibilities) != 1 || verdict.OtherPossibilities[0].Index != 1 {
		t.Errorf("OtherPossibilities = %+v", verdict.OtherPossibilities)
	}
}

func TestParseOracleVerdict_NullBestMatch(t *testing.T) {
	verdict, err := parseOracleVerdict(`{"best_match": null, "confidence": 0, "reasoning": "nobody fits", "other_possibilities": []}`)
	if err != nil {
		t.Fatalf("parseOracleVerdict: %v", err)
	}
	if verdict.BestMatch != nil {
		t.Errorf("BestMatch = %v, want nil", verdict.BestMatch)
	}
}

func TestParseOracleVerdict_Malformed(t *testing.T) {
	if _, err := parseOracleVerdict("not json at all"); err == nil {
		t.Fatal("expected error for non-JSON input")
	}
}

func TestTenantAt(t *testing.T) {
	roster := testRoster().roster

	if got := tenantAt(roster, nil); got != nil {
		t.Errorf("tenantAt(nil) = %v, want nil", got)
	}
	for _, idx := range []int{0, -1, 3} {
		i := idx
		if got := tenantAt(roster, &i); got != nil {
			t.Errorf("tenantAt(%d) = %v, want nil", idx, got)
		}
	}
	one := 1
	if got := tenantAt(roster, &one); got == nil || got.PersonID != "p-alice" {
		t.Errorf("tenantAt(1) = %v, want p-alice", got)
	}
	two := 2
	if got := tenantAt(roster, &two); got == nil || got.PersonID != "p-bob" {
		t.Errorf("tenantAt(2) = %v, want p-bob", got)
	}
}
