package attribution

import (
	"fmt"
	"strings"

	bq "github.com/dmelnik/rentdesk/internal/bigquery"
)

// buildMatchPrompt constructs the instruction for the reasoning oracle:
// the claimed sender, the payment amount when known, a numbered tenant
// roster with contextual amounts, explicit matching rules and the
// confidence rubric, and a strict-JSON output contract.
func buildMatchPrompt(req *Request, roster []*bq.TenantRow) string {
	var b strings.Builder

	b.WriteString("You are a payment attribution assistant for a property-management back office.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- A bank transfer arrived with the sender name below.\n")
	b.WriteString("- Decide which tenant on the roster, if any, sent it.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n\n")

	b.WriteString("Sender name: " + req.SenderName + "\n")
	if req.Amount != nil {
		fmt.Fprintf(&b, "Payment amount: $%.2f\n", *req.Amount)
	} else {
		b.WriteString("Payment amount: unknown\n")
	}
	b.WriteString("\nTenant roster:\n")

	for i, t := range roster {
		rent, _ := t.MonthlyRent.Float64()
		deposit, _ := t.DepositAmount.Float64()
		fmt.Fprintf(&b, "%d. %s (email: %s, monthly rent: $%.2f, deposit: $%.2f)\n",
			i+1, t.FullName, t.Email, rent, deposit)
	}

	b.WriteString("\nMatching rules:\n")
	b.WriteString("- Ignore case, punctuation and extra whitespace.\n")
	b.WriteString("- Tolerate nicknames, initials, swapped name order and minor misspellings.\n")
	b.WriteString("- If the payment amount equals or is close to a tenant's monthly rent or deposit, treat that as supporting evidence.\n")
	b.WriteString("- Never invent a tenant; only use roster indexes shown above.\n\n")

	b.WriteString("Confidence rubric:\n")
	b.WriteString("- 0.95-1.0: exact or near-exact name match.\n")
	b.WriteString("- 0.85-0.94: strong match (nickname, initials, amount agrees).\n")
	b.WriteString("- 0.70-0.84: plausible but uncertain.\n")
	b.WriteString("- below 0.70: needs human review.\n\n")

	b.WriteString("Return a single JSON object with exactly these fields:\n")
	b.WriteString("- \"best_match\": the 1-based roster index of the best candidate, or null\n")
	b.WriteString("- \"confidence\": number between 0 and 1\n")
	b.WriteString("- \"reasoning\": short string explaining the decision\n")
	b.WriteString("- \"other_possibilities\": array of {\"index\": number, \"confidence\": number, \"reasoning\": string}\n\n")
	b.WriteString("Return ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Do NOT use ```json or any Markdown.\n")
	b.WriteString("Output must begin with \"{\" and end with \"}\".\n")

	return b.String()
}
