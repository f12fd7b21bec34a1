package attribution

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// dateTokenRe matches a standalone month/day/year token, e.g. 02/02/2026.
	dateTokenRe = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}$`)

	// amountRe matches one currency amount, e.g. $1,195.00.
	amountRe = regexp.MustCompile(`\$[0-9][0-9,]*(?:\.[0-9]{1,2})?`)
)

// typeTokens are standalone transaction-type lines in bank activity text.
// They carry no sender information and are skipped, but a generic CREDIT
// line makes an otherwise-unknown transfer method default to "other".
var typeTokens = map[string]bool{
	"CREDIT": true,
	"DEBIT":  true,
	"CHECK":  true,
	"ACH":    true,
	"WIRE":   true,
}

// methodKeywords are transfer-method prefixes recognized at the start of a
// transaction description.
var methodKeywords = []string{
	MethodZelle,
	MethodVenmo,
	MethodACH,
	MethodCheck,
	MethodWire,
	MethodPaypal,
}

// ParsePaymentText turns a raw, loosely-formatted bank-activity string into
// a TransactionDraft. Malformed input never produces an error; fields the
// parser cannot recover are simply left unset, and the caller decides
// whether a missing sender name is fatal.
func ParsePaymentText(raw string) *TransactionDraft {
	draft := &TransactionDraft{RawText: raw}
	sawCredit := false

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		upper := strings.ToUpper(line)

		if dateTokenRe.MatchString(line) {
			if d, ok := parseDateToken(line); ok && draft.TransactionDate == nil {
				draft.TransactionDate = &d
			}
			continue
		}

		if typeTokens[upper] {
			if upper == "CREDIT" {
				sawCredit = true
			}
			continue
		}

		// Only the first line carrying an amount becomes the transaction
		// line; anything after it is noise (running totals, footers).
		if draft.Amount != nil {
			continue
		}

		desc, amounts := splitTrailingAmounts(line)
		if len(amounts) == 0 {
			continue
		}

		draft.Amount = &amounts[0]
		if len(amounts) > 1 {
			draft.TrailingBalance = &amounts[1]
		}

		method, sender := extractMethodAndSender(desc)
		draft.Method = method
		draft.SenderNameRaw = sender
	}

	if draft.Method == "" && sawCredit && draft.SenderNameRaw != "" {
		draft.Method = MethodOther
	}

	return draft
}

// parseDateToken parses a month/day/year token, accepting 2- and 4-digit
// years.
func parseDateToken(tok string) (time.Time, bool) {
	for _, layout := range []string{"1/2/2006", "1/2/06"} {
		if d, err := time.Parse(layout, tok); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// splitTrailingAmounts extracts up to two currency amounts from the tail of
// a line and returns the preceding description. The second amount, when
// present, is the account's running balance.
func splitTrailingAmounts(line string) (string, []float64) {
	locs := amountRe.FindAllStringIndex(line, -1)
	if len(locs) == 0 {
		return line, nil
	}

	// Keep only the contiguous run of amounts ending the line.
	start := len(locs)
	end := len(line)
	for i := len(locs) - 1; i >= 0; i-- {
		if strings.TrimSpace(line[locs[i][1]:end]) != "" {
			break
		}
		start = i
		end = locs[i][0]
	}
	if start == len(locs) {
		return line, nil
	}

	var amounts []float64
	for _, loc := range locs[start:] {
		if f, ok := parseAmount(line[loc[0]:loc[1]]); ok {
			amounts = append(amounts, f)
		}
	}
	if len(amounts) > 2 {
		amounts = amounts[:2]
	}

	return strings.TrimSpace(line[:locs[start][0]]), amounts
}

// parseAmount parses "$1,195.00" into 1195.00.
func parseAmount(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// extractMethodAndSender pulls a leading transfer-method keyword off the
// description and returns the remainder, after a "FROM" connector, as the
// claimed sender name. With no keyword the full description is the sender
// and the method is left unset.
func extractMethodAndSender(desc string) (string, string) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", ""
	}

	lower := strings.ToLower(desc)
	for _, kw := range methodKeywords {
		if lower == kw {
			return kw, ""
		}
		if strings.HasPrefix(lower, kw+" ") {
			rest := strings.TrimSpace(desc[len(kw):])
			return kw, stripConnectors(rest)
		}
	}

	return "", desc
}

// stripConnectors drops filler tokens between a method keyword and the
// sender name, e.g. "PAYMENT FROM JANE DOE" -> "JANE DOE".
func stripConnectors(s string) string {
	for {
		fields := strings.SplitN(s, " ", 2)
		if len(fields) < 2 {
			return s
		}
		switch strings.ToUpper(fields[0]) {
		case "FROM", "PAYMENT", "TRANSFER":
			s = strings.TrimSpace(fields[1])
		default:
			return s
		}
	}
}
