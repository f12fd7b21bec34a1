package reviewsync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dmelnik/rentdesk/internal/attribution"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
)

// PendingToNotionProperties converts a pending payment row into the review
// board's page properties. The Pending ID title is the dedup key.
func PendingToNotionProperties(row *bq.PendingPaymentRow) notionapi.Properties {
	props := notionapi.Properties{
		"Pending ID": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: row.PendingID,
					},
				},
			},
		},
		"Sender": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: row.SenderNameRaw,
					},
				},
			},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: row.Status,
			},
		},
	}

	if row.Amount.Valid {
		props["Amount"] = notionapi.NumberProperty{
			Number: row.Amount.Float64,
		}
	}

	if row.Method.Valid && row.Method.StringVal != "" {
		props["Method"] = notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: row.Method.StringVal,
			},
		}
	}

	if row.PaidOn.Valid {
		props["Paid On"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: func() *notionapi.Date {
					d := notionapi.Date(time.Date(
						row.PaidOn.Date.Year,
						time.Month(row.PaidOn.Date.Month),
						row.PaidOn.Date.Day,
						0, 0, 0, 0, time.UTC,
					))
					return &d
				}(),
			},
		}
	}

	if row.Reasoning != "" {
		props["Reasoning"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: row.Reasoning,
					},
				},
			},
		}
	}

	if summary := summarizeSuggestions(row.Suggestions); summary != "" {
		props["Suggestions"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: summary,
					},
				},
			},
		}
	}

	return props
}

// summarizeSuggestions renders the stored suggestion JSON as one line per
// candidate for the reviewer. Unparseable JSON yields an empty string.
func summarizeSuggestions(raw string) string {
	if raw == "" {
		return ""
	}

	var suggestions []attribution.Suggestion
	if err := json.Unmarshal([]byte(raw), &suggestions); err != nil {
		return ""
	}

	lines := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		lines = append(lines, fmt.Sprintf("%s (%.0f%%)", s.Name, s.Confidence*100))
	}
	return strings.Join(lines, "\n")
}

// extractPendingID reads the Pending ID title off a review board page.
// Returns empty string when the property is missing.
func extractPendingID(page notionapi.Page) string {
	if prop, ok := page.Properties["Pending ID"]; ok {
		if title, ok := prop.(*notionapi.TitleProperty); ok {
			if len(title.Title) > 0 {
				return title.Title[0].PlainText
			}
		}
	}
	return ""
}
