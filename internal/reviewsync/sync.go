package reviewsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"

	bq "github.com/dmelnik/rentdesk/internal/bigquery"
)

// Syncer mirrors the pending-payment review queue onto a Notion board.
// Pushes are one-way: BigQuery is the system of record and the board is a
// human-friendly view of it.
type Syncer struct {
	notion NotionService
	dbID   string
	log    zerolog.Logger
}

// NewSyncer creates a board-bound syncer.
func NewSyncer(notion NotionService, dbID string, log zerolog.Logger) *Syncer {
	return &Syncer{notion: notion, dbID: dbID, log: log}
}

// PendingCreated pushes a freshly parked attempt onto the board.
func (s *Syncer) PendingCreated(ctx context.Context, row *bq.PendingPaymentRow) error {
	props := PendingToNotionProperties(row)

	page, err := s.notion.CreatePage(ctx, s.dbID, props)
	if err != nil {
		return fmt.Errorf("Syncer.PendingCreated: %w", err)
	}

	s.log.Info().
		Str("pending_id", row.PendingID).
		Str("page_id", string(page.ID)).
		Msg("Created review board page")
	return nil
}

// PendingResolved flips the board page for a resolved attempt. A missing
// page is not an error; the board may have been pruned by hand.
func (s *Syncer) PendingResolved(ctx context.Context, pendingID string) error {
	pages, err := s.queryAllPages(ctx)
	if err != nil {
		return fmt.Errorf("Syncer.PendingResolved: %w", err)
	}

	for _, page := range pages {
		if extractPendingID(page) != pendingID {
			continue
		}

		props := notionapi.Properties{
			"Status": notionapi.SelectProperty{
				Select: notionapi.Option{
					Name: bq.PendingStatusResolved,
				},
			},
		}
		if _, err := s.notion.UpdatePage(ctx, string(page.ID), props); err != nil {
			return fmt.Errorf("Syncer.PendingResolved: %w", err)
		}

		s.log.Info().
			Str("pending_id", pendingID).
			Str("page_id", string(page.ID)).
			Msg("Marked review board page resolved")
		return nil
	}

	s.log.Warn().Str("pending_id", pendingID).Msg("No review board page to resolve")
	return nil
}

// SyncOpen reconciles the board against the full open queue: creates pages
// for rows the board is missing, skips rows already present. Used by the
// worker on startup and on a timer to heal missed notifications.
func (s *Syncer) SyncOpen(ctx context.Context, review bq.ReviewRepository) error {
	rows, err := review.ListPendingPayments(ctx)
	if err != nil {
		return fmt.Errorf("Syncer.SyncOpen: list pending payments: %w", err)
	}

	pages, err := s.queryAllPages(ctx)
	if err != nil {
		return fmt.Errorf("Syncer.SyncOpen: %w", err)
	}

	existing := make(map[string]bool, len(pages))
	for _, page := range pages {
		if id := extractPendingID(page); id != "" {
			existing[id] = true
		}
	}

	var created, skipped int
	for _, row := range rows {
		if existing[row.PendingID] {
			skipped++
			continue
		}
		if err := s.PendingCreated(ctx, row); err != nil {
			s.log.Warn().Err(err).
				Str("pending_id", row.PendingID).
				Msg("Failed to create review board page")
			continue
		}
		created++
	}

	s.log.Info().
		Int("created", created).
		Int("skipped", skipped).
		Int("total", len(rows)).
		Msg("Review board sync completed")
	return nil
}

// queryAllPages pages through the whole board.
func (s *Syncer) queryAllPages(ctx context.Context) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := s.notion.QueryDatabase(ctx, s.dbID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
