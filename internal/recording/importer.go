package recording

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dmelnik/rentdesk/internal/attribution"
)

// ErrNoSender means the raw text yielded no sender name, so there is
// nothing to attribute. Surfaces mark the attempt rejected, not failed.
var ErrNoSender = errors.New("no sender name found in payment text")

// Archiver stores the raw inbound text and returns a stable URI for it.
type Archiver interface {
	Archive(ctx context.Context, rawText string) (string, error)
}

// PaymentMatcher is the attribution entry point the importer drives.
type PaymentMatcher interface {
	Match(ctx context.Context, senderName string, amount *float64, forceAI bool) (*attribution.MatchResult, error)
}

// ImportRequest is one raw bank-activity entry to run through the pipeline.
type ImportRequest struct {
	RawText     string
	ExternalRef string
	EntryPoint  string
	RecordedBy  string

	// SenderName, when set, overrides whatever the parser extracts from the
	// raw text. Useful when the caller already knows who sent the money.
	SenderName string

	// ForceAI skips the mapping cache so a wrongly-cached sender can be
	// re-matched from scratch.
	ForceAI bool
}

// ImportResult bundles everything the pipeline produced for one entry.
type ImportResult struct {
	Draft   *attribution.TransactionDraft
	Match   *attribution.MatchResult
	Outcome *Outcome
}

// Importer is the full parse-match-record pipeline shared by the HTTP API,
// the background worker and the CLI.
type Importer struct {
	matcher  PaymentMatcher
	engine   *Engine
	archiver Archiver
	log      zerolog.Logger
}

// NewImporter creates the pipeline. archiver may be nil to skip archiving.
func NewImporter(matcher PaymentMatcher, engine *Engine, archiver Archiver, log zerolog.Logger) *Importer {
	return &Importer{
		matcher:  matcher,
		engine:   engine,
		archiver: archiver,
		log:      log,
	}
}

// Process runs one entry through parse, archive, match and record. An
// archive failure is logged and the attempt continues without a URI; a
// missing sender returns ErrNoSender before anything is written.
func (i *Importer) Process(ctx context.Context, req *ImportRequest) (*ImportResult, error) {
	draft := attribution.ParsePaymentText(req.RawText)
	if req.SenderName != "" {
		draft.SenderNameRaw = req.SenderName
	}
	if draft.SenderNameRaw == "" {
		return nil, fmt.Errorf("Importer.Process: %w", ErrNoSender)
	}

	archiveURI := ""
	if i.archiver != nil {
		uri, err := i.archiver.Archive(ctx, req.RawText)
		if err != nil {
			i.log.Error().Err(err).Msg("Raw text archive failed, continuing without URI")
		} else {
			archiveURI = uri
		}
	}

	match, err := i.matcher.Match(ctx, draft.SenderNameRaw, draft.Amount, req.ForceAI)
	if err != nil {
		return nil, fmt.Errorf("Importer.Process: %w", err)
	}

	outcome, err := i.engine.Record(ctx, draft, match, Options{
		ExternalRef: req.ExternalRef,
		EntryPoint:  req.EntryPoint,
		RecordedBy:  req.RecordedBy,
		ArchiveURI:  archiveURI,
	})
	if err != nil {
		return nil, fmt.Errorf("Importer.Process: %w", err)
	}

	return &ImportResult{Draft: draft, Match: match, Outcome: outcome}, nil
}
