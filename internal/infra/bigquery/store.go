package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
)

// Re-export interfaces from the shared package so callers can depend on
// this package alone.
type TenantRepository = bq.TenantRepository
type MappingRepository = bq.MappingRepository
type PaymentRepository = bq.PaymentRepository
type LedgerRepository = bq.LedgerRepository
type ReviewRepository = bq.ReviewRepository
type AuditRepository = bq.AuditRepository

// Store is the BigQuery-backed implementation of the rentdesk repositories.
// It holds a single shared client to avoid creating a new connection for
// each operation.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewStore creates a Store with a shared BigQuery client.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return &Store{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// table returns the fully qualified, backquoted table name.
func (s *Store) table(name string) string {
	return "`" + s.projectID + "." + s.datasetID + "." + name + "`"
}

// runDML runs a DML query to completion and returns the number of affected
// rows. op names the caller for error wrapping.
func (s *Store) runDML(ctx context.Context, q *bigquery.Query, op string) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}

	if status.Statistics != nil {
		if details, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return details.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// Interface checks.
var _ TenantRepository = (*Store)(nil)
var _ MappingRepository = (*Store)(nil)
var _ PaymentRepository = (*Store)(nil)
var _ LedgerRepository = (*Store)(nil)
var _ ReviewRepository = (*Store)(nil)
var _ AuditRepository = (*Store)(nil)
