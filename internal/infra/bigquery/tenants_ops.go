package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dmelnik/rentdesk/internal/bigquery"
	"google.golang.org/api/iterator"
)

// relevantStatuses are the assignment states whose occupants can plausibly
// be the sender of an incoming payment.
const relevantStatusList = `'active', 'pending_contract', 'contract_sent'`

// ListRelevantTenants returns the roster of currently-relevant payers:
// persons joined to an assignment in active, pending_contract or
// contract_sent status. The roster is rebuilt on every call so a matching
// attempt never sees a stale occupant list.
func (s *Store) ListRelevantTenants(ctx context.Context) ([]*bq.TenantRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			p.person_id,
			a.assignment_id,
			CONCAT(p.first_name, ' ', p.last_name) AS full_name,
			p.email,
			a.monthly_rent,
			a.deposit_amount
		FROM %s a
		INNER JOIN %s p
		  ON a.person_id = p.person_id
		WHERE a.status IN (%s)
		ORDER BY p.last_name, p.first_name
	`, s.table("assignments"), s.table("persons"), relevantStatusList))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRelevantTenants: query read: %w", err)
	}

	var tenants []*bq.TenantRow
	for {
		var row bq.TenantRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRelevantTenants: iterating: %w", err)
		}
		tenants = append(tenants, &row)
	}

	return tenants, nil
}

// ListTenantPersons returns all tenant-typed persons regardless of
// assignment state. Used by the exact-match stage, which scans the full
// roster rather than only open assignments.
func (s *Store) ListTenantPersons(ctx context.Context) ([]*bq.PersonRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT person_id, first_name, last_name, email
		FROM %s
		WHERE person_type = 'tenant'
	`, s.table("persons")))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTenantPersons: query read: %w", err)
	}

	var persons []*bq.PersonRow
	for {
		var row bq.PersonRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTenantPersons: iterating: %w", err)
		}
		persons = append(persons, &row)
	}

	return persons, nil
}

// FindPersonByID returns the person or nil when the id no longer resolves.
func (s *Store) FindPersonByID(ctx context.Context, personID string) (*bq.PersonRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT person_id, first_name, last_name, email
		FROM %s
		WHERE person_id = @person_id
		LIMIT 1
	`, s.table("persons")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "person_id", Value: personID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindPersonByID: query read: %w", err)
	}

	var row bq.PersonRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindPersonByID: iterating: %w", err)
	}

	return &row, nil
}

// FindOpenAssignment returns the person's currently-relevant assignment or
// nil when they hold none. A person without an open assignment is not
// recordable even when the sender mapping still points at them.
func (s *Store) FindOpenAssignment(ctx context.Context, personID string) (*bq.TenantRow, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			p.person_id,
			a.assignment_id,
			CONCAT(p.first_name, ' ', p.last_name) AS full_name,
			p.email,
			a.monthly_rent,
			a.deposit_amount
		FROM %s a
		INNER JOIN %s p
		  ON a.person_id = p.person_id
		WHERE a.person_id = @person_id
		  AND a.status IN (%s)
		ORDER BY a.created_ts DESC
		LIMIT 1
	`, s.table("assignments"), s.table("persons"), relevantStatusList))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "person_id", Value: personID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindOpenAssignment: query read: %w", err)
	}

	var row bq.TenantRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindOpenAssignment: iterating: %w", err)
	}

	return &row, nil
}
