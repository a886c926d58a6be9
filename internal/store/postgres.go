// Package store is the Postgres persistence layer: customers, import
// history and the organization lookup the web layer validates against.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kundimport/internal/importer"
)

// ErrCustomerNumberConflict signals that a customer number was already
// taken inside the organization. With commits serialized per organization
// this indicates out-of-band writes to the customers table.
var ErrCustomerNumberConflict = errors.New("customer number already in use")

const uniqueViolation = "23505"

// Customer is a persisted customer as returned by listings.
type Customer struct {
	ID             string    `json:"id"`
	CustomerNumber string    `json:"customerNumber"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Address        string    `json:"address,omitempty"`
	ZipCode        string    `json:"zipCode,omitempty"`
	City           string    `json:"city,omitempty"`
	OrgNr          string    `json:"orgNr,omitempty"`
	Personnummer   string    `json:"personnummer,omitempty"`
	RotCustomer    string    `json:"rotCustomer"`
	RutCustomer    string    `json:"rutCustomer"`
	ImportedFrom   string    `json:"importedFrom,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	ImportedAt     time.Time `json:"importedAt"`
}

// HistoryEntry is one line of an organization's import history.
type HistoryEntry struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	TotalRows  int       `json:"totalRows"`
	Imported   int       `json:"imported"`
	Skipped    int       `json:"skipped"`
	Failed     bool      `json:"failed"`
	ImportedAt time.Time `json:"importedAt"`
}

// Postgres implements importer.Store plus the read side of the API.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New wraps a pgx pool.
func New(pool *pgxpool.Pool, log *slog.Logger) *Postgres {
	if log == nil {
		log = slog.Default()
	}
	return &Postgres{pool: pool, log: log}
}

// Ping checks database connectivity for health reporting.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// FetchExisting returns the duplicate-detection keys of every customer in
// the organization.
func (p *Postgres) FetchExisting(ctx context.Context, organizationID string) ([]importer.ExistingCustomer, error) {
	const q = `
SELECT name, email, org_nr
FROM customers
WHERE organization_id = $1
`
	rows, err := p.pool.Query(ctx, q, organizationID)
	if err != nil {
		return nil, fmt.Errorf("query existing customers: %w", err)
	}
	defer rows.Close()

	var existing []importer.ExistingCustomer
	for rows.Next() {
		var e importer.ExistingCustomer
		if err := rows.Scan(&e.Name, &e.Email, &e.OrgNr); err != nil {
			return nil, fmt.Errorf("scan existing customer: %w", err)
		}
		existing = append(existing, e)
	}
	return existing, rows.Err()
}

// CountCustomers returns how many customers the organization has.
func (p *Postgres) CountCustomers(ctx context.Context, organizationID string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM customers WHERE organization_id = $1`,
		organizationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count customers: %w", err)
	}
	return count, nil
}

const insertCustomerSQL = `
INSERT INTO customers (
    organization_id, customer_number, name, email, phone,
    address, zip_code, city, org_nr, personnummer,
    rot_customer, rut_customer, imported_from
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// InsertBatch writes one batch inside a single transaction, so a failing
// row rolls the whole batch back while earlier batches stay committed.
func (p *Postgres) InsertBatch(ctx context.Context, organizationID string, batch []importer.NewCustomer) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, c := range batch {
		b.Queue(insertCustomerSQL,
			organizationID, c.CustomerNumber, c.Name, c.Email, c.Phone,
			c.Address, c.ZipCode, c.City, c.OrgNr, c.Personnummer,
			c.RotCustomer, c.RutCustomer, c.ImportedFrom)
	}

	br := tx.SendBatch(ctx, b)
	for range batch {
		if _, err := br.Exec(); err != nil {
			br.Close()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				p.log.Error("customer number conflict",
					"organization_id", organizationID,
					"constraint", pgErr.ConstraintName)
				return ErrCustomerNumberConflict
			}
			return fmt.Errorf("insert customer: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// RecordImport appends one history row.
func (p *Postgres) RecordImport(ctx context.Context, rec importer.ImportRecord) error {
	const q = `
INSERT INTO import_history (organization_id, file_name, total_rows, imported, skipped, failed, imported_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := p.pool.Exec(ctx, q,
		rec.OrganizationID, rec.FileName, rec.TotalRows,
		rec.Imported, rec.Skipped, rec.Failed, rec.ImportedAt)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return nil
}

// DefaultPageSize caps customer listings when the caller does not ask for
// a specific page size.
const DefaultPageSize = 100

// ListCustomers returns one page of the organization's customers ordered
// by customer number. limit <= 0 falls back to DefaultPageSize; a negative
// offset reads from the start.
func (p *Postgres) ListCustomers(ctx context.Context, organizationID string, limit, offset int) ([]Customer, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	const q = `
SELECT id::text, customer_number, name, email, phone,
       address, zip_code, city, org_nr, personnummer,
       rot_customer, rut_customer, imported_from, created_at, imported_at
FROM customers
WHERE organization_id = $1
ORDER BY customer_number
LIMIT $2 OFFSET $3
`
	rows, err := p.pool.Query(ctx, q, organizationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(
			&c.ID, &c.CustomerNumber, &c.Name, &c.Email, &c.Phone,
			&c.Address, &c.ZipCode, &c.City, &c.OrgNr, &c.Personnummer,
			&c.RotCustomer, &c.RutCustomer, &c.ImportedFrom, &c.CreatedAt, &c.ImportedAt,
		); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// ListHistory returns the organization's most recent imports, newest
// first.
func (p *Postgres) ListHistory(ctx context.Context, organizationID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id::text, file_name, total_rows, imported, skipped, failed, imported_at
FROM import_history
WHERE organization_id = $1
ORDER BY imported_at DESC
LIMIT $2
`
	rows, err := p.pool.Query(ctx, q, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.FileName, &h.TotalRows, &h.Imported, &h.Skipped, &h.Failed, &h.ImportedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// OrganizationExists reports whether the organization id is known.
func (p *Postgres) OrganizationExists(ctx context.Context, organizationID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`,
		organizationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check organization: %w", err)
	}
	return exists, nil
}

// CreateOrganization inserts an organization and returns its id. Used by
// the migrate command's seed flag and by tests against a live database.
func (p *Postgres) CreateOrganization(ctx context.Context, name string) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx,
		`INSERT INTO organizations (name) VALUES ($1) RETURNING id::text`,
		name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create organization: %w", err)
	}
	return id, nil
}
