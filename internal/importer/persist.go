package importer

import (
	"context"
	"fmt"
	"time"

	"kundimport/internal/schema"
)

// DefaultBatchSize is how many customers go into one insert transaction.
const DefaultBatchSize = 50

// Store is the persistence boundary the importer writes through.
type Store interface {
	// FetchExisting returns the match keys of every persisted customer in
	// the organization, for duplicate detection.
	FetchExisting(ctx context.Context, organizationID string) ([]ExistingCustomer, error)

	// CountCustomers returns how many customers the organization already
	// has; customer numbering continues from this count.
	CountCustomers(ctx context.Context, organizationID string) (int, error)

	// InsertBatch persists one batch atomically. A failed batch inserts
	// nothing from that batch; earlier batches stay committed.
	InsertBatch(ctx context.Context, organizationID string, batch []NewCustomer) error

	// RecordImport appends one row to the organization's import history.
	RecordImport(ctx context.Context, rec ImportRecord) error
}

// ImportRecord is one line of import history.
type ImportRecord struct {
	OrganizationID string
	FileName       string
	TotalRows      int
	Imported       int
	Skipped        int
	Failed         bool
	ImportedAt     time.Time
}

// FormatCustomerNumber renders a sequential position as the zero-padded
// four-digit customer number ("0001", "0042").
func FormatCustomerNumber(n int) string {
	return fmt.Sprintf("%04d", n)
}

// buildCustomer maps an accepted candidate onto the persisted shape.
// number is the customer's 1-based sequential position in the organization.
func buildCustomer(c Candidate, number int, fileName string) NewCustomer {
	return NewCustomer{
		CustomerNumber: FormatCustomerNumber(number),
		Name:           c.Fields[schema.FieldName],
		Email:          c.Fields[schema.FieldEmail],
		Phone:          c.Fields[schema.FieldPhone],
		Address:        c.Fields[schema.FieldAddress],
		ZipCode:        c.Fields[schema.FieldZipCode],
		City:           c.Fields[schema.FieldCity],
		OrgNr:          c.Fields[schema.FieldOrgNr],
		Personnummer:   c.Fields[schema.FieldPersonnummer],
		RotCustomer:    c.Fields[schema.FieldRotCustomer],
		RutCustomer:    c.Fields[schema.FieldRutCustomer],
		ImportedFrom:   fileName,
	}
}

// persistBatches writes the accepted candidates in sequential batches,
// numbering customers from startNumber. Batches commit independently: on
// the first failure it stops and reports how many rows made it in, leaving
// earlier batches persisted.
func persistBatches(
	ctx context.Context,
	store Store,
	organizationID string,
	accepted []Candidate,
	fileName string,
	startNumber int,
	batchSize int,
	onBatchDone func(done, total int),
) (imported int, err error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	total := (len(accepted) + batchSize - 1) / batchSize

	for i := 0; i < len(accepted); i += batchSize {
		end := i + batchSize
		if end > len(accepted) {
			end = len(accepted)
		}

		batch := make([]NewCustomer, 0, end-i)
		for j, c := range accepted[i:end] {
			batch = append(batch, buildCustomer(c, startNumber+i+j, fileName))
		}

		if err := store.InsertBatch(ctx, organizationID, batch); err != nil {
			return imported, fmt.Errorf("insert batch %d of %d: %w", i/batchSize+1, total, err)
		}
		imported += len(batch)

		if onBatchDone != nil {
			onBatchDone(i/batchSize+1, total)
		}
	}

	return imported, nil
}
