package importer

import (
	"context"
	"errors"
	"sync"
)

// fakeStore is an in-memory Store double. failOnBatch (1-based) makes that
// InsertBatch call fail, for halt-on-failure tests.
type fakeStore struct {
	mu          sync.Mutex
	existing    []ExistingCustomer
	count       int
	batches     [][]NewCustomer
	records     []ImportRecord
	failOnBatch int

	// fetchFn, when set, replaces the default FetchExisting behaviour.
	fetchFn func(ctx context.Context) ([]ExistingCustomer, error)
}

var errBatchRefused = errors.New("connection reset by peer")

func (f *fakeStore) FetchExisting(ctx context.Context, _ string) ([]ExistingCustomer, error) {
	f.mu.Lock()
	fn := f.fetchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing, nil
}

func (f *fakeStore) CountCustomers(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeStore) InsertBatch(_ context.Context, _ string, batch []NewCustomer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOnBatch > 0 && len(f.batches)+1 == f.failOnBatch {
		return errBatchRefused
	}
	f.batches = append(f.batches, batch)
	f.count += len(batch)
	return nil
}

func (f *fakeStore) RecordImport(_ context.Context, rec ImportRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) inserted() []NewCustomer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []NewCustomer
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}
