package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"kundimport/internal/schema"
)

func TestFormatCustomerNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "0001"},
		{8, "0008"},
		{42, "0042"},
		{9999, "9999"},
		{10000, "10000"},
	}
	for _, tc := range tests {
		if got := FormatCustomerNumber(tc.n); got != tc.want {
			t.Errorf("FormatCustomerNumber(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func acceptedCandidates(n int) []Candidate {
	out := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Candidate{
			RowNumber: i + 2,
			Fields: map[schema.Field]string{
				schema.FieldName:        fmt.Sprintf("Kund %d AB", i+1),
				schema.FieldRotCustomer: "Nej",
				schema.FieldRutCustomer: "Nej",
			},
		})
	}
	return out
}

func TestPersistBatchesContinuesNumbering(t *testing.T) {
	// Seven existing customers: the next import starts at 0008.
	store := &fakeStore{count: 7}

	imported, err := persistBatches(context.Background(), store, "org-1",
		acceptedCandidates(3), "kunder.csv", store.count+1, DefaultBatchSize, nil)
	if err != nil {
		t.Fatalf("persistBatches: %v", err)
	}
	if imported != 3 {
		t.Fatalf("imported = %d, want 3", imported)
	}

	var got []string
	for _, c := range store.inserted() {
		got = append(got, c.CustomerNumber)
	}
	want := []string{"0008", "0009", "0010"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("customer %d number = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPersistBatchesSplitsAndReportsProgress(t *testing.T) {
	store := &fakeStore{}
	var progress [][2]int

	imported, err := persistBatches(context.Background(), store, "org-1",
		acceptedCandidates(120), "kunder.csv", 1, 50,
		func(done, total int) { progress = append(progress, [2]int{done, total}) })
	if err != nil {
		t.Fatalf("persistBatches: %v", err)
	}
	if imported != 120 {
		t.Fatalf("imported = %d, want 120", imported)
	}

	if len(store.batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(store.batches))
	}
	for i, wantLen := range []int{50, 50, 20} {
		if len(store.batches[i]) != wantLen {
			t.Errorf("batch %d has %d rows, want %d", i, len(store.batches[i]), wantLen)
		}
	}

	wantProgress := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	if len(progress) != len(wantProgress) {
		t.Fatalf("progress calls = %v", progress)
	}
	for i := range wantProgress {
		if progress[i] != wantProgress[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], wantProgress[i])
		}
	}
}

func TestPersistBatchesNumbersHaveNoGaps(t *testing.T) {
	store := &fakeStore{}
	if _, err := persistBatches(context.Background(), store, "org-1",
		acceptedCandidates(73), "kunder.csv", 1, 25, nil); err != nil {
		t.Fatalf("persistBatches: %v", err)
	}

	for i, c := range store.inserted() {
		if want := FormatCustomerNumber(i + 1); c.CustomerNumber != want {
			t.Fatalf("position %d number = %q, want %q", i, c.CustomerNumber, want)
		}
	}
}

func TestPersistBatchesHaltsOnFailure(t *testing.T) {
	// Second batch fails: the first stays committed, the third is never
	// attempted, and the count reflects only what went in.
	store := &fakeStore{failOnBatch: 2}

	imported, err := persistBatches(context.Background(), store, "org-1",
		acceptedCandidates(120), "kunder.csv", 1, 50, nil)
	if !errors.Is(err, errBatchRefused) {
		t.Fatalf("err = %v, want wrapped batch error", err)
	}
	if imported != 50 {
		t.Errorf("imported = %d, want 50", imported)
	}
	if len(store.batches) != 1 {
		t.Errorf("committed batches = %d, want 1", len(store.batches))
	}
}

func TestBuildCustomerMapsFields(t *testing.T) {
	c := Candidate{
		RowNumber: 2,
		Fields: map[schema.Field]string{
			schema.FieldName:        "Anna Svensson",
			schema.FieldEmail:       "anna@x.se",
			schema.FieldPhone:       "0701234567",
			schema.FieldAddress:     "Storgatan 1",
			schema.FieldZipCode:     "11435",
			schema.FieldCity:        "Stockholm",
			schema.FieldOrgNr:       "5561234567",
			schema.FieldRotCustomer: "Ja",
			schema.FieldRutCustomer: "Nej",
		},
	}

	got := buildCustomer(c, 8, "kunder.csv")
	if got.CustomerNumber != "0008" {
		t.Errorf("customerNumber = %q", got.CustomerNumber)
	}
	if got.Name != "Anna Svensson" || got.City != "Stockholm" || got.RotCustomer != "Ja" {
		t.Errorf("mapped customer = %+v", got)
	}
	if got.ImportedFrom != "kunder.csv" {
		t.Errorf("importedFrom = %q", got.ImportedFrom)
	}
}
