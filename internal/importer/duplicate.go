package importer

import (
	"strings"

	"kundimport/internal/schema"
)

// existingIndex hashes the organization's persisted customers on the three
// match keys so duplicate detection stays linear in candidates even for
// large customer tables.
type existingIndex struct {
	byName  map[string]string // lowercased name -> original name
	byEmail map[string]string // lowercased email -> owner's name
	byOrgNr map[string]string // orgNr -> owner's name
}

func buildExistingIndex(existing []ExistingCustomer) existingIndex {
	idx := existingIndex{
		byName:  make(map[string]string, len(existing)),
		byEmail: make(map[string]string),
		byOrgNr: make(map[string]string),
	}
	for _, e := range existing {
		if name := strings.TrimSpace(e.Name); name != "" {
			idx.byName[strings.ToLower(name)] = name
		}
		if email := strings.TrimSpace(e.Email); email != "" {
			idx.byEmail[strings.ToLower(email)] = e.Name
		}
		if orgNr := strings.TrimSpace(e.OrgNr); orgNr != "" {
			idx.byOrgNr[orgNr] = e.Name
		}
	}
	return idx
}

// DetectDuplicates compares each importable candidate against the
// organization's existing customers: case-insensitive name equality, or
// case-insensitive email equality when both sides have one, or exact
// organisationsnummer equality when both sides have one. Matching is exact,
// never fuzzy. Flags are advisory; nothing is removed automatically.
func DetectDuplicates(candidates []Candidate, existing []ExistingCustomer) []DuplicateFlag {
	idx := buildExistingIndex(existing)

	var flags []DuplicateFlag
	for _, c := range candidates {
		if !c.Importable() {
			continue
		}
		if matched, ok := matchExisting(c, idx); ok {
			flags = append(flags, DuplicateFlag{
				RowNumber:           c.RowNumber,
				CandidateName:       c.Fields[schema.FieldName],
				MatchedExistingName: matched,
			})
		}
	}
	return flags
}

func matchExisting(c Candidate, idx existingIndex) (string, bool) {
	if name := c.Fields[schema.FieldName]; name != "" {
		if matched, ok := idx.byName[strings.ToLower(name)]; ok {
			return matched, true
		}
	}
	if email := c.Fields[schema.FieldEmail]; email != "" {
		if owner, ok := idx.byEmail[strings.ToLower(email)]; ok {
			return owner, true
		}
	}
	if orgNr := c.Fields[schema.FieldOrgNr]; orgNr != "" {
		if owner, ok := idx.byOrgNr[orgNr]; ok {
			return owner, true
		}
	}
	return "", false
}
