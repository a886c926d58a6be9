package importer

// validate.go turns a normalized row into a Candidate.
//
// Field rules are independent: a bad value in one field never blocks the
// others. Only a missing name is a hard error; format problems in email,
// phone and organisationsnummer drop the field with a warning so the rest
// of the row still imports. Messages are in Swedish, matching the rest of
// the user-facing surface.

import (
	"fmt"
	"regexp"
	"strings"

	"kundimport/internal/schema"
)

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// Domestic numbers: leading 0 plus 7-9 digits (covers both mobile and
	// short landline area codes). International: +46 then a non-zero digit
	// and 6-8 more.
	phoneDomesticRegex      = regexp.MustCompile(`^0\d{7,9}$`)
	phoneInternationalRegex = regexp.MustCompile(`^\+46[1-9]\d{6,8}$`)

	orgNrRegex = regexp.MustCompile(`^\d{10}$`)

	phoneStripper = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	digitStripper = strings.NewReplacer(" ", "", "-", "")
)

// yesValues are the spellings that mark a row as a ROT/RUT customer.
var yesValues = map[string]bool{
	"ja":   true,
	"yes":  true,
	"1":    true,
	"true": true,
	"x":    true,
}

// ValidateRow builds the Candidate for one normalized row. rowNumber is
// the 1-based source position used in error reporting.
func ValidateRow(rowNumber int, fields map[schema.Field]string) Candidate {
	c := Candidate{
		RowNumber: rowNumber,
		Fields:    make(map[schema.Field]string, len(fields)),
	}

	if name := strings.TrimSpace(fields[schema.FieldName]); name != "" {
		c.Fields[schema.FieldName] = name
	} else {
		c.Errors = append(c.Errors, "Namn saknas (obligatoriskt)")
	}

	if email, ok := fields[schema.FieldEmail]; ok {
		if emailRegex.MatchString(email) {
			c.Fields[schema.FieldEmail] = email
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("Ogiltig e-postadress: %s", email))
		}
	}

	if phone, ok := fields[schema.FieldPhone]; ok {
		if normalized, valid := NormalizePhone(phone); valid {
			c.Fields[schema.FieldPhone] = normalized
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("Ogiltigt telefonnummer: %s", phone))
		}
	}

	if orgNr, ok := fields[schema.FieldOrgNr]; ok {
		stripped := digitStripper.Replace(orgNr)
		if orgNrRegex.MatchString(stripped) {
			c.Fields[schema.FieldOrgNr] = stripped
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("Ogiltigt organisationsnummer: %s", orgNr))
		}
	}

	if pnr, ok := fields[schema.FieldPersonnummer]; ok {
		c.Fields[schema.FieldPersonnummer] = digitStripper.Replace(pnr)
	}

	if addr, ok := fields[schema.FieldAddress]; ok {
		c.Fields[schema.FieldAddress] = addr
	}
	if zip, ok := fields[schema.FieldZipCode]; ok {
		c.Fields[schema.FieldZipCode] = strings.ReplaceAll(zip, " ", "")
	}
	if city, ok := fields[schema.FieldCity]; ok {
		c.Fields[schema.FieldCity] = city
	}

	// ROT/RUT always resolve to Ja or Nej and never warn.
	c.Fields[schema.FieldRotCustomer] = normalizeYesNo(fields[schema.FieldRotCustomer])
	c.Fields[schema.FieldRutCustomer] = normalizeYesNo(fields[schema.FieldRutCustomer])

	return c
}

// NormalizePhone strips formatting characters and validates the Swedish
// mobile/landline shape. International numbers are converted to the
// domestic form (+46 prefix becomes a leading 0).
func NormalizePhone(raw string) (string, bool) {
	s := phoneStripper.Replace(raw)

	if phoneDomesticRegex.MatchString(s) {
		return s, true
	}
	if phoneInternationalRegex.MatchString(s) {
		return "0" + s[3:], true
	}
	return "", false
}

func normalizeYesNo(value string) string {
	if yesValues[strings.ToLower(strings.TrimSpace(value))] {
		return "Ja"
	}
	return "Nej"
}

// ErrorLine formats the review-list line for a rejected row.
func ErrorLine(c Candidate) string {
	return fmt.Sprintf("Rad %d: %s", c.RowNumber, strings.Join(c.Errors, ", "))
}

// WarningLine formats the review-list line for an importable row with
// dropped fields.
func WarningLine(c Candidate) string {
	return fmt.Sprintf("Rad %d: %s", c.RowNumber, strings.Join(c.Warnings, ", "))
}
