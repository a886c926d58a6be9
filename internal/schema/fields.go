// Package schema defines the closed set of customer fields the import
// pipeline understands, the header synonym table that maps source file
// columns onto those fields, and the downloadable import template.
package schema

import "strings"

// Field identifies one column of the internal customer schema.
// Source file headers are resolved to at most one Field; everything
// downstream of the normalizer is keyed by this closed enumeration.
type Field string

const (
	FieldName         Field = "name"
	FieldEmail        Field = "email"
	FieldPhone        Field = "phone"
	FieldAddress      Field = "address"
	FieldZipCode      Field = "zipCode"
	FieldCity         Field = "city"
	FieldOrgNr        Field = "orgNr"
	FieldPersonnummer Field = "personnummer"
	FieldRotCustomer  Field = "rotCustomer"
	FieldRutCustomer  Field = "rutCustomer"
)

// Fields lists all schema fields in template column order.
var Fields = []Field{
	FieldName,
	FieldEmail,
	FieldPhone,
	FieldAddress,
	FieldZipCode,
	FieldCity,
	FieldOrgNr,
	FieldPersonnummer,
	FieldRotCustomer,
	FieldRutCustomer,
}

// headerSynonyms maps lowercased, trimmed source headers to schema fields.
// Swedish and English spellings map to the same field; headers not in this
// table are ignored by the normalizer, not rejected.
var headerSynonyms = map[string]Field{
	"namn":          FieldName,
	"name":          FieldName,
	"kundnamn":      FieldName,
	"company name":  FieldName,
	"företagsnamn":  FieldName,
	"customer name": FieldName,

	"email":  FieldEmail,
	"e-post": FieldEmail,
	"epost":  FieldEmail,
	"mail":   FieldEmail,
	"e-mail": FieldEmail,

	"telefon":       FieldPhone,
	"phone":         FieldPhone,
	"tel":           FieldPhone,
	"mobilnummer":   FieldPhone,
	"mobile":        FieldPhone,
	"telefonnummer": FieldPhone,

	"adress":         FieldAddress,
	"address":        FieldAddress,
	"gatuadress":     FieldAddress,
	"street":         FieldAddress,
	"street address": FieldAddress,

	"postnummer":  FieldZipCode,
	"zipcode":     FieldZipCode,
	"zip":         FieldZipCode,
	"postal code": FieldZipCode,
	"zip code":    FieldZipCode,

	"stad": FieldCity,
	"city": FieldCity,
	"ort":  FieldCity,

	"organisationsnummer":         FieldOrgNr,
	"orgnr":                       FieldOrgNr,
	"orgnummer":                   FieldOrgNr,
	"org.nr":                      FieldOrgNr,
	"org nr":                      FieldOrgNr,
	"organization number":         FieldOrgNr,
	"company registration number": FieldOrgNr,

	"personnummer":    FieldPersonnummer,
	"pnr":             FieldPersonnummer,
	"personal number": FieldPersonnummer,

	"rot":          FieldRotCustomer,
	"rotkund":      FieldRotCustomer,
	"rot-kund":     FieldRotCustomer,
	"rot kund":     FieldRotCustomer,
	"rot customer": FieldRotCustomer,

	"rut":          FieldRutCustomer,
	"rutkund":      FieldRutCustomer,
	"rut-kund":     FieldRutCustomer,
	"rut kund":     FieldRutCustomer,
	"rut customer": FieldRutCustomer,
}

// ResolveHeader maps a source column header to its schema field.
// Matching is case-insensitive and ignores surrounding whitespace.
// Returns false for headers the schema does not recognize.
func ResolveHeader(header string) (Field, bool) {
	f, ok := headerSynonyms[strings.ToLower(strings.TrimSpace(header))]
	return f, ok
}

// CanonicalHeader returns the Swedish header used in generated templates.
func CanonicalHeader(f Field) string {
	switch f {
	case FieldName:
		return "Namn"
	case FieldEmail:
		return "E-post"
	case FieldPhone:
		return "Telefon"
	case FieldAddress:
		return "Adress"
	case FieldZipCode:
		return "Postnummer"
	case FieldCity:
		return "Ort"
	case FieldOrgNr:
		return "Organisationsnummer"
	case FieldPersonnummer:
		return "Personnummer"
	case FieldRotCustomer:
		return "ROT-kund"
	case FieldRutCustomer:
		return "RUT-kund"
	default:
		return string(f)
	}
}
