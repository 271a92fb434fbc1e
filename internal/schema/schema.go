// Package schema maps the loosely named columns of a contact spreadsheet to
// the logical fields the importer understands.
package schema

import "sort"

// Field identifies a logical column of the import sheet.
type Field int

const (
	CustomerName Field = iota
	ContactName
	Email
	Phone
	Street
	Zip
	City
	Country
	Notes
)

var fieldNames = map[Field]string{
	CustomerName: "customer_name",
	ContactName:  "contact_name",
	Email:        "email",
	Phone:        "phone",
	Street:       "street",
	Zip:          "zip",
	City:         "city",
	Country:      "country",
	Notes:        "notes",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return "unknown"
}

// fieldSpec lists accepted headers in priority order. DefaultHeader is used
// when none of them is present; optional fields have none.
type fieldSpec struct {
	Field         Field
	Aliases       []string
	DefaultHeader string
}

// Fields in resolution order.
var fieldSpecs = []fieldSpec{
	{CustomerName, []string{"Firma", "Kunde", "Customer", "Company"}, "Firma"},
	{ContactName, []string{"Ansprechpartner", "Kontakt", "Name", "Contact"}, "Ansprechpartner"},
	{Email, []string{"E-Mail", "Email", "Mail"}, ""},
	{Phone, []string{"Telefon", "Phone", "Tel"}, ""},
	{Street, []string{"Straße", "Street"}, ""},
	{Zip, []string{"PLZ", "Zip"}, ""},
	{City, []string{"Ort", "Stadt", "City"}, ""},
	{Country, []string{"Land", "Country"}, ""},
	{Notes, []string{"Notiz", "Notes", "Bemerkung"}, ""},
}

// Aliases returns the accepted headers for f in priority order.
func Aliases(f Field) []string {
	for _, spec := range fieldSpecs {
		if spec.Field == f {
			return append([]string(nil), spec.Aliases...)
		}
	}
	return nil
}

// Resolution is the outcome of resolving one field against the header row.
type Resolution struct {
	// Header is the column to read. Empty when the field is absent.
	Header string
	// Resolved is true when one of the aliases was found in the sheet.
	Resolved bool
	// Default is true when Header is the fallback name rather than a match.
	Default bool
}

// Present reports whether a value should be looked up for the field.
func (r Resolution) Present() bool {
	return r.Header != ""
}

// Mapping holds one Resolution per logical field.
type Mapping map[Field]Resolution

// Header returns the column name for f, or "" if the field is absent.
func (m Mapping) Header(f Field) string {
	return m[f].Header
}

// Unresolved lists fields whose aliases were all missing, in field order.
func (m Mapping) Unresolved() []Field {
	var out []Field
	for _, spec := range fieldSpecs {
		if !m[spec.Field].Resolved {
			out = append(out, spec.Field)
		}
	}
	return out
}

// Defaulted lists required fields that fell back to their default header.
// A non-empty result usually means every row will be skipped.
func (m Mapping) Defaulted() []Field {
	var out []Field
	for _, spec := range fieldSpecs {
		if m[spec.Field].Default {
			out = append(out, spec.Field)
		}
	}
	return out
}

// Resolve picks, for every field, the first alias present in headers.
func Resolve(headers []string) Mapping {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}

	m := make(Mapping, len(fieldSpecs))
	for _, spec := range fieldSpecs {
		res := Resolution{}
		for _, alias := range spec.Aliases {
			if _, ok := present[alias]; ok {
				res = Resolution{Header: alias, Resolved: true}
				break
			}
		}
		if !res.Resolved && spec.DefaultHeader != "" {
			res = Resolution{Header: spec.DefaultHeader, Default: true}
		}
		m[spec.Field] = res
	}
	return m
}

// HeadersOf returns the sorted key set of a raw row.
func HeadersOf(row map[string]interface{}) []string {
	headers := make([]string, 0, len(row))
	for k := range row {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}

// ResolveRows resolves the mapping from the first row of a sheet. All rows
// are assumed to share its layout; an empty sheet resolves to defaults.
func ResolveRows(rows []map[string]interface{}) Mapping {
	if len(rows) == 0 {
		return Resolve(nil)
	}
	return Resolve(HeadersOf(rows[0]))
}
