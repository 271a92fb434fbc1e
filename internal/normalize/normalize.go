// Package normalize turns raw spreadsheet rows into validated import rows.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"contact-import/internal/schema"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Row is the closed, validated view of one spreadsheet line.
type Row struct {
	// Line is the 1-based sheet line, counting the header as line 1.
	Line int `json:"line"`

	CustomerName string  `json:"customer_name" validate:"required"`
	Street       *string `json:"street,omitempty"`
	Zip          *string `json:"zip,omitempty"`
	City         *string `json:"city,omitempty"`
	Country      *string `json:"country,omitempty"`

	ContactName string  `json:"contact_name" validate:"required"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Notes       *string `json:"notes,omitempty"`

	// Flags holds only the action columns present in the sheet. A missing key
	// means "leave as is", not false.
	Flags map[string]bool `json:"flags"`

	// Raw is the untouched input, kept for failure reports.
	Raw map[string]interface{} `json:"-"`
}

// CustomerKey is the natural key rows are serialized on.
func (r Row) CustomerKey() string { return r.CustomerName }

// Result tags a normalized row as valid or invalid.
type Result struct {
	Row    Row
	Valid  bool
	Reason string
}

// Normalize converts one raw row using the resolved column mapping.
func Normalize(line int, raw map[string]interface{}, m schema.Mapping) Result {
	row := Row{
		Line:         line,
		CustomerName: requiredText(raw, m, schema.CustomerName),
		ContactName:  requiredText(raw, m, schema.ContactName),
		Street:       optionalText(raw, m, schema.Street),
		Zip:          optionalText(raw, m, schema.Zip),
		City:         optionalText(raw, m, schema.City),
		Country:      optionalText(raw, m, schema.Country),
		Email:        optionalText(raw, m, schema.Email),
		Phone:        optionalText(raw, m, schema.Phone),
		Notes:        optionalText(raw, m, schema.Notes),
		Flags:        make(map[string]bool),
		Raw:          raw,
	}
	schema.ActionColumns(raw, func(key string, value interface{}) {
		row.Flags[key] = Truthy(value)
	})

	if err := validate.Struct(row); err != nil {
		return Result{Row: row, Valid: false, Reason: reason(err)}
	}
	return Result{Row: row, Valid: true}
}

// reason turns validator errors into a short operator-facing message.
func reason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.StructField() {
		case "CustomerName":
			missing = append(missing, schema.CustomerName.String())
		case "ContactName":
			missing = append(missing, schema.ContactName.String())
		default:
			missing = append(missing, fe.Field())
		}
	}
	return fmt.Sprintf("missing %s", strings.Join(missing, ", "))
}

func requiredText(raw map[string]interface{}, m schema.Mapping, f schema.Field) string {
	header := m.Header(f)
	if header == "" {
		return ""
	}
	return strings.TrimSpace(CellText(raw[header]))
}

func optionalText(raw map[string]interface{}, m schema.Mapping, f schema.Field) *string {
	s := requiredText(raw, m, f)
	if s == "" {
		return nil
	}
	return &s
}

// CellText renders a cell value the way it appears in the sheet: numbers in
// shortest form (10115, 1.5), booleans as true/false, nil as empty.
func CellText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// truthyStrings are the accepted spellings of a ticked action cell.
var truthyStrings = map[string]bool{
	"x":    true,
	"1":    true,
	"ja":   true,
	"yes":  true,
	"true": true,
}

// Truthy decides whether a spreadsheet cell marks an action as set.
func Truthy(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case string:
		return truthyStrings[strings.ToLower(strings.TrimSpace(val))]
	default:
		return false
	}
}
