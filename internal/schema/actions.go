package schema

// actionHeader maps an exact spreadsheet header to an action_flags column.
type actionHeader struct {
	Header string
	Key    string
}

// actionHeaders is evaluated in order; when two headers share a key the later
// one wins. XMAS is the legacy name of the Weihnachtsaktion column.
var actionHeaders = []actionHeader{
	{"Your Logistics", "your_logistics"},
	{"Newsletter", "newsletter"},
	{"Pegelstand", "pegelstand"},
	{"Osteraktion", "osteraktion"},
	{"Spargelaktion", "spargelaktion"},
	{"Herbstaktion", "herbstaktion"},
	{"Adventskalender", "adventskalender"},
	{"Wandkalender 4 Monate", "wandkalender_4m"},
	{"Wandkalender 6 Monate", "wandkalender_6m"},
	{"Wandkalender Spezial", "wandkalender_spezial"},
	{"Tischkalender hoch", "tischkalender_hoch"},
	{"Tischkalender quer", "tischkalender_quer"},
	{"Personalisierte Kalender", "personalisierte_kalender"},
	{"Weihnachtsaktion", "weihnachtsaktion"},
	{"XMAS", "weihnachtsaktion"},
}

// actionLabels holds the display label of every storage key, in display order.
var actionLabels = func() []actionHeader {
	seen := make(map[string]bool)
	var out []actionHeader
	for _, a := range actionHeaders {
		if seen[a.Key] {
			continue
		}
		seen[a.Key] = true
		out = append(out, a)
	}
	return out
}()

// ActionKeys returns the fourteen action_flags columns in display order.
func ActionKeys() []string {
	keys := make([]string, len(actionLabels))
	for i, a := range actionLabels {
		keys[i] = a.Key
	}
	return keys
}

// IsActionKey reports whether key is a known action_flags column.
func IsActionKey(key string) bool {
	for _, a := range actionLabels {
		if a.Key == key {
			return true
		}
	}
	return false
}

// ActionLabel returns the display label for key, or key itself if unknown.
func ActionLabel(key string) string {
	for _, a := range actionLabels {
		if a.Key == key {
			return a.Header
		}
	}
	return key
}

// ActionColumns calls fn for every action header present in row, in table
// order. Headers are matched verbatim; everything else is ignored.
func ActionColumns(row map[string]interface{}, fn func(key string, value interface{})) {
	for _, a := range actionHeaders {
		if v, ok := row[a.Header]; ok {
			fn(a.Key, v)
		}
	}
}
