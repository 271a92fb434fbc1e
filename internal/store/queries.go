package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"contact-import/internal/schema"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrUnknownAction is returned for flag keys outside the action table.
	ErrUnknownAction = errors.New("unknown action")
	// ErrContactNotFound is returned by SetFlag for a missing contact.
	ErrContactNotFound = errors.New("contact not found")
)

// Filter narrows the contact list used by the reporting queries.
type Filter struct {
	// Query is a case-insensitive substring matched against contact name,
	// e-mail and phone and customer name, city, zip and country.
	Query string
	// Country must match exactly when set.
	Country string
	// Action, when set, keeps only contacts with that flag set.
	Action string
}

// Stats holds the KPI counts of the contact overview.
type Stats struct {
	Customers int            `json:"customers"`
	Contacts  int            `json:"contacts"`
	Actions   map[string]int `json:"actions"`
}

// ContactRow is one contact with its customer and action flags, as listed
// in the contact overview.
type ContactRow struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Email      *string         `json:"email"`
	Phone      *string         `json:"phone"`
	Notes      *string         `json:"notes"`
	CustomerID int64           `json:"customer_id"`
	Customer   string          `json:"customer"`
	Street     *string         `json:"street"`
	Zip        *string         `json:"zip"`
	City       *string         `json:"city"`
	Country    *string         `json:"country"`
	Flags      map[string]bool `json:"flags"`
}

func actionColumn(key string) (string, error) {
	if !schema.IsActionKey(key) {
		return "", fmt.Errorf("%w %q", ErrUnknownAction, key)
	}
	return pgx.Identifier{key}.Sanitize(), nil
}

// buildFlagsUpsert returns the statement writing flags for contactID. Columns
// come from the action table only and are sorted for stable SQL text.
func buildFlagsUpsert(contactID int64, flags map[string]bool) (string, []any, error) {
	if len(flags) == 0 {
		return "INSERT INTO action_flags (contact_id) VALUES ($1) ON CONFLICT (contact_id) DO NOTHING", []any{contactID}, nil
	}

	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	updates := make([]string, 0, len(keys))
	args := []any{contactID}
	for i, k := range keys {
		col, err := actionColumn(k)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		args = append(args, flags[k])
	}

	sql := fmt.Sprintf(
		"INSERT INTO action_flags (contact_id, %s) VALUES ($1, %s) ON CONFLICT (contact_id) DO UPDATE SET %s",
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
	)
	return sql, args, nil
}

const contactsFrom = `FROM contacts c
JOIN customers cu ON cu.id = c.customer_id
LEFT JOIN action_flags f ON f.contact_id = c.id`

// buildWhere renders the filter as a WHERE clause with positional arguments.
func buildWhere(f Filter) (string, []any, error) {
	var conds []string
	var args []any

	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, strings.ToLower(q))
		n := len(args)
		var parts []string
		for _, col := range []string{"c.name", "c.email", "c.phone", "cu.name", "cu.city", "cu.zip", "cu.country"} {
			parts = append(parts, fmt.Sprintf("strpos(lower(coalesce(%s, '')), $%d) > 0", col, n))
		}
		conds = append(conds, "("+strings.Join(parts, " OR ")+")")
	}
	if country := strings.TrimSpace(f.Country); country != "" {
		args = append(args, country)
		conds = append(conds, fmt.Sprintf("cu.country = $%d", len(args)))
	}
	if f.Action != "" {
		col, err := actionColumn(f.Action)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, fmt.Sprintf("coalesce(f.%s, false)", col))
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func buildStatsQuery(f Filter) (string, []any, error) {
	where, args, err := buildWhere(f)
	if err != nil {
		return "", nil, err
	}
	selects := []string{"count(DISTINCT cu.id)", "count(c.id)"}
	for _, key := range schema.ActionKeys() {
		col := pgx.Identifier{key}.Sanitize()
		selects = append(selects, fmt.Sprintf("count(*) FILTER (WHERE coalesce(f.%s, false))", col))
	}
	return fmt.Sprintf("SELECT %s\n%s\n%s", strings.Join(selects, ", "), contactsFrom, where), args, nil
}

func buildEmailsQuery(key string, f Filter) (string, []any, error) {
	col, err := actionColumn(key)
	if err != nil {
		return "", nil, err
	}
	f.Action = ""
	where, args, err := buildWhere(f)
	if err != nil {
		return "", nil, err
	}
	cond := fmt.Sprintf("coalesce(f.%s, false) AND strpos(c.email, '@') > 0", col)
	if where == "" {
		where = "WHERE " + cond
	} else {
		where += " AND " + cond
	}
	return fmt.Sprintf("SELECT DISTINCT c.email\n%s\n%s\nORDER BY c.email", contactsFrom, where), args, nil
}

// buildContactsQuery selects contacts with customer and every action flag;
// missing flag rows read as false.
func buildContactsQuery(f Filter) (string, []any, error) {
	where, args, err := buildWhere(f)
	if err != nil {
		return "", nil, err
	}
	selects := []string{
		"c.id", "c.name", "c.email", "c.phone", "c.notes",
		"cu.id", "cu.name", "cu.street", "cu.zip", "cu.city", "cu.country",
	}
	for _, key := range schema.ActionKeys() {
		selects = append(selects, fmt.Sprintf("coalesce(f.%s, false)", pgx.Identifier{key}.Sanitize()))
	}
	return fmt.Sprintf("SELECT %s\n%s\n%s\nORDER BY c.name, cu.name, c.id", strings.Join(selects, ", "), contactsFrom, where), args, nil
}

const countriesSQL = `SELECT DISTINCT country FROM customers
WHERE country IS NOT NULL AND country <> ''
ORDER BY country`

func scanContact(row pgx.CollectableRow) (ContactRow, error) {
	var c ContactRow
	keys := schema.ActionKeys()
	flags := make([]bool, len(keys))
	dest := []any{
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes,
		&c.CustomerID, &c.Customer, &c.Street, &c.Zip, &c.City, &c.Country,
	}
	for i := range flags {
		dest = append(dest, &flags[i])
	}
	if err := row.Scan(dest...); err != nil {
		return ContactRow{}, err
	}
	c.Flags = make(map[string]bool, len(keys))
	for i, key := range keys {
		c.Flags[key] = flags[i]
	}
	return c, nil
}

// Contacts lists the contacts matching f ordered by contact name.
func (p *Postgres) Contacts(ctx context.Context, f Filter) ([]ContactRow, error) {
	sql, args, err := buildContactsQuery(f)
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()

	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapError("contacts list", err)
	}
	contacts, err := pgx.CollectRows(rows, scanContact)
	if err != nil {
		return nil, wrapError("contacts list", err)
	}
	if contacts == nil {
		contacts = []ContactRow{}
	}
	return contacts, nil
}

// Countries returns the distinct, non-empty customer countries, sorted.
func (p *Postgres) Countries(ctx context.Context) ([]string, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	rows, err := p.q.Query(ctx, countriesSQL)
	if err != nil {
		return nil, wrapError("countries", err)
	}
	countries, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapError("countries", err)
	}
	if countries == nil {
		countries = []string{}
	}
	return countries, nil
}

// ActionCounts returns customer, contact and per-action counts over the
// contacts matching f.
func (p *Postgres) ActionCounts(ctx context.Context, f Filter) (Stats, error) {
	sql, args, err := buildStatsQuery(f)
	if err != nil {
		return Stats{}, err
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()

	keys := schema.ActionKeys()
	counts := make([]int, len(keys))
	var stats Stats
	dest := []any{&stats.Customers, &stats.Contacts}
	for i := range counts {
		dest = append(dest, &counts[i])
	}
	if err := p.q.QueryRow(ctx, sql, args...).Scan(dest...); err != nil {
		return Stats{}, wrapError("action counts", err)
	}

	stats.Actions = make(map[string]int, len(keys))
	for i, key := range keys {
		stats.Actions[key] = counts[i]
	}
	return stats, nil
}

// ActionEmails returns the sorted, de-duplicated e-mail addresses of contacts
// matching f that have the action flag set.
func (p *Postgres) ActionEmails(ctx context.Context, key string, f Filter) ([]string, error) {
	sql, args, err := buildEmailsQuery(key, f)
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.bound(ctx)
	defer cancel()

	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapError("action emails", err)
	}
	emails, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapError("action emails", err)
	}
	if emails == nil {
		emails = []string{}
	}
	return emails, nil
}
