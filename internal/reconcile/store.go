package reconcile

import "context"

// Customer is the payload of the first cascade phase, keyed on Name.
type Customer struct {
	Name    string
	Street  *string
	Zip     *string
	City    *string
	Country *string
}

// Contact is the payload of the second phase, keyed on (CustomerID, Name).
type Contact struct {
	CustomerID int64
	Name       string
	Email      *string
	Phone      *string
	Notes      *string
}

// Store is the relational store the engine writes to. Every method is an
// upsert on the entity's natural key and returns once the write is committed.
type Store interface {
	// UpsertCustomer inserts the customer or updates its address fields.
	UpsertCustomer(ctx context.Context, c Customer) (int64, error)
	// UpsertContact inserts the contact or updates email, phone and notes.
	UpsertContact(ctx context.Context, c Contact) (int64, error)
	// UpsertActionFlags writes only the keys present in flags. Keys missing
	// from the map keep their stored value; a new record starts with all
	// other flags false.
	UpsertActionFlags(ctx context.Context, contactID int64, flags map[string]bool) error
}

// Transactor is implemented by stores that can run several upserts in one
// transaction. fn receives a Store bound to that transaction; returning an
// error rolls it back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Store) error) error
}
