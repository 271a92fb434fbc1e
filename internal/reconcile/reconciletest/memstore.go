// Package reconciletest provides an in-memory Store for tests.
package reconciletest

import (
	"context"
	"fmt"
	"sync"

	"contact-import/internal/reconcile"
	"contact-import/internal/schema"
)

// CustomerRecord is a stored customer.
type CustomerRecord struct {
	ID int64
	reconcile.Customer
}

// ContactRecord is a stored contact.
type ContactRecord struct {
	ID int64
	reconcile.Contact
}

type contactKey struct {
	customerID int64
	name       string
}

// State is a deep copy of the store contents, comparable with reflect.DeepEqual.
type State struct {
	Customers map[string]CustomerRecord
	Contacts  map[string]ContactRecord // keyed "customer/contact"
	Flags     map[string]map[string]bool
}

type state struct {
	nextID    int64
	customers map[string]*CustomerRecord
	byID      map[int64]*CustomerRecord
	contacts  map[contactKey]*ContactRecord
	flags     map[int64]map[string]bool
}

func newState() *state {
	return &state{
		customers: make(map[string]*CustomerRecord),
		byID:      make(map[int64]*CustomerRecord),
		contacts:  make(map[contactKey]*ContactRecord),
		flags:     make(map[int64]map[string]bool),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.customers {
		cp := *v
		c.customers[k] = &cp
		c.byID[cp.ID] = &cp
	}
	for k, v := range s.contacts {
		cp := *v
		c.contacts[k] = &cp
	}
	for k, v := range s.flags {
		m := make(map[string]bool, len(v))
		for fk, fv := range v {
			m[fk] = fv
		}
		c.flags[k] = m
	}
	return c
}

// MemStore implements reconcile.Store and reconcile.Transactor in memory.
// The Fail* hooks inject errors per phase.
type MemStore struct {
	mu sync.Mutex
	st *state

	FailCustomer func(reconcile.Customer) error
	FailContact  func(reconcile.Contact) error
	FailFlags    func(contactID int64, flags map[string]bool) error
	// FailCommit makes every WithinTx roll back with this error after fn succeeded.
	FailCommit error

	// TxCount counts WithinTx calls.
	TxCount int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{st: newState()}
}

func (m *MemStore) UpsertCustomer(ctx context.Context, c reconcile.Customer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertCustomer(ctx, m.st, c)
}

func (m *MemStore) UpsertContact(ctx context.Context, c reconcile.Contact) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertContact(ctx, m.st, c)
}

func (m *MemStore) UpsertActionFlags(ctx context.Context, contactID int64, flags map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertFlags(ctx, m.st, contactID, flags)
}

// WithinTx runs fn against a copy of the state and keeps the copy only when
// fn and the simulated commit succeed.
func (m *MemStore) WithinTx(ctx context.Context, fn func(reconcile.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TxCount++
	work := m.st.clone()
	if err := fn(&txStore{m: m, st: work}); err != nil {
		return err
	}
	if m.FailCommit != nil {
		return m.FailCommit
	}
	m.st = work
	return nil
}

func (m *MemStore) upsertCustomer(ctx context.Context, st *state, c reconcile.Customer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.FailCustomer != nil {
		if err := m.FailCustomer(c); err != nil {
			return 0, err
		}
	}
	if rec, ok := st.customers[c.Name]; ok {
		rec.Street, rec.Zip, rec.City, rec.Country = c.Street, c.Zip, c.City, c.Country
		return rec.ID, nil
	}
	st.nextID++
	rec := &CustomerRecord{ID: st.nextID, Customer: c}
	st.customers[c.Name] = rec
	st.byID[rec.ID] = rec
	return rec.ID, nil
}

func (m *MemStore) upsertContact(ctx context.Context, st *state, c reconcile.Contact) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.FailContact != nil {
		if err := m.FailContact(c); err != nil {
			return 0, err
		}
	}
	if _, ok := st.byID[c.CustomerID]; !ok {
		return 0, fmt.Errorf("foreign key violation: customer %d does not exist", c.CustomerID)
	}
	key := contactKey{c.CustomerID, c.Name}
	if rec, ok := st.contacts[key]; ok {
		rec.Email, rec.Phone, rec.Notes = c.Email, c.Phone, c.Notes
		return rec.ID, nil
	}
	st.nextID++
	rec := &ContactRecord{ID: st.nextID, Contact: c}
	st.contacts[key] = rec
	return rec.ID, nil
}

func (m *MemStore) upsertFlags(ctx context.Context, st *state, contactID int64, flags map[string]bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailFlags != nil {
		if err := m.FailFlags(contactID, flags); err != nil {
			return err
		}
	}
	exists := false
	for _, rec := range st.contacts {
		if rec.ID == contactID {
			exists = true
			break
		}
	}
	if !exists {
		return fmt.Errorf("foreign key violation: contact %d does not exist", contactID)
	}
	stored, ok := st.flags[contactID]
	if !ok {
		stored = make(map[string]bool)
		for _, k := range schema.ActionKeys() {
			stored[k] = false
		}
		st.flags[contactID] = stored
	}
	for k, v := range flags {
		if !schema.IsActionKey(k) {
			return fmt.Errorf("unknown action flag %q", k)
		}
		stored[k] = v
	}
	return nil
}

type txStore struct {
	m  *MemStore
	st *state
}

func (t *txStore) UpsertCustomer(ctx context.Context, c reconcile.Customer) (int64, error) {
	return t.m.upsertCustomer(ctx, t.st, c)
}

func (t *txStore) UpsertContact(ctx context.Context, c reconcile.Contact) (int64, error) {
	return t.m.upsertContact(ctx, t.st, c)
}

func (t *txStore) UpsertActionFlags(ctx context.Context, contactID int64, flags map[string]bool) error {
	return t.m.upsertFlags(ctx, t.st, contactID, flags)
}

// Customer returns the stored customer by name.
func (m *MemStore) Customer(name string) (CustomerRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.st.customers[name]
	if !ok {
		return CustomerRecord{}, false
	}
	return *rec, true
}

// Contact returns the stored contact of a customer.
func (m *MemStore) Contact(customer, name string) (ContactRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cust, ok := m.st.customers[customer]
	if !ok {
		return ContactRecord{}, false
	}
	rec, ok := m.st.contacts[contactKey{cust.ID, name}]
	if !ok {
		return ContactRecord{}, false
	}
	return *rec, true
}

// Flags returns a copy of the flags of a contact.
func (m *MemStore) Flags(customer, name string) (map[string]bool, bool) {
	c, ok := m.Contact(customer, name)
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.st.flags[c.ID]
	if !ok {
		return nil, false
	}
	out := make(map[string]bool, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, true
}

// Counts returns the number of customers, contacts and flag records.
func (m *MemStore) Counts() (customers, contacts, flags int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.customers), len(m.st.contacts), len(m.st.flags)
}

// Snapshot returns a deep copy of the contents keyed by natural keys.
func (m *MemStore) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := State{
		Customers: make(map[string]CustomerRecord),
		Contacts:  make(map[string]ContactRecord),
		Flags:     make(map[string]map[string]bool),
	}
	for name, rec := range m.st.customers {
		out.Customers[name] = *rec
	}
	for key, rec := range m.st.contacts {
		natural := m.st.byID[key.customerID].Name + "/" + key.name
		out.Contacts[natural] = *rec
		if fl, ok := m.st.flags[rec.ID]; ok {
			cp := make(map[string]bool, len(fl))
			for k, v := range fl {
				cp[k] = v
			}
			out.Flags[natural] = cp
		}
	}
	return out
}
