package paygate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DocumentStore is a process-local repository backend with optional JSON
// file persistence. It keeps full records in memory, hands out deep copies
// on every read and write, and enforces email and transaction uniqueness
// under a single store mutex. Suitable for tests, examples, and small
// single-node deployments; the bun backend covers everything else.
type DocumentStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*User
	emails   map[string]uuid.UUID
	payments map[uuid.UUID][]*PaymentRecord
	txns     map[string]struct{}

	path     string
	logger   Logger
	executor *UpdateExecutor
}

// DocumentStoreOption customizes store construction.
type DocumentStoreOption func(*DocumentStore)

// WithStorePath enables JSON file persistence at the given path. The file is
// loaded on construction and rewritten after every mutation.
func WithStorePath(path string) DocumentStoreOption {
	return func(s *DocumentStore) {
		s.path = path
	}
}

// WithStoreLogger overrides the default logger.
func WithStoreLogger(logger Logger) DocumentStoreOption {
	return func(s *DocumentStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDocumentStore creates an empty store, loading any existing snapshot
// when a persistence path is configured.
func NewDocumentStore(opts ...DocumentStoreOption) (*DocumentStore, error) {
	s := &DocumentStore{
		users:    map[uuid.UUID]*User{},
		emails:   map[string]uuid.UUID{},
		payments: map[uuid.UUID][]*PaymentRecord{},
		txns:     map[string]struct{}{},
		logger:   defLogger{},
		executor: NewUpdateExecutor(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

var _ RepositoryManager = (*DocumentStore)(nil)

// Users returns the credential store view.
func (s *DocumentStore) Users() Users {
	return documentUsers{store: s}
}

// Payments returns the payment ledger view.
func (s *DocumentStore) Payments() PaymentRecords {
	return documentPayments{store: s}
}

// Executor returns the shared per-user update executor.
func (s *DocumentStore) Executor() *UpdateExecutor {
	return s.executor
}

// Settle stages the ledger entry and the updated user record under one
// lock section and persists them with a single snapshot write. A failure
// at any point restores both maps, so the pair is all-or-nothing.
func (s *DocumentStore) Settle(ctx context.Context, user *User, record *PaymentRecord) (*User, *PaymentRecord, error) {
	if user == nil || record == nil {
		return nil, nil, goerrors.New("user and payment record are required", goerrors.CategoryBadInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[user.ID]
	if !ok {
		return nil, nil, ErrUserNotFound
	}
	if _, dup := s.txns[record.TransactionID]; dup {
		return nil, nil, goerrors.New("transaction already recorded", goerrors.CategoryConflict).
			WithMetadata(map[string]any{"transaction_id": record.TransactionID})
	}

	now := time.Now()

	storedUser := user.Clone()
	storedUser.Email = NormalizeEmail(storedUser.Email)
	storedUser.EnsurePaymentState()
	storedUser.UpdatedAt = &now

	storedRecord := record.Clone()
	if storedRecord.ID == uuid.Nil {
		storedRecord.ID = uuid.New()
	}
	if storedRecord.CreatedAt == nil {
		storedRecord.CreatedAt = &now
	}

	s.users[storedUser.ID] = storedUser
	s.payments[storedRecord.UserID] = append(s.payments[storedRecord.UserID], storedRecord)
	s.txns[storedRecord.TransactionID] = struct{}{}

	if err := s.persistLocked(); err != nil {
		s.users[prev.ID] = prev
		entries := s.payments[storedRecord.UserID]
		s.payments[storedRecord.UserID] = entries[:len(entries)-1]
		delete(s.txns, storedRecord.TransactionID)
		return nil, nil, err
	}

	return storedUser.Clone(), storedRecord.Clone(), nil
}

type documentUsers struct {
	store *DocumentStore
}

var _ Users = documentUsers{}

func (r documentUsers) Create(ctx context.Context, record *User) (*User, error) {
	if record == nil {
		return nil, goerrors.New("user record is required", goerrors.CategoryBadInput)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(record.Email)
	if _, taken := s.emails[email]; taken {
		return nil, ErrDuplicateEmail
	}

	stored := record.Clone()
	stored.Email = email
	stored.EnsurePaymentState()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now()
	if stored.CreatedAt == nil {
		stored.CreatedAt = &now
	}
	stored.UpdatedAt = &now

	s.users[stored.ID] = stored
	s.emails[email] = stored.ID

	if err := s.persistLocked(); err != nil {
		delete(s.users, stored.ID)
		delete(s.emails, email)
		return nil, err
	}

	return stored.Clone(), nil
}

func (r documentUsers) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return record.Clone(), nil
}

func (r documentUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.users[id].Clone(), nil
}

func (r documentUsers) List(ctx context.Context) ([]*User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.users))
	for _, record := range s.users {
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Email < out[j].Email
	})
	return out, nil
}

func (r documentUsers) ApplyUpdate(ctx context.Context, id uuid.UUID, mutation UserMutation) (*User, error) {
	if mutation == nil {
		return nil, goerrors.New("mutation is required", goerrors.CategoryBadInput)
	}

	var updated *User
	err := r.store.executor.Do(ctx, id.String(), func(ctx context.Context) error {
		record, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := mutation(record); err != nil {
			return err
		}
		updated, err = r.Save(ctx, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r documentUsers) Save(ctx context.Context, record *User) (*User, error) {
	if record == nil {
		return nil, goerrors.New("user record is required", goerrors.CategoryBadInput)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.users[record.ID]
	if !ok {
		return nil, ErrUserNotFound
	}

	stored := record.Clone()
	stored.Email = NormalizeEmail(stored.Email)
	stored.EnsurePaymentState()
	now := time.Now()
	stored.UpdatedAt = &now

	if stored.Email != prev.Email {
		if _, taken := s.emails[stored.Email]; taken {
			return nil, ErrDuplicateEmail
		}
		delete(s.emails, prev.Email)
		s.emails[stored.Email] = stored.ID
	}
	s.users[stored.ID] = stored

	if err := s.persistLocked(); err != nil {
		return nil, err
	}

	return stored.Clone(), nil
}

type documentPayments struct {
	store *DocumentStore
}

var _ PaymentRecords = documentPayments{}

func (r documentPayments) Create(ctx context.Context, record *PaymentRecord) (*PaymentRecord, error) {
	if record == nil {
		return nil, goerrors.New("payment record is required", goerrors.CategoryBadInput)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.txns[record.TransactionID]; dup {
		return nil, goerrors.New("transaction already recorded", goerrors.CategoryConflict).
			WithMetadata(map[string]any{"transaction_id": record.TransactionID})
	}

	stored := record.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt == nil {
		now := time.Now()
		stored.CreatedAt = &now
	}

	s.payments[stored.UserID] = append(s.payments[stored.UserID], stored)
	s.txns[stored.TransactionID] = struct{}{}

	if err := s.persistLocked(); err != nil {
		entries := s.payments[stored.UserID]
		s.payments[stored.UserID] = entries[:len(entries)-1]
		delete(s.txns, stored.TransactionID)
		return nil, err
	}

	return stored.Clone(), nil
}

func (r documentPayments) CompletedByUser(ctx context.Context, userID uuid.UUID) (*PaymentRecord, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.payments[userID] {
		if entry.Status == PaymentStatusCompleted {
			return entry.Clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r documentPayments) ListByUser(ctx context.Context, userID uuid.UUID) ([]*PaymentRecord, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.payments[userID]
	out := make([]*PaymentRecord, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		switch {
		case out[i].CreatedAt == nil:
			return true
		case out[j].CreatedAt == nil:
			return false
		}
		return out[i].CreatedAt.Before(*out[j].CreatedAt)
	})
	return out, nil
}

// persistedUser re-exposes the password hash, which the API-facing JSON
// tags hide. Snapshots never leave the host.
type persistedUser struct {
	*User
	PasswordHash string `json:"password_hash,omitempty"`
}

type storeSnapshot struct {
	Users    []persistedUser  `json:"users"`
	Payments []*PaymentRecord `json:"payments"`
}

// persistLocked writes the current snapshot to disk via temp file plus
// rename so the file on disk is always a complete document. Callers must
// hold the write lock.
func (s *DocumentStore) persistLocked() error {
	if s.path == "" {
		return nil
	}

	snap := storeSnapshot{
		Users:    make([]persistedUser, 0, len(s.users)),
		Payments: make([]*PaymentRecord, 0),
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, persistedUser{User: u, PasswordHash: u.PasswordHash})
	}
	for _, entries := range s.payments {
		snap.Payments = append(snap.Payments, entries...)
	}
	sort.Slice(snap.Users, func(i, j int) bool {
		return snap.Users[i].Email < snap.Users[j].Email
	})
	sort.Slice(snap.Payments, func(i, j int) bool {
		return snap.Payments[i].TransactionID < snap.Payments[j].TransactionID
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode store snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".paygate-*.json")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create snapshot temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to write store snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to flush store snapshot")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to replace store snapshot")
	}

	return nil
}

func (s *DocumentStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read store snapshot")
	}

	var snap storeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode store snapshot")
	}

	for _, pu := range snap.Users {
		u := pu.User
		if u == nil {
			continue
		}
		u.PasswordHash = pu.PasswordHash
		u.Email = NormalizeEmail(u.Email)
		u.EnsurePaymentState()
		s.users[u.ID] = u
		s.emails[u.Email] = u.ID
	}
	for _, entry := range snap.Payments {
		s.payments[entry.UserID] = append(s.payments[entry.UserID], entry)
		s.txns[entry.TransactionID] = struct{}{}
	}

	s.logger.Debug("document store loaded %d users and %d payment records", len(s.users), len(snap.Payments))
	return nil
}
