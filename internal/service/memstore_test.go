package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tadast/signonotron2/internal/domain"
	"github.com/tadast/signonotron2/internal/repository"
)

// memState backs the in-memory repository fakes. txRunner serializes callers
// and restores a snapshot when fn fails, mirroring the rollback behaviour the
// real transaction provides.
type memState struct {
	mu              sync.Mutex
	users           map[int64]domain.User
	events          []domain.EventLogEntry
	sessions        map[string]domain.Session
	resets          map[string]domain.PassphraseReset
	orgs            map[int64]domain.Organisation
	nextID          int64
	failEventInsert bool
}

type memUserRepo struct{ st *memState }
type memEventLogRepo struct{ st *memState }
type memSessionRepo struct{ st *memState }
type memResetRepo struct{ st *memState }
type memOrgRepo struct{ st *memState }
type memTxRunner struct{ st *memState }

var (
	_ repository.UserRepository            = (*memUserRepo)(nil)
	_ repository.EventLogRepository        = (*memEventLogRepo)(nil)
	_ repository.SessionRepository         = (*memSessionRepo)(nil)
	_ repository.PassphraseResetRepository = (*memResetRepo)(nil)
	_ repository.OrganisationRepository    = (*memOrgRepo)(nil)
	_ repository.TxRunner                  = (*memTxRunner)(nil)
)

// memStore bundles the fakes over one shared state.
type memStore struct {
	st       *memState
	users    *memUserRepo
	events   *memEventLogRepo
	sessions *memSessionRepo
	resets   *memResetRepo
	orgs     *memOrgRepo
	tx       *memTxRunner
}

func newMemStore() *memStore {
	st := &memState{
		users:    make(map[int64]domain.User),
		sessions: make(map[string]domain.Session),
		resets:   make(map[string]domain.PassphraseReset),
		orgs:     make(map[int64]domain.Organisation),
	}
	return &memStore{
		st:       st,
		users:    &memUserRepo{st: st},
		events:   &memEventLogRepo{st: st},
		sessions: &memSessionRepo{st: st},
		resets:   &memResetRepo{st: st},
		orgs:     &memOrgRepo{st: st},
		tx:       &memTxRunner{st: st},
	}
}

func (m *memStore) entriesFor(userID int64) []domain.EventLogEntry {
	entries, _ := m.events.ListByUser(context.Background(), userID)
	return entries
}

func (m *memStore) allEntries() []domain.EventLogEntry {
	return m.st.events
}

func (t *memTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	usersSnapshot := make(map[int64]domain.User, len(t.st.users))
	for id, u := range t.st.users {
		usersSnapshot[id] = u
	}
	eventsSnapshot := append([]domain.EventLogEntry(nil), t.st.events...)

	if err := fn(ctx); err != nil {
		t.st.users = usersSnapshot
		t.st.events = eventsSnapshot
		return err
	}
	return nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	for _, u := range r.st.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (r *memUserRepo) GetByEmailForUpdate(ctx context.Context, email string) (domain.User, error) {
	return r.GetByEmail(ctx, email)
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (r *memUserRepo) GetByIDForUpdate(ctx context.Context, id int64) (domain.User, error) {
	return r.GetByID(ctx, id)
}

func (r *memUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.st.nextID++
	user.ID = r.st.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.st.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) Update(ctx context.Context, user domain.User) error {
	if _, ok := r.st.users[user.ID]; !ok {
		return domain.ErrNotFound
	}
	user.UpdatedAt = time.Now()
	r.st.users[user.ID] = user
	return nil
}

func (r *memEventLogRepo) Insert(ctx context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error) {
	if r.st.failEventInsert {
		return domain.EventLogEntry{}, fmt.Errorf("insert event log: store unavailable")
	}
	r.st.nextID++
	entry.ID = r.st.nextID
	entry.CreatedAt = time.Now()
	if entry.InitiatorID != nil {
		if initiator, ok := r.st.users[*entry.InitiatorID]; ok {
			entry.InitiatorName = initiator.Name
		}
	}
	r.st.events = append(r.st.events, entry)
	return entry, nil
}

func (r *memEventLogRepo) ListByUser(ctx context.Context, userID int64) ([]domain.EventLogEntry, error) {
	var entries []domain.EventLogEntry
	for _, entry := range r.st.events {
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
	return entries, nil
}

func (r *memSessionRepo) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	r.st.nextID++
	session.ID = r.st.nextID
	session.CreatedAt = time.Now()
	r.st.sessions[session.TokenHash] = session
	return session, nil
}

func (r *memSessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (domain.Session, error) {
	s, ok := r.st.sessions[tokenHash]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return s, nil
}

func (r *memSessionRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	delete(r.st.sessions, tokenHash)
	return nil
}

func (r *memResetRepo) Create(ctx context.Context, reset domain.PassphraseReset) (domain.PassphraseReset, error) {
	r.st.nextID++
	reset.ID = r.st.nextID
	reset.CreatedAt = time.Now()
	r.st.resets[reset.TokenHash] = reset
	return reset, nil
}

func (r *memResetRepo) GetByTokenHash(ctx context.Context, tokenHash string) (domain.PassphraseReset, error) {
	p, ok := r.st.resets[tokenHash]
	if !ok {
		return domain.PassphraseReset{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *memResetRepo) MarkConsumed(ctx context.Context, id int64) error {
	for hash, reset := range r.st.resets {
		if reset.ID == id {
			reset.Consumed = true
			r.st.resets[hash] = reset
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memOrgRepo) GetByID(ctx context.Context, id int64) (domain.Organisation, error) {
	o, ok := r.st.orgs[id]
	if !ok {
		return domain.Organisation{}, domain.ErrNotFound
	}
	return o, nil
}

func (r *memOrgRepo) Create(ctx context.Context, org domain.Organisation) (domain.Organisation, error) {
	r.st.nextID++
	org.ID = r.st.nextID
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt
	r.st.orgs[org.ID] = org
	return org, nil
}
