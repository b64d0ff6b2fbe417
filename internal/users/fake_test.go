package users_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/identity"
	"github.com/fieldcrew/identity/internal/shared"
	"github.com/fieldcrew/identity/internal/users"
)

// memRepo implements users.RepositoryPort and dbtest.Snapshotter.
type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]users.User
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]users.User)}
}

func (m *memRepo) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]users.User, len(m.items))
	for k, v := range m.items {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.items = saved
	}
}

// lookup adapts the repository to the ledger's owner lookup.
func (m *memRepo) lookup(ctx context.Context, id uuid.UUID) (assignments.UserInfo, error) {
	u, err := m.Get(ctx, id)
	if err != nil {
		return assignments.UserInfo{}, err
	}
	return assignments.UserInfo{ID: u.ID, FullName: u.FullName, Email: u.Email, ApprovalState: u.ApprovalState, Active: u.Active}, nil
}

func (m *memRepo) Insert(ctx context.Context, in users.NewUser) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.items {
		if u.Email == in.Email {
			return users.User{}, shared.Conflictf("email already registered")
		}
		if in.NationalID != "" && u.NationalID == in.NationalID {
			return users.User{}, shared.Conflictf("national_id already registered")
		}
	}
	now := time.Now()
	u := users.User{
		ID:            uuid.New(),
		ExternalID:    in.ExternalID,
		Email:         in.Email,
		NationalID:    in.NationalID,
		FullName:      in.FullName,
		Phone:         in.Phone,
		ApprovalState: in.ApprovalState,
		Active:        in.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.items[u.ID] = u
	return u, nil
}

func (m *memRepo) Get(ctx context.Context, id uuid.UUID) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.items[id]; ok {
		return u, nil
	}
	return users.User{}, shared.NotFoundf("user %s", id)
}

func (m *memRepo) find(match func(users.User) bool) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.items {
		if match(u) {
			return u, nil
		}
	}
	return users.User{}, shared.NotFoundf("user")
}

func (m *memRepo) GetByEmail(ctx context.Context, email string) (users.User, error) {
	return m.find(func(u users.User) bool { return u.Email == email })
}

func (m *memRepo) GetByExternalID(ctx context.Context, externalID string) (users.User, error) {
	return m.find(func(u users.User) bool { return u.ExternalID == externalID })
}

func (m *memRepo) List(ctx context.Context) ([]users.User, error) {
	return m.ListByState(ctx, "")
}

func (m *memRepo) ListByState(ctx context.Context, state shared.ApprovalState) ([]users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []users.User
	for _, u := range m.items {
		if state == "" || u.ApprovalState == state {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memRepo) Update(ctx context.Context, id uuid.UUID, in users.UpdateInput) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok {
		return users.User{}, shared.NotFoundf("user %s", id)
	}
	if in.Email != nil {
		for _, other := range m.items {
			if other.ID != id && other.Email == *in.Email {
				return users.User{}, shared.Conflictf("email already registered")
			}
		}
		u.Email = *in.Email
	}
	if in.FullName != nil {
		u.FullName = *in.FullName
	}
	if in.Phone != nil {
		u.Phone = *in.Phone
	}
	u.UpdatedAt = time.Now()
	m.items[id] = u
	return u, nil
}

func (m *memRepo) transition(id uuid.UUID, allowed func(users.User) bool, apply func(*users.User)) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok {
		return users.User{}, shared.NotFoundf("user %s", id)
	}
	if !allowed(u) {
		return users.User{}, shared.Validationf("user is %s", u.ApprovalState)
	}
	apply(&u)
	u.UpdatedAt = time.Now()
	m.items[id] = u
	return u, nil
}

func (m *memRepo) MarkApproved(ctx context.Context, id uuid.UUID) (users.User, error) {
	return m.transition(id, func(u users.User) bool { return u.ApprovalState.AwaitingDecision() }, func(u *users.User) {
		now := time.Now()
		u.ApprovalState = shared.ApprovalApproved
		u.ApprovedAt = &now
		u.Active = true
	})
}

func (m *memRepo) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (users.User, error) {
	return m.transition(id, func(u users.User) bool { return u.ApprovalState.AwaitingDecision() }, func(u *users.User) {
		u.ApprovalState = shared.ApprovalRejected
		u.Active = false
		u.RejectionReason = reason
	})
}

func (m *memRepo) MarkDeactivated(ctx context.Context, id uuid.UUID, reason string) (users.User, error) {
	return m.transition(id, func(users.User) bool { return true }, func(u *users.User) {
		now := time.Now()
		u.Active = false
		u.DeactivatedAt = &now
		u.DeactivationReason = reason
	})
}

func (m *memRepo) MarkReactivated(ctx context.Context, id uuid.UUID) (users.User, error) {
	return m.transition(id, func(u users.User) bool { return u.ApprovalState == shared.ApprovalApproved }, func(u *users.User) {
		u.Active = true
		u.DeactivatedAt = nil
		u.DeactivationReason = ""
	})
}

func (m *memRepo) MarkEmailConfirmed(ctx context.Context, id uuid.UUID) (users.User, error) {
	return m.transition(id, func(users.User) bool { return true }, func(u *users.User) {
		u.EmailConfirmed = true
	})
}

func (m *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return shared.NotFoundf("user %s", id)
	}
	delete(m.items, id)
	return nil
}

var _ users.RepositoryPort = (*memRepo)(nil)

type fakeCredentials struct {
	mu          sync.Mutex
	inviteErr   error
	deleteErr   error
	deleted     []string
	passwords   map[string]string
	confirmed   []string
	nextInvited string
}

func (f *fakeCredentials) InviteByEmail(ctx context.Context, email string, metadata map[string]any, redirectURL string) (identity.Invitation, error) {
	if f.inviteErr != nil {
		return identity.Invitation{}, f.inviteErr
	}
	return identity.Invitation{ExternalID: f.nextInvited}, nil
}

func (f *fakeCredentials) DeleteCredential(ctx context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, externalID)
	return nil
}

func (f *fakeCredentials) SetPassword(ctx context.Context, externalID, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.passwords == nil {
		f.passwords = map[string]string{}
	}
	f.passwords[externalID] = password
	return nil
}

func (f *fakeCredentials) MarkEmailConfirmed(ctx context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, externalID)
	return nil
}

type fakePersonnel struct {
	err   error
	calls int
}

func (f *fakePersonnel) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	f.calls++
	return f.err
}

type fakeQueue struct {
	mu          sync.Mutex
	credentials []string
	personnel   []uuid.UUID
}

func (q *fakeQueue) EnqueueCredentialCleanup(ctx context.Context, userID uuid.UUID, externalID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.credentials = append(q.credentials, externalID)
	return nil
}

func (q *fakeQueue) EnqueuePersonnelCleanup(ctx context.Context, userID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.personnel = append(q.personnel, userID)
	return nil
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveCleanup(step, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[step+"/"+outcome]++
}

type auditSpy struct {
	mu      sync.Mutex
	actions []string
}

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}
