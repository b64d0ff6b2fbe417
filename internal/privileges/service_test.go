package privileges

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrew/identity/internal/shared"
)

type mockRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]Privilege
}

func newMockRepository(seed ...Privilege) *mockRepository {
	m := &mockRepository{items: make(map[uuid.UUID]Privilege)}
	for _, p := range seed {
		m.items[p.ID] = p
	}
	return m
}

func (m *mockRepository) List(ctx context.Context) ([]Privilege, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Privilege, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *mockRepository) ListByCategory(ctx context.Context, c Category) ([]Privilege, error) {
	all, _ := m.List(ctx)
	var out []Privilege
	for _, p := range all {
		if p.Category == c {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (Privilege, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.items[id]; ok {
		return p, nil
	}
	return Privilege{}, shared.NotFoundf("privilege %s", id)
}

func (m *mockRepository) GetByCode(ctx context.Context, code string) (Privilege, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.Code == code {
			return p, nil
		}
	}
	return Privilege{}, shared.NotFoundf("privilege %q", code)
}

func (m *mockRepository) Create(ctx context.Context, in CreateInput) (Privilege, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.Code == in.Code {
			return Privilege{}, shared.Conflictf("privilege code %q already exists", in.Code)
		}
	}
	p := Privilege{ID: uuid.New(), Code: in.Code, DisplayName: in.DisplayName, Category: in.Category, Description: in.Description, CreatedBy: in.CreatedBy, CreatedAt: time.Now()}
	m.items[p.ID] = p
	return p, nil
}

func seed() []Privilege {
	return []Privilege{
		{ID: uuid.New(), Code: "users.view", DisplayName: "Ver usuarios", Category: CategoryUsers},
		{ID: uuid.New(), Code: "users.approve", DisplayName: "Aprobar", Category: CategoryUsers},
		{ID: uuid.New(), Code: "brigades.view", DisplayName: "Ver brigadas", Category: CategoryBrigades},
	}
}

func TestGroupedIncludesEveryCategory(t *testing.T) {
	svc := NewService(newMockRepository(seed()...))

	groups, err := svc.Grouped(context.Background())
	require.NoError(t, err)

	assert.Len(t, groups, len(Categories()))
	assert.Len(t, groups[CategoryUsers], 2)
	assert.Len(t, groups[CategoryBrigades], 1)
	assert.NotNil(t, groups[CategoryClusters])
	assert.Empty(t, groups[CategoryClusters])
}

func TestListByCategoryValidates(t *testing.T) {
	svc := NewService(newMockRepository(seed()...))

	_, err := svc.ListByCategory(context.Background(), "weather")
	assert.ErrorIs(t, err, shared.ErrValidation)

	items, err := svc.ListByCategory(context.Background(), "USERS")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCreateRecordsActor(t *testing.T) {
	actor := uuid.New()
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: actor})
	svc := NewService(newMockRepository(seed()...))

	p, err := svc.Create(ctx, CreateInput{Code: "Clusters.Edit", DisplayName: "Editar", Category: CategoryClusters})
	require.NoError(t, err)
	assert.Equal(t, "clusters.edit", p.Code)
	require.NotNil(t, p.CreatedBy)
	assert.Equal(t, actor, *p.CreatedBy)

	_, err = svc.Create(ctx, CreateInput{Code: "clusters.edit", DisplayName: "Dup", Category: CategoryClusters})
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMockRepository())
	ctx := context.Background()

	cases := []CreateInput{
		{Code: "", DisplayName: "x", Category: CategoryUsers},
		{Code: "a b", DisplayName: "x", Category: CategoryUsers},
		{Code: "a", DisplayName: "", Category: CategoryUsers},
		{Code: "a", DisplayName: "x", Category: "finance"},
	}
	for _, in := range cases {
		_, err := svc.Create(ctx, in)
		assert.ErrorIs(t, err, shared.ErrValidation, "%+v", in)
	}

	p, err := svc.Create(ctx, CreateInput{Code: "a", DisplayName: "x", Category: CategorySystem})
	require.NoError(t, err)
	assert.Nil(t, p.CreatedBy)
}
