package service_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
)

// --- Mocks ---

type mockUserStore struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	nextID  int
	err     error
	updated map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{byID: map[string]*domain.User{}, updated: map[string]string{}}
}

func (m *mockUserStore) CreateUser(_ context.Context, email string, name *string, hash string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.nextID++
	u := &domain.User{ID: fmt.Sprintf("user-%d", m.nextID), Email: email, Name: name, PasswordHash: hash, CreatedAt: time.Now().UTC()}
	m.byID[u.ID] = u
	return u, nil
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.byID[id], nil
}

func (m *mockUserStore) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "user", ID: id}
	}
	u.PasswordHash = hash
	m.updated[id] = hash
	return nil
}

type mockCategoryStore struct {
	mu     sync.Mutex
	byID   map[string]*domain.Category
	nextID int
	err    error
	// batchCalls counts GetCategoriesByIDs calls.
	batchCalls int
}

func newMockCategoryStore() *mockCategoryStore {
	return &mockCategoryStore{byID: map[string]*domain.Category{}}
}

func (m *mockCategoryStore) add(owner, name, color string) *domain.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := &domain.Category{ID: fmt.Sprintf("cat-%d", m.nextID), Name: name, OwnerID: owner, CreatedAt: time.Now().UTC()}
	if color != "" {
		c.Color = &color
	}
	m.byID[c.ID] = c
	return c
}

func (m *mockCategoryStore) CreateCategory(_ context.Context, owner string, req *domain.CreateCategoryRequest) (*domain.Category, error) {
	if m.err != nil {
		return nil, m.err
	}
	c := m.add(owner, req.Name, "")
	c.Description, c.Color = req.Description, req.Color
	return c, nil
}

func (m *mockCategoryStore) ListCategories(_ context.Context, owner string) ([]domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.Category{}
	for _, c := range m.byID {
		if c.OwnerID == owner {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockCategoryStore) GetCategory(_ context.Context, owner, id string) (*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.byID[id]; ok && c.OwnerID == owner {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *mockCategoryStore) GetCategoryByName(_ context.Context, owner, name string) (*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, c := range m.byID {
		if c.OwnerID == owner && strings.EqualFold(c.Name, name) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockCategoryStore) GetCategoriesByIDs(_ context.Context, owner string, ids []string) (map[string]*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]*domain.Category{}
	for _, id := range ids {
		if c, ok := m.byID[id]; ok && c.OwnerID == owner {
			cp := *c
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *mockCategoryStore) UpdateCategory(_ context.Context, owner, id string, req *domain.UpdateCategoryRequest) (*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byID[id]
	if !ok || c.OwnerID != owner {
		return nil, nil
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Description != nil {
		c.Description = req.Description
	}
	if req.Color != nil {
		c.Color = req.Color
	}
	cp := *c
	return &cp, nil
}

func (m *mockCategoryStore) DeleteCategory(_ context.Context, owner, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	c, ok := m.byID[id]
	if !ok || c.OwnerID != owner {
		return false, nil
	}
	delete(m.byID, id)
	return true, nil
}

type mockMailer struct {
	mu   sync.Mutex
	sent []domain.MailMessage
	err  error
}

func (m *mockMailer) Send(_ context.Context, msg domain.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockVectorStore struct {
	mu       sync.Mutex
	results  map[string][]string
	errs     map[string]error
	queries  []domain.VectorQuery
	upserted map[string][]domain.VectorDocument
	deleted  map[string][]string
}

func newMockVectorStore() *mockVectorStore {
	return &mockVectorStore{
		results:  map[string][]string{},
		errs:     map[string]error{},
		upserted: map[string][]domain.VectorDocument{},
		deleted:  map[string][]string{},
	}
}

func (m *mockVectorStore) Query(_ context.Context, q domain.VectorQuery) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if err := m.errs[q.Collection]; err != nil {
		return nil, err
	}
	return m.results[q.Collection], nil
}

func (m *mockVectorStore) Upsert(_ context.Context, collection string, docs []domain.VectorDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[collection]; err != nil {
		return err
	}
	m.upserted[collection] = append(m.upserted[collection], docs...)
	return nil
}

func (m *mockVectorStore) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[collection]; err != nil {
		return err
	}
	m.deleted[collection] = append(m.deleted[collection], ids...)
	return nil
}

type mockLLM struct {
	completion *domain.Completion
	err        error
	messages   []domain.ChatMessage
}

func (m *mockLLM) Complete(_ context.Context, messages []domain.ChatMessage) (*domain.Completion, error) {
	m.messages = messages
	return m.completion, m.err
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.IndexEvent
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, ev domain.IndexEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func strPtr(s string) *string { return &s }
