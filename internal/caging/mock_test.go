package caging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/directory"
	"github.com/sells-group/donor-caging/internal/model"
	"github.com/sells-group/donor-caging/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// state is the committed contents of a memStore.
type state struct {
	users  map[int64]model.DirectoryEntry
	gifts  map[int64]model.Gift
	caged  []model.CagedDonor
	queued map[int64]model.QueuedDonor
	nextID int64
}

func (s *state) clone() *state {
	c := &state{
		users:  make(map[int64]model.DirectoryEntry, len(s.users)),
		gifts:  make(map[int64]model.Gift, len(s.gifts)),
		caged:  append([]model.CagedDonor(nil), s.caged...),
		queued: make(map[int64]model.QueuedDonor, len(s.queued)),
		nextID: s.nextID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.gifts {
		c.gifts[k] = v
	}
	for k, v := range s.queued {
		c.queued[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// memStore is an in-memory store.Store. Writes made through a memTx become
// visible only on Commit.
type memStore struct {
	mu sync.Mutex
	st *state

	findErr   error
	cagedErr  error
	beginErr  error
	commitErr error
	// failOn makes the named Tx method fail.
	failOn string

	queries   []directory.Query
	rollbacks int
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{st: &state{
		users:  make(map[int64]model.DirectoryEntry),
		gifts:  make(map[int64]model.Gift),
		queued: make(map[int64]model.QueuedDonor),
		nextID: 1000,
	}}
}

func (m *memStore) addUser(u model.DirectoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.users[u.ID] = u
}

func (m *memStore) addCaged(c model.CagedDonor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.st.id()
	m.st.caged = append(m.st.caged, c)
}

// seedJob stores a gift and queued donor for sub and returns their ids.
func (m *memStore) seedJob(amount model.Amount) (giftID, queuedID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	giftID = m.st.id()
	m.st.gifts[giftID] = model.Gift{ID: giftID, SearchableID: uuid.New(), GrossAmount: amount}
	queuedID = m.st.id()
	m.st.queued[queuedID] = model.QueuedDonor{ID: queuedID, GiftID: giftID}
	return giftID, queuedID
}

func (m *memStore) snapshot() *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.clone()
}

func (m *memStore) Find(_ context.Context, q directory.Query) ([]model.DirectoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.findErr != nil {
		return nil, m.findErr
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var out []model.DirectoryEntry
	for _, u := range m.st.users {
		var hit bool
		switch q.Field {
		case directory.FieldID:
			hit = u.ID == q.Value.(int64)
		case directory.FieldEmail:
			hit = u.Email == q.Value.(string)
		case directory.FieldLastName:
			hit = u.LastName == q.Value.(string)
		}
		if hit {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindCagedDonors(_ context.Context, first, last, zip string) ([]model.CagedDonor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cagedErr != nil {
		return nil, m.cagedErr
	}
	var out []model.CagedDonor
	for _, c := range m.st.caged {
		if c.FirstName == first && c.LastName == last && c.Zip == zip {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) CreateGift(_ context.Context, g *model.Gift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.ID = m.st.id()
	m.st.gifts[g.ID] = *g
	return nil
}

func (m *memStore) GetGift(_ context.Context, id int64) (*model.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.st.gifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &g, nil
}

func (m *memStore) CreateQueuedDonor(_ context.Context, q *model.QueuedDonor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = m.st.id()
	m.st.queued[q.ID] = *q
	return nil
}

func (m *memStore) RecordIntake(_ context.Context, g *model.Gift, q *model.QueuedDonor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g != nil {
		g.ID = m.st.id()
		m.st.gifts[g.ID] = *g
		q.GiftID = g.ID
		q.Submission.GiftID = g.ID
	}
	q.ID = m.st.id()
	m.st.queued[q.ID] = *q
	return nil
}

func (m *memStore) GetQueuedDonor(_ context.Context, id int64) (*model.QueuedDonor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.st.queued[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &q, nil
}

func (m *memStore) ListQueuedDonors(_ context.Context, limit int) ([]model.QueuedDonor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.QueuedDonor
	for _, q := range m.st.queued {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Begin(_ context.Context) (store.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return &memTx{parent: m, st: m.st.clone()}, nil
}

func (m *memStore) Stats(_ context.Context, _ time.Time) (*store.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &store.Stats{QueuedDonors: len(m.st.queued), Gifts: len(m.st.gifts), CagedDonors: len(m.st.caged)}, nil
}

func (m *memStore) Migrate(_ context.Context) error { return nil }
func (m *memStore) Close() error                    { return nil }

type memTx struct {
	parent *memStore
	st     *state
	done   bool
}

func (t *memTx) fail(op string) error {
	if t.parent.failOn == op {
		return eris.Errorf("mem: %s failed", op)
	}
	return nil
}

func (t *memTx) GetGift(_ context.Context, id int64) (*model.Gift, error) {
	if err := t.fail("GetGift"); err != nil {
		return nil, err
	}
	g, ok := t.st.gifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &g, nil
}

func (t *memTx) SetGiftUser(_ context.Context, giftID, userID int64) error {
	if err := t.fail("SetGiftUser"); err != nil {
		return err
	}
	g, ok := t.st.gifts[giftID]
	if !ok {
		return store.ErrNotFound
	}
	g.UserID = &userID
	t.st.gifts[giftID] = g
	return nil
}

func (t *memTx) CreateUser(_ context.Context, u *model.DirectoryEntry) error {
	if err := t.fail("CreateUser"); err != nil {
		return err
	}
	u.ID = t.st.id()
	t.st.users[u.ID] = *u
	return nil
}

func (t *memTx) RecordUserGift(_ context.Context, userID int64, amount model.Amount) error {
	if err := t.fail("RecordUserGift"); err != nil {
		return err
	}
	u, ok := t.st.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.LastGiftAmount = amount
	t.st.users[userID] = u
	return nil
}

func (t *memTx) CreateCagedDonor(_ context.Context, c *model.CagedDonor) error {
	if err := t.fail("CreateCagedDonor"); err != nil {
		return err
	}
	c.ID = t.st.id()
	t.st.caged = append(t.st.caged, *c)
	return nil
}

func (t *memTx) DeleteQueuedDonor(_ context.Context, id int64) error {
	if err := t.fail("DeleteQueuedDonor"); err != nil {
		return err
	}
	if _, ok := t.st.queued[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.queued, id)
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	if t.done {
		return eris.New("mem: tx already closed")
	}
	if t.parent.commitErr != nil {
		return t.parent.commitErr
	}
	t.done = true
	t.parent.st = t.st
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.rollbacks++
	t.done = true
	return nil
}
