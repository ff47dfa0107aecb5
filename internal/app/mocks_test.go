package app_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// --- In-memory store ---

// memStore implements every persistence port in memory, evaluating
// eligibility with the domain predicate the SQL store mirrors.
type memStore struct {
	mu         sync.Mutex
	lifeCycles map[string]domain.LifeCycle
	stages     map[string]domain.Stage
	instances  map[string]domain.Instance

	assignErr error
	claimErr  error
	pageCalls int
}

func newMemStore() *memStore {
	return &memStore{
		lifeCycles: make(map[string]domain.LifeCycle),
		stages:     make(map[string]domain.Stage),
		instances:  make(map[string]domain.Instance),
	}
}

func (m *memStore) firstStage(lifeCycleID string) (domain.Stage, bool) {
	var first domain.Stage
	found := false
	for _, st := range m.stages {
		if st.LifeCycleID != lifeCycleID {
			continue
		}
		if !found || st.Order < first.Order {
			first, found = st, true
		}
	}
	return first, found
}

func (m *memStore) AssignFirstStages(_ context.Context, e domain.Eligibility) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.assignErr != nil {
		return 0, m.assignErr
	}

	var n int64
	for id, inst := range m.instances {
		if inst.CurrentStageID != nil || !e.Eligible(m.lifeCycles[inst.LifeCycleID], inst) {
			continue
		}
		st, ok := m.firstStage(inst.LifeCycleID)
		if !ok {
			continue
		}
		stageID := st.ID
		inst.CurrentStageID = &stageID
		m.instances[id] = inst
		n++
	}
	return n, nil
}

func (m *memStore) ClaimBatch(_ context.Context, batchID string, e domain.Eligibility) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return 0, m.claimErr
	}

	var n int64
	for id, inst := range m.instances {
		if inst.State != domain.StatePending || !e.Eligible(m.lifeCycles[inst.LifeCycleID], inst) {
			continue
		}
		b, at := batchID, e.Now
		inst.State = domain.StateProcessing
		inst.BatchID = &b
		inst.ClaimedAt = &at
		m.instances[id] = inst
		n++
	}
	return n, nil
}

func (m *memStore) ClaimedPage(_ context.Context, q domain.PageQuery) ([]domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageCalls++

	var page []domain.Instance
	for _, inst := range m.sortedInstances() {
		if inst.State != domain.StateProcessing || inst.BatchID == nil || *inst.BatchID != q.BatchID {
			continue
		}
		if inst.ID <= q.AfterID || !q.Eligibility.Eligible(m.lifeCycles[inst.LifeCycleID], inst) {
			continue
		}
		if inst.CurrentStageID != nil {
			st := m.stages[*inst.CurrentStageID]
			inst.CurrentStage = &st
		}
		page = append(page, inst)
		if len(page) == q.Limit {
			break
		}
	}
	return page, nil
}

func (m *memStore) sortedInstances() []domain.Instance {
	out := make([]domain.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b domain.Instance) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (m *memStore) CreateLifeCycle(_ context.Context, lc domain.LifeCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.lifeCycles {
		if existing.Code == lc.Code {
			return &domain.CodeConflictError{Code: lc.Code}
		}
	}
	m.lifeCycles[lc.ID] = lc
	return nil
}

func (m *memStore) GetLifeCycle(_ context.Context, id string) (domain.LifeCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lc, ok := m.lifeCycles[id]
	if !ok {
		return domain.LifeCycle{}, domain.ErrLifeCycleNotFound
	}
	return lc, nil
}

func (m *memStore) GetLifeCycleByCode(_ context.Context, code string) (domain.LifeCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lc := range m.lifeCycles {
		if lc.Code == code {
			return lc, nil
		}
	}
	return domain.LifeCycle{}, domain.ErrLifeCycleNotFound
}

func (m *memStore) CreateStage(_ context.Context, st domain.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.stages {
		if existing.LifeCycleID == st.LifeCycleID && existing.Order == st.Order {
			return &domain.StageOrderConflictError{LifeCycleID: st.LifeCycleID, Order: st.Order}
		}
	}
	m.stages[st.ID] = st
	return nil
}

func (m *memStore) GetStage(_ context.Context, id string) (domain.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[id]
	if !ok {
		return domain.Stage{}, domain.ErrStageNotFound
	}
	return st, nil
}

func (m *memStore) ListStages(_ context.Context, lifeCycleID string) ([]domain.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Stage
	for _, st := range m.stages {
		if st.LifeCycleID == lifeCycleID {
			out = append(out, st)
		}
	}
	slices.SortFunc(out, func(a, b domain.Stage) int { return a.Order - b.Order })
	return out, nil
}

func (m *memStore) NextStage(ctx context.Context, lifeCycleID string, afterOrder int) (domain.Stage, error) {
	stages, _ := m.ListStages(ctx, lifeCycleID)
	for _, st := range stages {
		if st.Order > afterOrder {
			return st, nil
		}
	}
	return domain.Stage{}, domain.ErrStageNotFound
}

func (m *memStore) CreateInstance(_ context.Context, inst domain.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lifeCycles[inst.LifeCycleID]; !ok {
		return domain.ErrLifeCycleNotFound
	}
	m.instances[inst.ID] = inst
	return nil
}

func (m *memStore) GetInstance(_ context.Context, id string) (domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return domain.Instance{}, domain.ErrInstanceNotFound
	}
	return inst, nil
}

func (m *memStore) ListInstances(_ context.Context, filter domain.InstanceFilter) ([]domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Instance
	for _, inst := range m.sortedInstances() {
		if filter.State != nil && inst.State != *filter.State {
			continue
		}
		if filter.LifeCycleCode != "" && m.lifeCycles[inst.LifeCycleID].Code != filter.LifeCycleCode {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (m *memStore) ApplyChange(_ context.Context, c domain.InstanceChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[c.ID]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	if inst.State != c.From {
		return domain.ErrStaleInstance
	}
	if c.From == domain.StateProcessing && (inst.BatchID == nil || *inst.BatchID != c.BatchID) {
		return domain.ErrStaleInstance
	}
	inst.State = c.To
	if c.To != domain.StateProcessing {
		inst.BatchID = nil
		inst.ClaimedAt = nil
	}
	if c.StageID != "" {
		stageID := c.StageID
		inst.CurrentStageID = &stageID
	}
	if c.ResetAttempts {
		inst.Attempts = 0
	}
	if c.SetExecutesAt {
		inst.ExecutesAt = c.ExecutesAt
	}
	m.instances[c.ID] = inst
	return nil
}

func (m *memStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return 0, domain.ErrInstanceNotFound
	}
	inst.Attempts++
	m.instances[id] = inst
	return inst.Attempts, nil
}

func (m *memStore) StaleClaims(_ context.Context, cutoff time.Time, afterID string, limit int) ([]domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Instance
	for _, inst := range m.sortedInstances() {
		if inst.State != domain.StateProcessing || inst.ClaimedAt == nil || !inst.ClaimedAt.Before(cutoff) {
			continue
		}
		if inst.ID <= afterID {
			continue
		}
		out = append(out, inst)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) TouchClaim(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instances[id]
	inst.ClaimedAt = &at
	m.instances[id] = inst
	return nil
}

// --- Scheduler ---

type scheduled struct {
	instanceID string
	stageID    string
	notBefore  time.Time
}

type recordingScheduler struct {
	mu      sync.Mutex
	calls   []scheduled
	failFor map[string]bool
}

func (s *recordingScheduler) Schedule(_ context.Context, inst domain.Instance, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[inst.ID] {
		return errors.New("queue unavailable")
	}
	call := scheduled{instanceID: inst.ID, notBefore: notBefore}
	if inst.CurrentStage != nil {
		call.stageID = inst.CurrentStage.ID
	}
	s.calls = append(s.calls, call)
	return nil
}

// --- Validator ---

// testValidator walks domain.Transitions directly.
type testValidator struct{}

func (v *testValidator) Apply(_ context.Context, current domain.State, event domain.Event) (domain.State, error) {
	for _, t := range domain.Transitions {
		if t.Event == event && t.Src == current {
			return t.Dst, nil
		}
	}
	return "", &domain.TransitionError{Event: event, Current: current}
}

// --- Fixtures ---

var fixedNow = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

func clock() time.Time { return fixedNow }

func timePtr(t time.Time) *time.Time { return &t }

func seedLifeCycle(m *memStore, id, code string, orders ...int) domain.LifeCycle {
	lc := domain.LifeCycle{
		ID:             id,
		Code:           code,
		Active:         true,
		StartsAt:       fixedNow.Add(-24 * time.Hour),
		ActivateByCron: true,
	}
	m.lifeCycles[id] = lc
	for _, order := range orders {
		st := domain.Stage{
			ID:          stageID(id, order),
			LifeCycleID: id,
			Order:       order,
			Handler:     "noop",
		}
		m.stages[st.ID] = st
	}
	return lc
}

func stageID(lifeCycleID string, order int) string {
	return lifeCycleID + "-stage-" + string(rune('0'+order))
}

func seedInstance(m *memStore, id, lifeCycleID string) domain.Instance {
	inst := domain.NewInstance(id, lifeCycleID, domain.SubjectRef{Type: "user", ID: id}, nil, nil)
	m.instances[id] = inst
	return inst
}
