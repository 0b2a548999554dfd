package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

// Ensure Store implements store.Store at compile time. Each subsystem
// contract is checked separately so a missing method names its interface.
var (
	_ catalog.Store = (*Store)(nil)
	_ journal.Store = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	books     map[string]*catalog.Book
	members   map[string]*catalog.Member
	loans     map[string]*catalog.Loan
	holds     map[string]*catalog.Hold
	entries   map[string]*journal.Entry
	dlqs      map[string]*dlq.Entry
	instances map[string]*cluster.Instance

	// leader tracks the current leader instance ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		books:     make(map[string]*catalog.Book),
		members:   make(map[string]*catalog.Member),
		loans:     make(map[string]*catalog.Loan),
		holds:     make(map[string]*catalog.Hold),
		entries:   make(map[string]*journal.Entry),
		dlqs:      make(map[string]*dlq.Entry),
		instances: make(map[string]*cluster.Instance),
	}
}

// slicePage applies offset and limit to an already sorted result slice.
func slicePage[T any](s []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(s) {
			return nil
		}
		s = s[offset:]
	}
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Books
// ──────────────────────────────────────────────────

// CreateBook persists a new book.
func (m *Store) CreateBook(_ context.Context, b *catalog.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Store a copy so callers can mutate without racing with the store.
	cp := *b
	m.books[b.ID.String()] = &cp
	return nil
}

// GetBook retrieves a book by ID.
func (m *Store) GetBook(_ context.Context, bookID id.BookID) (*catalog.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.books[bookID.String()]
	if !ok {
		return nil, circulate.ErrBookNotFound
	}
	cp := *b
	return &cp, nil
}

// UpdateBook persists changes to an existing book.
func (m *Store) UpdateBook(_ context.Context, b *catalog.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := b.ID.String()
	if _, ok := m.books[key]; !ok {
		return circulate.ErrBookNotFound
	}
	b.Touch()
	cp := *b
	m.books[key] = &cp
	return nil
}

// DeleteBook removes a book by ID.
func (m *Store) DeleteBook(_ context.Context, bookID id.BookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bookID.String()
	if _, ok := m.books[key]; !ok {
		return circulate.ErrBookNotFound
	}
	delete(m.books, key)
	return nil
}

// ListBooks returns books matching the filter, ordered by ID.
func (m *Store) ListBooks(_ context.Context, f catalog.BookFilter) ([]*catalog.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*catalog.Book, 0, len(m.books))
	for _, b := range m.books {
		if f.ISBN != "" && b.ISBN != f.ISBN {
			continue
		}
		if f.Genre != "" && b.Genre != f.Genre {
			continue
		}
		cp := *b
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})

	return slicePage(result, f.Offset, f.Limit), nil
}

// AdjustCopies atomically changes a book's available copy count by delta
// and returns the new count. Fails with circulate.ErrNoCopies when the
// adjustment would drive the count negative.
func (m *Store) AdjustCopies(_ context.Context, bookID id.BookID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[bookID.String()]
	if !ok {
		return 0, circulate.ErrBookNotFound
	}

	next := b.CopiesAvailable + delta
	if next < 0 {
		return b.CopiesAvailable, circulate.ErrNoCopies
	}
	b.CopiesAvailable = next
	b.Touch()
	return next, nil
}

// ──────────────────────────────────────────────────
// Members
// ──────────────────────────────────────────────────

// CreateMember persists a new member.
func (m *Store) CreateMember(_ context.Context, mem *catalog.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *mem
	m.members[mem.ID.String()] = &cp
	return nil
}

// GetMember retrieves a member by ID.
func (m *Store) GetMember(_ context.Context, memberID id.MemberID) (*catalog.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[memberID.String()]
	if !ok {
		return nil, circulate.ErrMemberNotFound
	}
	cp := *mem
	return &cp, nil
}

// UpdateMember persists changes to an existing member.
func (m *Store) UpdateMember(_ context.Context, mem *catalog.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mem.ID.String()
	if _, ok := m.members[key]; !ok {
		return circulate.ErrMemberNotFound
	}
	mem.Touch()
	cp := *mem
	m.members[key] = &cp
	return nil
}

// DeleteMember removes a member by ID.
func (m *Store) DeleteMember(_ context.Context, memberID id.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memberID.String()
	if _, ok := m.members[key]; !ok {
		return circulate.ErrMemberNotFound
	}
	delete(m.members, key)
	return nil
}

// ListMembers returns members matching the filter, ordered by ID.
func (m *Store) ListMembers(_ context.Context, f catalog.MemberFilter) ([]*catalog.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*catalog.Member, 0, len(m.members))
	for _, mem := range m.members {
		if f.Role != "" && mem.Role != f.Role {
			continue
		}
		cp := *mem
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})

	return slicePage(result, f.Offset, f.Limit), nil
}

// ──────────────────────────────────────────────────
// Loans
// ──────────────────────────────────────────────────

// CreateLoan persists a new loan.
func (m *Store) CreateLoan(_ context.Context, l *catalog.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *l
	m.loans[l.ID.String()] = &cp
	return nil
}

// GetLoan retrieves a loan by ID.
func (m *Store) GetLoan(_ context.Context, loanID id.LoanID) (*catalog.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.loans[loanID.String()]
	if !ok {
		return nil, circulate.ErrLoanNotFound
	}
	cp := *l
	return &cp, nil
}

// UpdateLoan persists changes to an existing loan.
func (m *Store) UpdateLoan(_ context.Context, l *catalog.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := l.ID.String()
	if _, ok := m.loans[key]; !ok {
		return circulate.ErrLoanNotFound
	}
	l.Touch()
	cp := *l
	m.loans[key] = &cp
	return nil
}

// ListLoans returns loans matching the filter, ordered by ID.
func (m *Store) ListLoans(_ context.Context, f catalog.LoanFilter) ([]*catalog.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*catalog.Loan, 0, len(m.loans))
	for _, l := range m.loans {
		if !f.BookID.IsNil() && l.BookID != f.BookID {
			continue
		}
		if !f.MemberID.IsNil() && l.MemberID != f.MemberID {
			continue
		}
		if f.OpenOnly && !l.Open() {
			continue
		}
		cp := *l
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})

	return slicePage(result, f.Offset, f.Limit), nil
}

// CountOpenLoans returns the number of open loans held by a member.
func (m *Store) CountOpenLoans(_ context.Context, memberID id.MemberID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, l := range m.loans {
		if l.MemberID == memberID && l.Open() {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Holds
// ──────────────────────────────────────────────────

// CreateHold persists a new hold.
func (m *Store) CreateHold(_ context.Context, h *catalog.Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *h
	m.holds[h.ID.String()] = &cp
	return nil
}

// GetHold retrieves a hold by ID.
func (m *Store) GetHold(_ context.Context, holdID id.HoldID) (*catalog.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holds[holdID.String()]
	if !ok {
		return nil, circulate.ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

// UpdateHold persists changes to an existing hold.
func (m *Store) UpdateHold(_ context.Context, h *catalog.Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := h.ID.String()
	if _, ok := m.holds[key]; !ok {
		return circulate.ErrHoldNotFound
	}
	h.Touch()
	cp := *h
	m.holds[key] = &cp
	return nil
}

// ListHolds returns holds matching the filter, ordered by placement time
// so the oldest hold is first.
func (m *Store) ListHolds(_ context.Context, f catalog.HoldFilter) ([]*catalog.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*catalog.Hold, 0, len(m.holds))
	for _, h := range m.holds {
		if !f.BookID.IsNil() && h.BookID != f.BookID {
			continue
		}
		if !f.MemberID.IsNil() && h.MemberID != f.MemberID {
			continue
		}
		if f.Status != "" && h.Status != f.Status {
			continue
		}
		cp := *h
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].PlacedAt.Before(result[k].PlacedAt)
	})

	return slicePage(result, f.Offset, f.Limit), nil
}

// ──────────────────────────────────────────────────
// Journal Store
// ──────────────────────────────────────────────────

// AppendEntry persists a journal entry.
func (m *Store) AppendEntry(_ context.Context, e *journal.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.ID.String()] = e
	return nil
}

// GetEntry retrieves a journal entry by ID.
func (m *Store) GetEntry(_ context.Context, entryID id.JournalID) (*journal.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, circulate.ErrEntryNotFound
	}
	return e, nil
}

// ListEntries returns journal entries matching the filter, newest first.
func (m *Store) ListEntries(_ context.Context, f journal.Filter) ([]*journal.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*journal.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if f.Label != "" && e.Label != f.Label {
			continue
		}
		if !f.Actor.IsNil() && e.Actor != f.Actor {
			continue
		}
		if !f.BookID.IsNil() && e.BookID != f.BookID {
			continue
		}
		if !f.MemberID.IsNil() && e.MemberID != f.MemberID {
			continue
		}
		if !f.Since.IsZero() && e.RecordedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !e.RecordedAt.Before(f.Until) {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].RecordedAt.After(result[k].RecordedAt)
	})

	return slicePage(result, f.Offset, f.Limit), nil
}

// CountEntries returns the total number of journal entries.
func (m *Store) CountEntries(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.entries)), nil
}

// PurgeEntries removes journal entries recorded before the given time.
func (m *Store) PurgeEntries(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.entries {
		if e.RecordedAt.Before(before) {
			delete(m.entries, key)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed op entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = entry
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest failure
// first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Label != "" && e.Label != opts.Label {
			continue
		}
		if opts.Unreplayed && e.Replayed() {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	return slicePage(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, circulate.ErrDLQNotFound
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return circulate.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterInstance adds an instance to the cluster registry.
func (m *Store) RegisterInstance(_ context.Context, inst *cluster.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inst
	m.instances[inst.ID.String()] = &cp
	return nil
}

// DeregisterInstance removes an instance from the cluster registry.
func (m *Store) DeregisterInstance(_ context.Context, instanceID id.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := instanceID.String()
	if _, ok := m.instances[key]; !ok {
		return circulate.ErrInstanceNotFound
	}
	delete(m.instances, key)
	return nil
}

// HeartbeatInstance updates the last-seen timestamp for an instance.
func (m *Store) HeartbeatInstance(_ context.Context, instanceID id.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return circulate.ErrInstanceNotFound
	}
	inst.LastSeen = time.Now().UTC()
	return nil
}

// ListInstances returns all registered instances.
func (m *Store) ListInstances(_ context.Context) ([]*cluster.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		cp := *inst
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// ReapDeadInstances returns instances whose last-seen timestamp is older
// than the given threshold.
func (m *Store) ReapDeadInstances(_ context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Instance
	for _, inst := range m.instances {
		if inst.LastSeen.Before(cutoff) {
			cp := *inst
			dead = append(dead, &cp)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	iKey := instanceID.String()

	// If there's already a leader whose TTL hasn't expired and it's not us, fail.
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != iKey {
		return false, nil
	}

	// Clear the previous holder's flag when leadership moves.
	if m.leader != "" && m.leader != iKey {
		if prev, ok := m.instances[m.leader]; ok {
			prev.IsLeader = false
			prev.LeaderUntil = nil
		}
	}

	// Acquire (or re-acquire) leadership.
	m.leader = iKey
	m.leaderUntil = now.Add(ttl)

	// Update the instance record.
	if inst, ok := m.instances[iKey]; ok {
		inst.IsLeader = true
		until := m.leaderUntil
		inst.LeaderUntil = &until
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	iKey := instanceID.String()
	if m.leader != iKey {
		return false, nil
	}

	m.leaderUntil = time.Now().UTC().Add(ttl)

	if inst, ok := m.instances[iKey]; ok {
		until := m.leaderUntil
		inst.LeaderUntil = &until
	}

	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// unexpired lease.
func (m *Store) GetLeader(_ context.Context) (*cluster.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}

	inst, ok := m.instances[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}
