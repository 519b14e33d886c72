package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/livinlefevreloca/linsched/internal/schedule"
)

// MemStore is an in-memory schedule.Store with the same contract as the
// SQLite store. It also implements schedule.Claimer and schedule.HistoryStore.
type MemStore struct {
	mu       sync.Mutex
	entries  []schedule.Entry
	attempts []schedule.Attempt

	// Fail the named operation with the given error
	errors map[string]error

	// Status writes in order, as "job=code"
	writes []string
}

func NewMemStore() *MemStore {
	return &MemStore{
		entries: make([]schedule.Entry, 0),
		errors:  make(map[string]error),
	}
}

// SetError makes the named operation (e.g. "UpdateStatus") return err.
func (m *MemStore) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[op] = err
}

// Put inserts an entry directly, bypassing CreateEntries.
func (m *MemStore) Put(entry schedule.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Writes returns every status write performed so far.
func (m *MemStore) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.writes))
	copy(result, m.writes)
	return result
}

func (m *MemStore) CountForDate(_ context.Context, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["CountForDate"]; err != nil {
		return 0, err
	}

	count := 0
	for _, e := range m.entries {
		if e.Date == date {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) CreateEntries(_ context.Context, date string, jobs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["CreateEntries"]; err != nil {
		return err
	}

	for i, job := range jobs {
		m.entries = append(m.entries, schedule.Entry{
			Seq:     i,
			JobName: job,
			Date:    date,
			Status:  schedule.StatusInitial,
		})
	}
	return nil
}

func (m *MemStore) FetchIncomplete(_ context.Context, date string) ([]schedule.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["FetchIncomplete"]; err != nil {
		return nil, err
	}
	return m.selectLocked(date, func(e schedule.Entry) bool {
		return e.Status != schedule.StatusCompleted
	}), nil
}

func (m *MemStore) FetchAll(_ context.Context, date string) ([]schedule.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["FetchAll"]; err != nil {
		return nil, err
	}
	return m.selectLocked(date, func(schedule.Entry) bool { return true }), nil
}

func (m *MemStore) selectLocked(date string, keep func(schedule.Entry) bool) []schedule.Entry {
	result := make([]schedule.Entry, 0)
	for _, e := range m.entries {
		if e.Date == date && keep(e) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result
}

func (m *MemStore) FetchStatus(_ context.Context, jobName, date string) (schedule.Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["FetchStatus"]; err != nil {
		return 0, false, err
	}
	for _, e := range m.entries {
		if e.Date == date && e.JobName == jobName {
			return e.Status, true, nil
		}
	}
	return 0, false, nil
}

func (m *MemStore) UpdateStatus(_ context.Context, jobName, date string, status schedule.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["UpdateStatus"]; err != nil {
		return err
	}
	return m.updateLocked(jobName, date, status, func(schedule.Status) bool { return true })
}

func (m *MemStore) ClaimEntry(_ context.Context, jobName, date string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["ClaimEntry"]; err != nil {
		return false, err
	}
	err := m.updateLocked(jobName, date, schedule.StatusRunning, func(s schedule.Status) bool {
		return s != schedule.StatusRunning && s != schedule.StatusCompleted
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemStore) updateLocked(jobName, date string, status schedule.Status, allowed func(schedule.Status) bool) error {
	updated := 0
	for i := range m.entries {
		e := &m.entries[i]
		if e.Date == date && e.JobName == jobName && allowed(e.Status) {
			e.Status = status
			updated++
		}
	}
	if updated == 0 {
		return fmt.Errorf("memstore: no entry %s/%s", date, jobName)
	}
	m.writes = append(m.writes, jobName+"="+status.Code())
	return nil
}

func (m *MemStore) DeleteAll(_ context.Context, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["DeleteAll"]; err != nil {
		return err
	}

	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.Date != date {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

func (m *MemStore) RecordAttempt(_ context.Context, attempt *schedule.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errors["RecordAttempt"]; err != nil {
		return err
	}
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *MemStore) FetchAttempts(_ context.Context, date, jobName string) ([]schedule.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]schedule.Attempt, 0)
	for _, a := range m.attempts {
		if a.Date == date && (jobName == "" || a.JobName == jobName) {
			result = append(result, a)
		}
	}
	return result, nil
}
