package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/policy"
	"github.com/mediagraph/catalog-cli/internal/provider"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
	"github.com/mediagraph/catalog-cli/internal/snapstore"
)

// --- Store mock ---

// mockStore is an in-memory snapstore.Store that records every call.
type mockStore struct {
	mu          sync.Mutex
	snapshots   map[string]*snapshot.Snapshot
	previous    map[string]*snapshot.Snapshot
	lastSuccess map[string]*time.Time // provider|kind
	runs        []snapstore.Run

	loadErr  error
	saveErr  error
	startErr error
	runSeq   int
}

func newMockStore() *mockStore {
	return &mockStore{
		snapshots:   make(map[string]*snapshot.Snapshot),
		previous:    make(map[string]*snapshot.Snapshot),
		lastSuccess: make(map[string]*time.Time),
	}
}

func (m *mockStore) LoadSnapshot(_ context.Context, provider string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.snapshots[provider], nil
}

func (m *mockStore) PreviousSnapshot(_ context.Context, provider string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous[provider], nil
}

func (m *mockStore) SaveSnapshot(_ context.Context, provider string, snap *snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.previous[provider] = m.snapshots[provider]
	m.snapshots[provider] = snap
	return nil
}

func (m *mockStore) StartRun(_ context.Context, provider string, kind snapstore.RunKind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	m.runSeq++
	id := "run-" + strconv.Itoa(m.runSeq)
	m.runs = append(m.runs, snapstore.Run{
		ID:        id,
		Provider:  provider,
		Kind:      kind,
		Status:    snapstore.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})
	return id, nil
}

func (m *mockStore) CompleteRun(_ context.Context, runID string, summary snapstore.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == runID {
			now := time.Now().UTC()
			m.runs[i].Status = snapstore.RunStatusComplete
			m.runs[i].Summary = &summary
			m.runs[i].FinishedAt = &now
			m.lastSuccess[m.runs[i].Provider+"|"+string(m.runs[i].Kind)] = &now
			return nil
		}
	}
	return eris.Errorf("mock: unknown run %s", runID)
}

func (m *mockStore) FailRun(_ context.Context, runID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == runID {
			now := time.Now().UTC()
			m.runs[i].Status = snapstore.RunStatusFailed
			m.runs[i].Error = message
			m.runs[i].FinishedAt = &now
			return nil
		}
	}
	return eris.Errorf("mock: unknown run %s", runID)
}

func (m *mockStore) LastSuccess(_ context.Context, provider string, kind snapstore.RunKind) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess[provider+"|"+string(kind)], nil
}

func (m *mockStore) ListRuns(_ context.Context, filter snapstore.RunFilter) ([]snapstore.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []snapstore.Run
	for _, r := range m.runs {
		if filter.Provider != "" && r.Provider != filter.Provider {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

// runFor returns the most recent run-log entry for a provider.
func (m *mockStore) runFor(provider string) *snapstore.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Provider == provider {
			r := m.runs[i]
			return &r
		}
	}
	return nil
}

// --- Provider mock ---

// mockProvider is a scripted provider.Provider.
type mockProvider struct {
	name       string
	cadence    provider.Cadence
	keyColumn  string
	columns    []string
	volatile   []string
	records    []snapshot.Record
	harvestErr error
	rule       reconcile.Rule

	mu           sync.Mutex
	harvestCalls int
}

func (m *mockProvider) Name() string              { return m.name }
func (m *mockProvider) Property() string          { return m.rule.Property }
func (m *mockProvider) Cadence() provider.Cadence { return m.cadence }
func (m *mockProvider) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return m.cadence.Due(now, lastRun)
}
func (m *mockProvider) KeyColumn() string         { return m.keyColumn }
func (m *mockProvider) Columns() []string         { return m.columns }
func (m *mockProvider) VolatileColumns() []string { return m.volatile }
func (m *mockProvider) Rule() reconcile.Rule      { return m.rule }

func (m *mockProvider) Harvest(_ context.Context, _ fetcher.Fetcher, _ *snapshot.Snapshot) ([]snapshot.Record, error) {
	m.mu.Lock()
	m.harvestCalls++
	m.mu.Unlock()
	if m.harvestErr != nil {
		return nil, m.harvestErr
	}
	return m.records, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.harvestCalls
}

// --- Knowledge-base mock ---

// mockKB is a scripted knowledge-base client.
type mockKB struct {
	extract      *snapshot.Snapshot
	extractErr   error
	blocklist    *policy.Blocklist
	blocklistErr error

	mu           sync.Mutex
	extractCalls int
}

func (m *mockKB) FetchExtract(context.Context, string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	m.extractCalls++
	m.mu.Unlock()
	if m.extractErr != nil {
		return nil, m.extractErr
	}
	return m.extract, nil
}

func (m *mockKB) FetchBlocklist(context.Context) (*policy.Blocklist, error) {
	if m.blocklistErr != nil {
		return nil, m.blocklistErr
	}
	if m.blocklist != nil {
		return m.blocklist, nil
	}
	return policy.NewBlocklist(nil), nil
}

func (m *mockKB) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractCalls
}
