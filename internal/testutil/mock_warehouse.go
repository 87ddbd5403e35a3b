package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"parcelhub/internal/tabular"
	"parcelhub/internal/warehouse"
)

// LoadCall records one LoadTable invocation
type LoadCall struct {
	Target  warehouse.TableRef
	Columns []string
	Rows    int
}

// MockGateway is an in-memory warehouse.Gateway. Loaded tables are kept by
// fully qualified name so tests can assert on the staged state.
type MockGateway struct {
	mu sync.Mutex

	Loads   []LoadCall
	Queries []string
	Tables  map[string]*tabular.Table
	Closed  bool

	// LoadErrors fails LoadTable for the given target table name
	LoadErrors map[string]error
	// QueryErrors fails RunQuery for scripts containing the key
	QueryErrors map[string]error
}

var _ warehouse.Gateway = (*MockGateway)(nil)

// NewMockGateway creates an empty mock gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Tables:      make(map[string]*tabular.Table),
		LoadErrors:  make(map[string]error),
		QueryErrors: make(map[string]error),
	}
}

// FailLoad makes every load into table fail with err
func (m *MockGateway) FailLoad(table string, err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadErrors[table] = err
	return m
}

// FailQuery makes every script containing marker fail with err
func (m *MockGateway) FailQuery(marker string, err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryErrors[marker] = err
	return m
}

func (m *MockGateway) LoadTable(ctx context.Context, t *tabular.Table, target warehouse.TableRef) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t == nil {
		t = &tabular.Table{}
	}
	m.Loads = append(m.Loads, LoadCall{
		Target:  target,
		Columns: append([]string(nil), t.Columns...),
		Rows:    t.NumRows(),
	})
	if err, ok := m.LoadErrors[target.Table]; ok {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if len(t.Columns) == 0 {
		delete(m.Tables, target.String())
		return 0, nil
	}
	m.Tables[target.String()] = t
	return int64(t.NumRows()), nil
}

func (m *MockGateway) RunQuery(ctx context.Context, sqlText string) (warehouse.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Queries = append(m.Queries, sqlText)
	for marker, err := range m.QueryErrors {
		if strings.Contains(sqlText, marker) {
			return warehouse.QueryResult{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return warehouse.QueryResult{}, err
	}
	return warehouse.QueryResult{Statements: len(warehouse.SplitStatements(sqlText, true))}, nil
}

func (m *MockGateway) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return fmt.Errorf("gateway already closed")
	}
	m.Closed = true
	return nil
}

// LoadedTables returns the targets of every load in call order
func (m *MockGateway) LoadedTables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Loads))
	for i, l := range m.Loads {
		out[i] = l.Target.Table
	}
	return out
}

// Table returns the staged table stored under its fully qualified name
func (m *MockGateway) Table(ref warehouse.TableRef) (*tabular.Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tables[ref.String()]
	return t, ok
}

// QueryCount returns how many scripts were submitted
func (m *MockGateway) QueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries)
}

// Reset clears recorded calls and staged tables but keeps configured failures
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Loads = nil
	m.Queries = nil
	m.Tables = make(map[string]*tabular.Table)
	m.Closed = false
}
