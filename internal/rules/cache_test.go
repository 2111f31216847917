package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melding/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

type fakeSource struct {
	mu       sync.Mutex
	document []types.Rule
	decision []types.Rule
	err      error
	fetches  int
}

func (s *fakeSource) FetchAll(context.Context) (document, decision []types.Rule, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.document, s.decision, nil
}

func (s *fakeSource) set(document, decision []types.Rule, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = document
	s.decision = decision
	s.err = err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func docRule(key string) types.Rule {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return types.Rule{
		MatchKey:           key,
		BodyClassification: "http://example.org/classification/college",
		ObligationToReport: true,
		ValidFrom:          &from,
	}
}

func TestCache_EmptyBeforeFirstRefresh(t *testing.T) {
	c := NewCache(&fakeSource{}, nopLogger{}, nil)

	assert.Empty(t, c.DocumentRules())
	assert.Empty(t, c.DecisionRules())
	assert.True(t, c.RefreshedAt().IsZero())
}

func TestCache_RefreshReplacesBothTables(t *testing.T) {
	src := &fakeSource{
		document: []types.Rule{docRule("doc-a"), docRule("doc-b")},
		decision: []types.Rule{docRule("dec-a")},
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(src, nopLogger{}, fixedClock{now: now})

	require.NoError(t, c.Refresh(context.Background()))

	assert.Len(t, c.DocumentRules(), 2)
	assert.Len(t, c.DecisionRules(), 1)
	assert.Equal(t, now, c.RefreshedAt())

	src.set([]types.Rule{docRule("doc-c")}, nil, nil)
	require.NoError(t, c.Refresh(context.Background()))

	require.Len(t, c.DocumentRules(), 1)
	assert.Equal(t, "doc-c", c.DocumentRules()[0].MatchKey)
	assert.Empty(t, c.DecisionRules())
}

func TestCache_FailedRefreshKeepsLastGoodSnapshot(t *testing.T) {
	src := &fakeSource{document: []types.Rule{docRule("doc-a")}}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(src, nopLogger{}, fixedClock{now: now})
	require.NoError(t, c.Refresh(context.Background()))

	src.set(nil, nil, errors.New("store unavailable"))
	err := c.Refresh(context.Background())
	require.Error(t, err)

	// Stale-but-valid beats empty.
	require.Len(t, c.DocumentRules(), 1)
	assert.Equal(t, "doc-a", c.DocumentRules()[0].MatchKey)
	assert.Equal(t, now, c.RefreshedAt())
}

func TestCache_ConcurrentReadersDuringRefresh(t *testing.T) {
	src := &fakeSource{document: []types.Rule{docRule("doc-a")}}
	c := NewCache(src, nopLogger{}, nil)
	require.NoError(t, c.Refresh(context.Background()))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rules := c.DocumentRules()
				// A reader always sees a complete snapshot, never a
				// half-swapped one.
				if len(rules) != 1 {
					t.Error("reader observed inconsistent snapshot")
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Refresh(context.Background()))
	}
	close(stop)
	wg.Wait()
}
