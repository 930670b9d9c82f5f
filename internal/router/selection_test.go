package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/models"
)

func candidates() []models.RepositoryConfig {
	return []models.RepositoryConfig{
		{ID: "backend", Name: "backend", RepositoryURL: "https://github.com/acme/backend"},
		{ID: "frontend", Name: "frontend", RepositoryURL: "https://github.com/acme/frontend"},
	}
}

func TestElicit_StoresPendingAndPrompts(t *testing.T) {
	ft := &fakeTracker{}
	s := NewSelector(ft, nil)

	err := s.Elicit(context.Background(), "ext-1", "iss-1", candidates())
	require.NoError(t, err)
	assert.Equal(t, 1, ft.prompts)

	p, ok := s.Pending("ext-1")
	require.True(t, ok)
	assert.Equal(t, "iss-1", p.IssueID)
	assert.Len(t, p.Candidates, 2)
}

func TestElicit_PostFailureClearsPendingAndPostsError(t *testing.T) {
	ft := &fakeTracker{promptErr: errors.New("tracker rejected prompt")}
	s := NewSelector(ft, nil)

	err := s.Elicit(context.Background(), "ext-1", "iss-1", candidates())
	require.Error(t, err)

	_, ok := s.Pending("ext-1")
	assert.False(t, ok, "pending entry must be cleared so the state machine never sticks")
	require.Len(t, ft.activities, 1)
	assert.Contains(t, ft.activities[0], "selection prompt")
}

func TestResolveResponse_MatchesByURLThenName(t *testing.T) {
	ft := &fakeTracker{}
	s := NewSelector(ft, nil)
	require.NoError(t, s.Elicit(context.Background(), "ext-1", "iss-1", candidates()))

	repo, issueID, ok := s.ResolveResponse("ext-1", "use https://github.com/acme/frontend please")
	require.True(t, ok)
	assert.Equal(t, "frontend", repo.ID)
	assert.Equal(t, "iss-1", issueID)

	require.NoError(t, s.Elicit(context.Background(), "ext-2", "iss-2", candidates()))
	repo, _, ok = s.ResolveResponse("ext-2", "Backend sounds right")
	require.True(t, ok)
	assert.Equal(t, "backend", repo.ID)
}

func TestResolveResponse_NoMatchFallsBackToFirst(t *testing.T) {
	s := NewSelector(&fakeTracker{}, nil)
	require.NoError(t, s.Elicit(context.Background(), "ext-1", "iss-1", candidates()))

	repo, _, ok := s.ResolveResponse("ext-1", "whichever you think")
	require.True(t, ok)
	assert.Equal(t, "backend", repo.ID)
}

func TestResolveResponse_ConsumedAtMostOnce(t *testing.T) {
	s := NewSelector(&fakeTracker{}, nil)
	require.NoError(t, s.Elicit(context.Background(), "ext-1", "iss-1", candidates()))

	_, _, ok := s.ResolveResponse("ext-1", "backend")
	require.True(t, ok)
	_, _, ok = s.ResolveResponse("ext-1", "backend")
	assert.False(t, ok, "second response for the same session finds nothing pending")
}

func TestResolveResponse_ConcurrentDelivery(t *testing.T) {
	s := NewSelector(&fakeTracker{}, nil)
	require.NoError(t, s.Elicit(context.Background(), "ext-1", "iss-1", candidates()))

	const attempts = 16
	var wg sync.WaitGroup
	resolved := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, ok := s.ResolveResponse("ext-1", "backend"); ok {
				resolved <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(resolved)

	count := 0
	for range resolved {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent response consumes the selection")
}

func TestResolveResponse_UnknownSession(t *testing.T) {
	s := NewSelector(&fakeTracker{}, nil)
	_, _, ok := s.ResolveResponse("nope", "backend")
	assert.False(t, ok)
}
