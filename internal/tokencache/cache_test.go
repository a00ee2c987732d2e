package tokencache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	id      int
	expired bool
	near    bool
}

func (f fakeToken) Expired() bool    { return f.expired }
func (f fakeToken) NearExpiry() bool { return f.near }

// TestGet_SingleFlight covers testable property 3: N concurrent callers
// racing an empty/expired entry cause exactly one fetch, and all observe the
// same token.
func TestGet_SingleFlight(t *testing.T) {
	c := New(nil)

	var fetches int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (Token, error) {
		n := atomic.AddInt32(&fetches, 1)
		<-release
		return fakeToken{id: int(n)}, nil
	}

	const N = 20
	var wg sync.WaitGroup
	results := make([]Token, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.Get(context.Background(), "scope-a", fetch)
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	// Give every goroutine a chance to block inside the singleflight call
	// before releasing the one fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&fetches), "expected exactly one underlying fetch")
	for _, r := range results {
		assert.Equal(t, results[0], r, "all callers must observe the same token")
	}
}

// TestGet_IndependentScopeSetsRefreshInParallel covers testable property 4.
func TestGet_IndependentScopeSetsRefreshInParallel(t *testing.T) {
	c := New(nil)

	started := make(chan string, 2)
	release := make(chan struct{})
	fetch := func(key string) FetchFunc {
		return func(ctx context.Context) (Token, error) {
			started <- key
			<-release
			return fakeToken{}, nil
		}
	}

	var wg sync.WaitGroup
	for _, key := range []string{"scope-a", "scope-b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = c.Get(context.Background(), key, fetch(key))
		}(key)
	}

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case k := <-started:
			seen[k] = true
		case <-timeout:
			t.Fatalf("timed out waiting for both scope sets to start fetching in parallel")
		}
	}
	close(release)
	wg.Wait()

	assert.True(t, seen["scope-a"] && seen["scope-b"])
}

func TestGet_FastPathNeverCallsFetch(t *testing.T) {
	c := New(nil)

	calls := 0
	fetch := func(ctx context.Context) (Token, error) {
		calls++
		return fakeToken{id: 1}, nil
	}
	_, err := c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	_, err = c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "a cached, unexpired token must not trigger another fetch")
}

func TestGet_ProactiveRefreshIsNonBlockingAndBestEffort(t *testing.T) {
	c := New(nil)

	first := fakeToken{id: 1, near: true}
	_, err := c.Get(context.Background(), "k", func(ctx context.Context) (Token, error) {
		return first, nil
	})
	require.NoError(t, err)

	refreshStarted := make(chan struct{})
	refreshBlocked := make(chan struct{})
	tok, err := c.Get(context.Background(), "k", func(ctx context.Context) (Token, error) {
		close(refreshStarted)
		<-refreshBlocked
		return fakeToken{id: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, first, tok, "caller must get the still-valid token immediately, not block on the background refresh")

	select {
	case <-refreshStarted:
	case <-time.After(time.Second):
		t.Fatalf("proactive refresh never started")
	}
	close(refreshBlocked)
}

func TestGet_RefreshFailureKeepsPreviousEntryUsable(t *testing.T) {
	c := New(nil)

	good := fakeToken{id: 1}
	_, err := c.Get(context.Background(), "k", func(ctx context.Context) (Token, error) {
		return good, nil
	})
	require.NoError(t, err)

	// A fetch failure on a distinct, empty key must propagate on the
	// blocking path without disturbing the entry already cached under "k".
	_, err = c.Get(context.Background(), "other", func(ctx context.Context) (Token, error) {
		return nil, assertErr
	})
	assert.ErrorIs(t, err, assertErr)

	tok, err := c.Get(context.Background(), "k", func(ctx context.Context) (Token, error) {
		t.Fatalf("should not refetch an unexpired token")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, good, tok)
}

var assertErr = fakeErr{}

type fakeErr struct{}

func (fakeErr) Error() string { return "fetch failed" }
