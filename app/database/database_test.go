package database

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSetGet(t *testing.T) {
	db := NewDB()
	_, ok := db.Get("missing")
	require.False(t, ok)

	db.Set("k", "a")
	db.Set("k", "b")
	v, ok := db.Get("k")
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestSetWithExpire(t *testing.T) {
	db := NewDB()
	db.SetWithExpire("gone", "v", 0)
	_, ok := db.Get("gone")
	require.False(t, ok)

	db.SetWithExpire("kept", "v", 100*time.Second)
	v, ok := db.Get("kept")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestSetClearsExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	db := NewDB(WithClock(clock.Now))
	db.SetWithExpire("k", "a", time.Second)
	db.Set("k", "b")
	clock.Advance(time.Hour)

	v, ok := db.Get("k")
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestExpiryBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	db := NewDB(WithClock(clock.Now))
	db.SetWithExpire("k", "v", 100*time.Millisecond)

	clock.Advance(99 * time.Millisecond)
	_, ok := db.Get("k")
	require.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = db.Get("k")
	require.False(t, ok)
}

func TestGetRemovesExpiredKey(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var reclaimed []string
	db := NewDB(WithClock(clock.Now), WithExpireFunc(func(trigger string, n int) {
		reclaimed = append(reclaimed, fmt.Sprintf("%s:%d", trigger, n))
	}))
	db.SetWithExpire("k", "v", time.Second)
	db.Set("other", "v")
	clock.Advance(2 * time.Second)

	require.Equal(t, 2, db.Len())
	_, ok := db.Get("k")
	require.False(t, ok)
	require.Equal(t, 1, db.Len())
	require.Equal(t, []string{"other"}, db.Keys(MatchAll))
	require.Equal(t, []string{"get:1"}, reclaimed)
}

func TestKeys(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var reclaimed int
	db := NewDB(WithClock(clock.Now), WithExpireFunc(func(trigger string, n int) {
		require.Equal(t, ExpiredOnScan, trigger)
		reclaimed += n
	}))
	db.Set("pear", "1")
	db.Set("apple", "2")
	db.Set("fig", "3")
	db.SetWithExpire("banana", "4", time.Second)
	db.SetWithExpire("cherry", "5", time.Second)
	db.SetWithExpire("date", "6", time.Hour)
	clock.Advance(time.Minute)

	require.Equal(t, []string{"apple", "date", "fig", "pear"}, db.Keys(MatchAll))
	require.Equal(t, 2, reclaimed)
	require.Equal(t, 4, db.Len())
}

func TestKeysNonWildcard(t *testing.T) {
	db := NewDB()
	db.Set("foo", "bar")
	keys := db.Keys("foo")
	require.NotNil(t, keys)
	require.Empty(t, keys)
	require.Empty(t, db.Keys("f*"))
}

func TestKeysEmpty(t *testing.T) {
	keys := NewDB().Keys(MatchAll)
	require.NotNil(t, keys)
	require.Empty(t, keys)
}

func TestNewFromLoad(t *testing.T) {
	db := NewFromLoad(map[string]Data{
		"a": NewString("1", time.Time{}),
		"b": NewString("2", time.Now().Add(time.Hour)),
	})
	require.Equal(t, []string{"a", "b"}, db.Keys(MatchAll))
	v, ok := db.Get("b")
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestConcurrentDistinctKeys(t *testing.T) {
	const n = 200
	db := NewDB()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db.Set(fmt.Sprintf("key-%03d", i), fmt.Sprintf("value-%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, ok := db.Get(fmt.Sprintf("key-%03d", i))
			require.True(t, ok)
			require.Equal(t, fmt.Sprintf("value-%d", i), v)
		}(i)
	}
	wg.Wait()
	require.Len(t, db.Keys(MatchAll), n)
}

func TestConcurrentSameKey(t *testing.T) {
	const n = 100
	db := NewDB()
	written := make(map[string]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		v := fmt.Sprintf("writer-%d-%s", i, string(make([]byte, i)))
		written[v] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			if len(v)%2 == 0 {
				db.Set("shared", v)
			} else {
				db.SetWithExpire("shared", v, time.Hour)
			}
			db.Get("shared")
			db.Keys(MatchAll)
		}()
	}
	wg.Wait()

	v, ok := db.Get("shared")
	require.True(t, ok)
	require.True(t, written[v], "value %q was never written", v)
	require.Equal(t, 1, db.Len())
}
