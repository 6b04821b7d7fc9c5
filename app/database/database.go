package database

import (
	"sort"
	"sync"
	"time"
)

// MatchAll is the only KEYS pattern that matches anything.
const MatchAll = "*"

// Expiry triggers reported to an ExpireFunc.
const (
	ExpiredOnGet  = "get"
	ExpiredOnScan = "keys"
)

// DB is the shared keyspace. A key whose expiry has passed is treated as
// absent; it is removed on the next Get of that key or the next Keys scan.
type DB struct {
	datas    map[string]Data
	mu       sync.RWMutex
	now      func() time.Time
	onExpire ExpireFunc
}

// Data is a stored value. A zero ExpiresAt means the key never expires.
type Data struct {
	Value     string
	ExpiresAt time.Time
}

// ExpireFunc is told how many expired keys were reclaimed and by which trigger.
type ExpireFunc func(trigger string, n int)

type Option func(*DB)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// WithExpireFunc registers fn to observe reclaimed keys.
func WithExpireFunc(fn ExpireFunc) Option {
	return func(d *DB) {
		d.onExpire = fn
	}
}

func NewString(value string, expiresAt time.Time) Data {
	return Data{
		Value:     value,
		ExpiresAt: expiresAt,
	}
}

// Expired reports whether d is logically absent at now.
func (d Data) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

func NewDB(opts ...Option) *DB {
	return NewFromLoad(nil, opts...)
}

// NewFromLoad builds a DB that takes ownership of datas.
func NewFromLoad(datas map[string]Data, opts ...Option) *DB {
	if datas == nil {
		datas = make(map[string]Data)
	}
	d := &DB{
		datas: datas,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Set stores value under key without expiry, clearing any previous TTL.
func (d *DB) Set(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.datas[key] = NewString(value, time.Time{})
}

// SetWithExpire stores value under key, expiring ttl after now.
// A zero ttl makes the key absent to the next read.
func (d *DB) SetWithExpire(key, value string, ttl time.Duration) {
	expiresAt := d.now().Add(ttl)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.datas[key] = NewString(value, expiresAt)
}

// Get returns the live value for key. An expired entry is removed before
// Get returns.
func (d *DB) Get(key string) (string, bool) {
	now := d.now()
	d.mu.RLock()
	data, ok := d.datas[key]
	d.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !data.Expired(now) {
		return data.Value, true
	}

	d.mu.Lock()
	// the key may have been rewritten between the two critical sections
	removed := 0
	if cur, ok := d.datas[key]; ok && cur.Expired(now) {
		delete(d.datas, key)
		removed = 1
	}
	d.mu.Unlock()
	d.expired(ExpiredOnGet, removed)
	return "", false
}

// Keys returns the live keys in lexicographic order when pattern is "*",
// and no keys for any other pattern. Expired entries seen by the scan are
// removed in one batch.
func (d *DB) Keys(pattern string) []string {
	now := d.now()
	live := make([]string, 0)
	var expired []string

	d.mu.RLock()
	for key, data := range d.datas {
		if data.Expired(now) {
			expired = append(expired, key)
			continue
		}
		live = append(live, key)
	}
	d.mu.RUnlock()

	if len(expired) > 0 {
		removed := 0
		d.mu.Lock()
		for _, key := range expired {
			if cur, ok := d.datas[key]; ok && cur.Expired(now) {
				delete(d.datas, key)
				removed++
			}
		}
		d.mu.Unlock()
		d.expired(ExpiredOnScan, removed)
	}

	if pattern != MatchAll {
		return []string{}
	}
	sort.Strings(live)
	return live
}

// Len counts stored entries, including expired ones not yet reclaimed.
func (d *DB) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.datas)
}

func (d *DB) expired(trigger string, n int) {
	if n > 0 && d.onExpire != nil {
		d.onExpire(trigger, n)
	}
}
