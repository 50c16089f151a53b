// Package session runs citizen conversations: one question in, one sanitized
// DisplayMessage out, with a per-conversation ledger of events already shown.
package session

import (
	"sort"
	"strings"
)

// Ledger is the set of "<lowercased title>+<YYYY-MM-DD>" keys shown in one
// conversation. It is not safe for concurrent use; the Controller serializes
// access per conversation.
type Ledger struct {
	keys map[string]struct{}
}

// NewLedger returns a ledger seeded with keys.
func NewLedger(keys ...string) *Ledger {
	l := &Ledger{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		l.Add(k)
	}
	return l
}

func (l *Ledger) Has(key string) bool {
	_, ok := l.keys[key]
	return ok
}

func (l *Ledger) Add(key string) {
	if key == "" {
		return
	}
	if l.keys == nil {
		l.keys = make(map[string]struct{})
	}
	l.keys[key] = struct{}{}
}

// Len returns the number of keys.
func (l *Ledger) Len() int { return len(l.keys) }

// Reset forgets every key.
func (l *Ledger) Reset() { clear(l.keys) }

// Keys returns all keys in lexical order.
func (l *Ledger) Keys() []string {
	out := make([]string, 0, len(l.keys))
	for k := range l.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Titles returns the distinct (lowercased) titles the ledger holds, sorted.
func (l *Ledger) Titles() []string {
	set := make(map[string]struct{})
	for k := range l.keys {
		i := strings.LastIndexByte(k, '+')
		if i <= 0 {
			continue
		}
		set[k[:i]] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
