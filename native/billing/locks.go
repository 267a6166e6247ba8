package billing

import (
	"sort"
	"sync"
)

// Lock classes are always acquired in ascending order: a ticket before any
// event-level row, and rows before token accounts.
type lockClass uint8

const (
	classTicket lockClass = iota
	classRow
	classAccount
)

type lockKey struct {
	class lockClass
	id    string
}

func ticketLock(event [20]byte, ticket [32]byte) lockKey {
	return lockKey{class: classTicket, id: string(event[:]) + string(ticket[:])}
}

func eventLock(event [20]byte) lockKey {
	return lockKey{class: classRow, id: "event:" + string(event[:])}
}

func registryLock() lockKey {
	return lockKey{class: classRow, id: "registry"}
}

func statsLock(event [20]byte) lockKey {
	return lockKey{class: classRow, id: "stats:" + string(event[:])}
}

func escrowRowLock(event, beneficiary [20]byte) lockKey {
	return lockKey{class: classRow, id: "escrow:" + string(event[:]) + string(beneficiary[:])}
}

func accountLock(currency string, account [20]byte) lockKey {
	return lockKey{class: classAccount, id: normalizeCurrency(currency) + ":" + string(account[:])}
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out per-key mutexes. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[lockKey]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[lockKey]*lockEntry)}
}

func sortKeys(keys []lockKey) []lockKey {
	sorted := append([]lockKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].class != sorted[j].class {
			return sorted[i].class < sorted[j].class
		}
		return sorted[i].id < sorted[j].id
	})
	out := sorted[:0]
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		out = append(out, key)
	}
	return out
}

// acquire locks every key in canonical order and returns the matching release
// function. Callers that already hold keys must only request keys that sort
// after them.
func (t *lockTable) acquire(keys ...lockKey) func() {
	ordered := sortKeys(keys)
	entries := make([]*lockEntry, len(ordered))
	t.mu.Lock()
	for i, key := range ordered {
		entry, ok := t.locks[key]
		if !ok {
			entry = &lockEntry{}
			t.locks[key] = entry
		}
		entry.refs++
		entries[i] = entry
	}
	t.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
	}
	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		t.mu.Lock()
		for i, key := range ordered {
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(t.locks, key)
			}
		}
		t.mu.Unlock()
	}
}
