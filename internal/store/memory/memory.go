package memory

import (
	"strconv"
	"sync"

	"github.com/xqus/otpcard/internal/store"
	"github.com/xqus/otpcard/pkg/models"
)

// Memory implements an in-process Store. It is the reference adapter
// used in tests and in embedded setups that don't want to run Redis.
type Memory struct {
	mu    sync.Mutex
	cards map[string]entry
}

type entry struct {
	card models.Card
	rev  int64
}

// New returns an in-memory implementation of store.
func New() *Memory {
	return &Memory{
		cards: map[string]entry{},
	}
}

// Ping is a no-op; the store is always reachable.
func (m *Memory) Ping() error {
	return nil
}

// Get retrieves the card saved against an ID.
func (m *Memory) Get(namespace, id string) (models.Card, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.cards[makeKey(namespace, id)]
	if !ok {
		return models.Card{}, "", store.ErrNotExist
	}
	return copyCard(e.card), strconv.FormatInt(e.rev, 10), nil
}

// Put writes a card against an ID, overwriting any existing record.
func (m *Memory) Put(namespace, id string, c models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := makeKey(namespace, id)
	m.cards[key] = entry{card: copyCard(c), rev: m.cards[key].rev + 1}
	return nil
}

// Swap writes a card against an ID only if the record is unchanged
// since it was read at revision rev.
func (m *Memory) Swap(namespace, id, rev string, c models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := makeKey(namespace, id)
	e, ok := m.cards[key]
	if !ok {
		return store.ErrNotExist
	}
	if strconv.FormatInt(e.rev, 10) != rev {
		return store.ErrConflict
	}

	m.cards[key] = entry{card: copyCard(c), rev: e.rev + 1}
	return nil
}

func makeKey(namespace, id string) string {
	return namespace + ":" + id
}

// copyCard deep-copies the usable set so callers never share the
// stored map.
func copyCard(c models.Card) models.Card {
	usable := make(map[int]bool, len(c.Usable))
	for k, v := range c.Usable {
		usable[k] = v
	}
	c.Usable = usable
	return c
}
