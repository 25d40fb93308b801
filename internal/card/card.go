// Package card implements pre-shared one-time-password cards: fixed
// lists of random codes saved against an opaque ID, where each code can
// be redeemed as a second factor exactly once.
package card

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"

	"github.com/xqus/otpcard/internal/store"
	"github.com/xqus/otpcard/pkg/models"
)

// Namespace is the store collection cards are saved under.
const Namespace = "otp-card"

// Defaults applied by Create() when a size is not given.
const (
	DefaultCodeLen  = 6
	DefaultNumCodes = 64
)

var (
	// ErrIntegrity is thrown when a stored card's digest does not match
	// the digest recomputed over its encoded code list. The record is
	// treated as corrupt or tampered with and is never auto-repaired.
	ErrIntegrity = errors.New("card data failed integrity check")

	// ErrDecode is thrown when a stored card's encoded code list is
	// malformed.
	ErrDecode = errors.New("card data is malformed")

	// ErrExhausted is thrown by Select() when a card has no usable
	// codes left.
	ErrExhausted = errors.New("card has no usable codes left")
)

// Service owns the business rules of card issuance and redemption.
// All durable state lives behind the injected Store; the service never
// mutates a record except through full load-modify-save cycles.
type Service struct {
	store store.Store
}

// loaded is the decoded, working form of a stored card.
type loaded struct {
	codes []string
	card  models.Card
	rev   string
}

// New returns a Service backed by the given store.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// Create generates a card of num fresh random codes of length codeLen,
// persists it, and returns the derived card ID. Non-positive sizes fall
// back to the defaults.
func (s *Service) Create(codeLen, num int) (string, error) {
	if codeLen < 1 {
		codeLen = DefaultCodeLen
	}
	if num < 1 {
		num = DefaultNumCodes
	}

	var (
		codes  = make([]string, num)
		usable = make(map[int]bool, num)
	)
	for i := 0; i < num; i++ {
		c, err := randString(codeLen, alphaNumChars)
		if err != nil {
			return "", fmt.Errorf("error generating code: %w", err)
		}
		codes[i] = c
		usable[i] = true
	}

	blob, digest, err := encodeList(codes)
	if err != nil {
		return "", err
	}

	c := models.Card{
		ID:     cardID(digest),
		List:   blob,
		Hash:   digest,
		Usable: usable,
	}
	if err := s.store.Put(Namespace, c.ID, c); err != nil {
		return "", err
	}
	return c.ID, nil
}

// Select picks a random usable index on the card as a hint for the
// caller to challenge the user with. It does not reserve the index:
// two concurrent calls may return the same one, and Validate() is what
// arbitrates consumption.
func (s *Service) Select(id string) (int, error) {
	l, err := s.load(id)
	if err != nil {
		return 0, err
	}

	avail := usableIndices(l.card.Usable)
	if len(avail) == 0 {
		return 0, ErrExhausted
	}

	n, err := randInt(len(avail))
	if err != nil {
		return 0, err
	}
	return avail[n], nil
}

// Validate redeems the code at the given index. It returns true and
// consumes the index only if the index is still usable and the supplied
// code matches exactly; any mismatch returns false without touching the
// stored card. The consume is committed with a compare-and-swap write
// and the whole cycle retried on conflict, so concurrent calls for the
// same index let exactly one caller through.
func (s *Service) Validate(id string, index int, code string) (bool, error) {
	for {
		l, err := s.load(id)
		if err != nil {
			return false, err
		}

		if index < 0 || index >= len(l.codes) || !l.card.Usable[index] {
			return false, nil
		}
		if subtle.ConstantTimeCompare([]byte(l.codes[index]), []byte(code)) != 1 {
			return false, nil
		}

		delete(l.card.Usable, index)
		if err := s.save(l); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Another writer got in between the load and the save.
				// Redo the cycle against the fresh record.
				continue
			}
			return false, err
		}
		return true, nil
	}
}

// Remaining returns the number of unredeemed codes on the card.
func (s *Service) Remaining(id string) (int, error) {
	l, err := s.load(id)
	if err != nil {
		return 0, err
	}
	return l.card.Remaining(), nil
}

// load reads a card from the store and verifies its digest before
// decoding the code list. store.ErrNotExist propagates as-is.
func (s *Service) load(id string) (loaded, error) {
	c, rev, err := s.store.Get(Namespace, id)
	if err != nil {
		return loaded{}, err
	}

	if !verifyList(c.List, c.Hash) {
		return loaded{}, ErrIntegrity
	}

	codes, err := decodeList(c.List)
	if err != nil {
		return loaded{}, err
	}

	return loaded{codes: codes, card: c, rev: rev}, nil
}

// save re-encodes the code list, recomputes the digest and ID, and
// commits the record conditionally on the revision read by load().
// The code list never changes, so the recomputation is idempotent and
// the ID stays stable.
func (s *Service) save(l loaded) error {
	blob, digest, err := encodeList(l.codes)
	if err != nil {
		return err
	}

	c := models.Card{
		ID:     cardID(digest),
		List:   blob,
		Hash:   digest,
		Usable: l.card.Usable,
	}
	return s.store.Swap(Namespace, c.ID, l.rev, c)
}

// usableIndices returns the usable indices of a card in ascending
// order.
func usableIndices(usable map[int]bool) []int {
	out := make([]int, 0, len(usable))
	for i := range usable {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
