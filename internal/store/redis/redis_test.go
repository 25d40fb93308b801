package redis

import (
	"log"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xqus/otpcard/internal/store"
	"github.com/xqus/otpcard/pkg/models"
)

var (
	rStore   *Redis
	rdis     *miniredis.Miniredis
	mockCard = models.Card{
		ID:     "8d969eef6eca",
		List:   "WyJhYmMxMjMiLCJkZWY0NTYiXQ==",
		Hash:   "8d969eef6ecad3c29a3a629280e686cf0c3f5d5a86aff3ca12020c923adc6c92",
		Usable: map[int]bool{0: true, 1: true},
	}
)

func init() {
	rd, err := miniredis.Run()
	if err != nil {
		log.Println(err)
	}
	rdis = rd

	port, _ := strconv.Atoi(rd.Port())
	rStore = New(Conf{
		Host: rd.Host(),
		Port: port,
	})
}

func setup(t *testing.T) *Redis {
	rdis.FlushDB()
	err := rStore.Put("myns", mockCard.ID, mockCard)
	require.NoError(t, err, "Failed to set up test card")

	t.Cleanup(func() {
		rdis.FlushDB()
	})

	return rStore
}

func TestStoreGet(t *testing.T) {
	rStore := setup(t)

	c, rev, err := rStore.Get("myns", mockCard.ID)
	assert.NoError(t, err, "Error getting card")
	assert.Equal(t, mockCard, c, "Returned card doesn't match stored card")
	assert.Equal(t, "1", rev, "Unexpected revision after first write")
}

func TestStoreGetNotExist(t *testing.T) {
	rStore := setup(t)

	_, _, err := rStore.Get("myns", "nocard")
	assert.ErrorIs(t, err, store.ErrNotExist, "Card should not exist but it does")
}

func TestStorePut(t *testing.T) {
	rStore := setup(t)

	// Overwriting bumps the revision.
	err := rStore.Put("myns", mockCard.ID, mockCard)
	assert.NoError(t, err, "Error putting card")

	_, rev, err := rStore.Get("myns", mockCard.ID)
	assert.NoError(t, err, "Error getting card")
	assert.Equal(t, "2", rev, "Unexpected revision after overwrite")
}

func TestStoreSwap(t *testing.T) {
	rStore := setup(t)

	upd := mockCard
	upd.Usable = map[int]bool{1: true}

	t.Run("current revision", func(t *testing.T) {
		err := rStore.Swap("myns", mockCard.ID, "1", upd)
		assert.NoError(t, err, "Error swapping card")

		c, rev, err := rStore.Get("myns", mockCard.ID)
		assert.NoError(t, err, "Error getting card")
		assert.Equal(t, upd.Usable, c.Usable, "Usable set wasn't updated")
		assert.Equal(t, "2", rev, "Unexpected revision after swap")
	})

	t.Run("stale revision", func(t *testing.T) {
		err := rStore.Swap("myns", mockCard.ID, "1", upd)
		assert.ErrorIs(t, err, store.ErrConflict, "Stale swap should conflict")
	})

	t.Run("missing card", func(t *testing.T) {
		err := rStore.Swap("myns", "nocard", "1", upd)
		assert.ErrorIs(t, err, store.ErrNotExist, "Swap on a missing card should fail")
	})
}
