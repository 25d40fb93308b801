package card

import (
	"crypto/rand"
	"math/big"
)

const (
	alphaChars    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	numChars      = "0123456789"
	alphaNumChars = alphaChars + numChars
)

// randString generates a cryptographically random string of length
// totalLen drawn from chars. Every position is picked with
// rand.Int so the distribution over chars is uniform.
func randString(totalLen int, chars string) (string, error) {
	var (
		out = make([]byte, totalLen)
		max = big.NewInt(int64(len(chars)))
	)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = chars[n.Int64()]
	}
	return string(out), nil
}

// randInt generates a uniformly distributed integer in [0, maxExclusive)
// from a cryptographically secure source.
func randInt(maxExclusive int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxExclusive)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
