package card

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// idLen is the number of hex characters of the digest used as the
// public card ID.
const idLen = 12

// encodeList canonically serializes a code list for storage: JSON for
// an unambiguous, order-preserving encoding, wrapped in base64 to keep
// the stored value free of special characters. The returned digest is
// the hex SHA-256 over the wrapped blob.
func encodeList(codes []string) (blob, digest string, err error) {
	b, err := json.Marshal(codes)
	if err != nil {
		return "", "", err
	}

	blob = base64.StdEncoding.EncodeToString(b)
	return blob, hashList(blob), nil
}

// decodeList is the inverse of encodeList. A malformed blob fails
// with ErrDecode.
func decodeList(blob string) ([]string, error) {
	b, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var codes []string
	if err := json.Unmarshal(b, &codes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return codes, nil
}

// verifyList recomputes the digest over an encoded blob and compares
// it to the stored digest. A mismatch signals corruption or tampering.
func verifyList(blob, digest string) bool {
	return hashList(blob) == digest
}

// cardID derives the public card ID from a digest. The digest depends
// only on the immutable code list, so the ID never changes over the
// card's lifetime.
func cardID(digest string) string {
	return digest[:idLen]
}

func hashList(blob string) string {
	sum := sha256.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:])
}
