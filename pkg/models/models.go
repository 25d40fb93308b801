package models

// Card is the stored form of a pre-shared one-time-password card.
// The code list is kept canonically encoded (JSON wrapped in base64)
// along with a digest over the encoded value. The digest only detects
// storage corruption or tampering on load; it is not a secret.
type Card struct {
	// ID is the first 12 hex characters of Hash. Since the code list
	// never changes after creation, the ID is stable for the card's
	// whole lifetime.
	ID string `redis:"id" json:"id"`

	// List is the base64-wrapped JSON encoding of the ordered code list.
	List string `redis:"list" json:"list"`

	// Hash is the hex SHA-256 digest of List.
	Hash string `redis:"hash" json:"hash"`

	// Usable maps code indices that have not been redeemed yet to true.
	// An index absent from the map has been consumed and can never
	// become usable again.
	Usable map[int]bool `redis:"-" json:"usable"`
}

// Remaining returns the number of unredeemed codes on the card.
func (c Card) Remaining() int {
	return len(c.Usable)
}
