package endpoint

import (
	"encoding/binary"

	uuid "github.com/hashicorp/go-uuid"
)

// newGUID draws 8 random bytes through hashicorp/go-uuid's general-purpose
// random source (rather than a bare crypto/rand call) and truncates them
// to the 64-bit opaque identifier every peer and endpoint carries.
func newGUID() (uint64, error) {
	b, err := uuid.GenerateRandomBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
