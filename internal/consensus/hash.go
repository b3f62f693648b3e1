package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"agrocycle/internal/outcome"
)

// StableHash is sha256(seed || decimal(cycleID)) read as a big-endian uint64
// from the last 8 bytes of the digest.
func StableHash(seed string, cycleID int64) uint64 {
	sum := sha256.Sum256([]byte(seed + strconv.FormatInt(cycleID, 10)))
	return binary.BigEndian.Uint64(sum[len(sum)-8:])
}

// TieBreak resolves a dead-zone score: GOOD when the hash is odd.
func TieBreak(seed string, cycleID int64) (outcome.Outcome, error) {
	if seed == "" {
		return "", ErrTieBreakUnavailable
	}
	if StableHash(seed, cycleID)%2 == 1 {
		return outcome.Good, nil
	}
	return outcome.Bad, nil
}
