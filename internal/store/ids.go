package store

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/sqids/sqids-go"
)

// idAlphabet is the symbol set for generated identifiers. It is shuffled once
// per process before being handed to the encoder, so identifiers are not
// predictable or comparable across restarts.
const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxIDAttempts bounds regeneration when the encoder rejects an output (its
// blocklist refuses identifiers resembling offensive words). Exhausting it
// means the sequence/salt scheme itself is broken.
const maxIDAttempts = 64

// namer generates obfuscated, process-unique object identifiers from a
// monotonic sequence and a per-identifier random salt. The salt pads out
// short early-sequence identifiers and keeps consecutive uploads from
// producing adjacent names.
type namer struct {
	enc   *sqids.Sqids
	seqno atomic.Uint64
}

func newNamer() (*namer, error) {
	alpha := []byte(idAlphabet)
	rand.Shuffle(len(alpha), func(i, j int) {
		alpha[i], alpha[j] = alpha[j], alpha[i]
	})
	enc, err := sqids.New(sqids.Options{Alphabet: string(alpha)})
	if err != nil {
		return nil, fmt.Errorf("build id encoder: %w", err)
	}
	return &namer{enc: enc}, nil
}

// next returns a fresh identifier. Each attempt consumes a sequence value so
// a blocklisted encoding is never retried with the same inputs.
func (n *namer) next() string {
	for i := 0; i < maxIDAttempts; i++ {
		seq := n.seqno.Add(1)
		salt := uint64(rand.Uint32() & 0xFFFF)
		id, err := n.enc.Encode([]uint64{seq, salt})
		if err == nil {
			return id
		}
	}
	panic(fmt.Sprintf("store: failed to generate an id after %d attempts", maxIDAttempts))
}
