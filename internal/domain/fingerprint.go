package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// DeploymentTrigger is a content-derived value that changes whenever the
// API definition changes. It is the hex SHA-256 of the canonical member
// stream.
type DeploymentTrigger string

// EmptyTrigger is the trigger of a definition with no members.
const EmptyTrigger DeploymentTrigger = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Short returns an abbreviated trigger for log lines and messages.
func (t DeploymentTrigger) Short() string {
	if len(t) > 12 {
		return string(t[:12])
	}
	return string(t)
}

// Fingerprint computes the deployment trigger of def. Members are
// canonicalized into (kind/identifier, digest) pairs sorted by
// identifier, each field length-prefixed, then hashed; the declaration
// order of def has no effect on the result.
func Fingerprint(def ApiDefinition) DeploymentTrigger {
	members := make([]DefinitionEntry, len(def.Members))
	copy(members, def.Members)
	sort.Slice(members, func(i, j int) bool {
		if members[i].key() != members[j].key() {
			return members[i].key() < members[j].key()
		}
		return members[i].Digest < members[j].Digest
	})

	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	for _, m := range members {
		write(m.key())
		write(m.Digest)
	}
	return DeploymentTrigger(hex.EncodeToString(h.Sum(nil)))
}
