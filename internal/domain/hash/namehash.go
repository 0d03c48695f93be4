package hash

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
	"golang.org/x/net/idna"
)

// HashSize is the byte length of a namehash.
const HashSize = 32

// Hash is a 32-byte namehash node.
type Hash [HashSize]byte

// Hex returns the 0x-prefixed lowercase hex form.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// noteSentinel marks a note key rather than a package label. It is
// stripped before label normalization and re-prepended afterwards, so
// it participates in hashing only as content of the first label.
const noteSentinel = '~'

// Namehash derives the registry identity hash of a dotted name and
// returns it 0x-prefixed. Labels are normalized individually, split
// on ".", and folded outermost-first from a zero node:
//
//	next = keccak256(node || keccak256(label))
//
// An empty name hashes as a single empty label.
func Namehash(name string) (string, error) {
	h, err := NamehashBytes(name)
	if err != nil {
		return "", err
	}
	return h.Hex(), nil
}

// NamehashBytes is Namehash returning the raw 32-byte node.
func NamehashBytes(name string) (Hash, error) {
	labels, err := Normalize(name)
	if err != nil {
		return Hash{}, err
	}

	var node Hash
	for i := len(labels) - 1; i >= 0; i-- {
		node = Extend(node, labels[i])
	}
	return node, nil
}

// Normalize splits a dotted name into its normalized labels, in
// written order. A leading note sentinel survives normalization as
// part of the first label.
func Normalize(name string) ([]string, error) {
	note := false
	if len(name) > 0 && name[0] == noteSentinel {
		note = true
		name = name[1:]
	}

	labels := strings.Split(name, ".")
	for i, label := range labels {
		normalized, err := normalizeLabel(label)
		if err != nil {
			return nil, fmt.Errorf("invalid label %q: %w", label, err)
		}
		labels[i] = normalized
	}
	if note {
		labels[0] = string(noteSentinel) + labels[0]
	}
	return labels, nil
}

// LabelHash returns keccak256 of a single label's bytes.
func LabelHash(label string) Hash {
	var h Hash
	k := sha3.NewLegacyKeccak256()
	k.Write([]byte(label))
	k.Sum(h[:0])
	return h
}

// Extend derives a child node from a parent node and a label:
// keccak256(parent || keccak256(label)).
func Extend(parent Hash, label string) Hash {
	lh := LabelHash(label)
	var h Hash
	k := sha3.NewLegacyKeccak256()
	k.Write(parent[:])
	k.Write(lh[:])
	k.Sum(h[:0])
	return h
}

// normalizeLabel applies per-label ASCII-compatible normalization,
// matching registry-side handling so both sides agree on identity.
// Empty labels pass through untouched.
func normalizeLabel(label string) (string, error) {
	if label == "" {
		return "", nil
	}
	return idna.Lookup.ToASCII(label)
}
