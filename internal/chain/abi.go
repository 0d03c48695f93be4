package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Address is a 20-byte contract or account address.
type Address [20]byte

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	h := strings.TrimPrefix(s, "0x")
	if len(h) != 40 {
		return a, fmt.Errorf("invalid address length %q", s)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

// MustParseAddress parses a known-good address and panics otherwise.
// Reserved for package constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Hex returns the EIP-55 checksummed form.
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])
	sum := Keccak256([]byte(lower))
	out := make([]byte, 40)
	for i, c := range []byte(lower) {
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Keccak256 hashes the concatenation of its arguments.
func Keccak256(data ...[]byte) []byte {
	k := sha3.NewLegacyKeccak256()
	for _, d := range data {
		k.Write(d)
	}
	return k.Sum(nil)
}

// Selector returns the 4-byte function selector for a canonical
// signature such as "mint(address,bytes,bytes,address)".
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], Keccak256([]byte(signature)))
	return sel
}

// FromHex decodes 0x-prefixed hex into bytes.
func FromHex(s string) ([]byte, error) {
	h := strings.TrimPrefix(s, "0x")
	if len(h)%2 == 1 {
		h = "0" + h
	}
	return hex.DecodeString(h)
}

// ToHex encodes bytes as 0x-prefixed lowercase hex.
func ToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// wordUint encodes a uint64 as a 32-byte big-endian word.
func wordUint(n uint64) []byte {
	w := make([]byte, 32)
	binary.BigEndian.PutUint64(w[24:], n)
	return w
}

// wordBig encodes a non-negative big integer as a 32-byte word.
func wordBig(v *big.Int) []byte {
	w := make([]byte, 32)
	if v != nil {
		v.FillBytes(w)
	}
	return w
}

// wordAddress left-pads an address to a 32-byte word.
func wordAddress(a Address) []byte {
	w := make([]byte, 32)
	copy(w[12:], a[:])
	return w
}

// padRight pads data to the next 32-byte boundary.
func padRight(b []byte) []byte {
	if rem := len(b) % 32; rem != 0 {
		return append(b, make([]byte, 32-rem)...)
	}
	return b
}

// EncodeBytes encodes a dynamic bytes value: a length word followed
// by the padded content.
func EncodeBytes(b []byte) []byte {
	return append(wordUint(uint64(len(b))), padRight(append([]byte{}, b...))...)
}

// arg is one ABI argument: either a single static head word or a
// dynamic tail blob referenced by offset.
type arg struct {
	word    []byte
	blob    []byte
	dynamic bool
}

func staticArg(word []byte) arg { return arg{word: word} }
func dynamicArg(blob []byte) arg {
	return arg{blob: blob, dynamic: true}
}

// encodeCalldata assembles selector, head words, and dynamic tails.
// Dynamic offsets are measured from the start of the argument block.
func encodeCalldata(sel [4]byte, args ...arg) []byte {
	out := append([]byte{}, sel[:]...)
	tailOffset := len(args) * 32
	var tails []byte
	for _, a := range args {
		if a.dynamic {
			out = append(out, wordUint(uint64(tailOffset))...)
			tails = append(tails, a.blob...)
			tailOffset += len(a.blob)
		} else {
			out = append(out, a.word...)
		}
	}
	return append(out, tails...)
}

// Call is one target invocation inside a batched multicall.
type Call struct {
	Target   Address
	CallData []byte
}

// encodeCallArray encodes a (address,bytes)[] value. Every element
// is a dynamic tuple, so the array body is element offsets followed
// by the tuple encodings.
func encodeCallArray(calls []Call) []byte {
	body := wordUint(uint64(len(calls)))

	var elems [][]byte
	for _, c := range calls {
		// Tuple head: address word and the offset of the bytes
		// field within the tuple (always 0x40 for two fields).
		elem := wordAddress(c.Target)
		elem = append(elem, wordUint(64)...)
		elem = append(elem, EncodeBytes(c.CallData)...)
		elems = append(elems, elem)
	}

	offset := len(calls) * 32
	for _, elem := range elems {
		body = append(body, wordUint(uint64(offset))...)
		offset += len(elem)
	}
	for _, elem := range elems {
		body = append(body, elem...)
	}
	return body
}
