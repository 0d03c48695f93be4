package chain

import (
	"fmt"
	"math/big"
)

// Canonical deployment addresses. Overridable through configuration
// for test networks.
var (
	DefaultRegistry    = MustParseAddress("0x000000000033e5CCbC52Ec7BDa87dB768f9aA93F")
	DefaultMulticall   = MustParseAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
	DefaultAccountImpl = MustParseAddress("0x000000000012d439e33aAD99149d52A5c6f980Dc")
)

// Token-bound account operation codes.
const (
	OperationCall         uint8 = 0
	OperationDelegatecall uint8 = 1
)

var (
	selMint      = Selector("mint(address,bytes,bytes,address)")
	selNote      = Selector("note(bytes,bytes)")
	selGet       = Selector("get(bytes32)")
	selExecute   = Selector("execute(address,uint256,bytes,uint8)")
	selAggregate = Selector("aggregate((address,bytes)[])")
)

// EncodeNote encodes a note(bytes,bytes) call binding a ~key label
// to a value under the caller's namespace entry.
func EncodeNote(key string, value []byte) []byte {
	return encodeCalldata(selNote,
		dynamicArg(EncodeBytes([]byte(key))),
		dynamicArg(EncodeBytes(value)),
	)
}

// EncodeMint encodes a mint(address,bytes,bytes,address) call that
// creates a sub-entry named label, owned by who, initialized by
// running initialization against the fresh token-bound account.
func EncodeMint(who Address, label string, initialization []byte, implementation Address) []byte {
	return encodeCalldata(selMint,
		staticArg(wordAddress(who)),
		dynamicArg(EncodeBytes([]byte(label))),
		dynamicArg(EncodeBytes(initialization)),
		staticArg(wordAddress(implementation)),
	)
}

// EncodeExecute encodes an execute(address,uint256,bytes,uint8) call
// against a token-bound account.
func EncodeExecute(to Address, value *big.Int, data []byte, operation uint8) []byte {
	return encodeCalldata(selExecute,
		staticArg(wordAddress(to)),
		staticArg(wordBig(value)),
		dynamicArg(EncodeBytes(data)),
		staticArg(wordUint(uint64(operation))),
	)
}

// EncodeAggregate encodes an aggregate((address,bytes)[]) multicall.
func EncodeAggregate(calls []Call) []byte {
	return encodeCalldata(selAggregate, dynamicArg(encodeCallArray(calls)))
}

// EncodeGet encodes a get(bytes32) registry lookup for a namehash.
func EncodeGet(namehash [32]byte) []byte {
	return encodeCalldata(selGet, staticArg(namehash[:]))
}

// Entry is the registry record for one namespace node.
type Entry struct {
	TBA   Address
	Owner Address
	Data  []byte
}

// Exists reports whether the node has been minted.
func (e Entry) Exists() bool {
	return !e.TBA.IsZero()
}

// DecodeGetResult decodes the (address,address,bytes) return of a
// get(bytes32) call.
func DecodeGetResult(out []byte) (Entry, error) {
	var e Entry
	if len(out) < 96 {
		return e, fmt.Errorf("get result too short: %d bytes", len(out))
	}
	copy(e.TBA[:], out[12:32])
	copy(e.Owner[:], out[44:64])

	offset := new(big.Int).SetBytes(out[64:96])
	if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(out)) {
		return e, fmt.Errorf("get result data offset out of range")
	}
	start := offset.Uint64()
	size := new(big.Int).SetBytes(out[start : start+32])
	if !size.IsUint64() || start+32+size.Uint64() > uint64(len(out)) {
		return e, fmt.Errorf("get result data length out of range")
	}
	if n := size.Uint64(); n > 0 {
		e.Data = append([]byte{}, out[start+32:start+32+n]...)
	}
	return e, nil
}
