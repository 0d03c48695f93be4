// Package hash derives on-chain identity hashes for dotted package
// names.
//
// Every entry in the registry is identified by a 32-byte namehash
// built Merkle-style from its dotted name: the outermost label is
// hashed first and each child label extends its parent's hash. The
// same fold runs on-chain, so client and registry agree on the
// identity of any name without coordination.
//
// Components:
//   - Namehash: full dotted-name identity hash
//   - LabelHash: keccak256 of one label
//   - Extend: child derivation from a parent hash
//
// Example Usage:
//
//	node, err := hash.Namehash("chat.alice.os")
//	note, err := hash.Namehash("~metadata-uri.chat.alice.os")
package hash
