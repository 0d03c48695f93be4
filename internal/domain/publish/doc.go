// Package publish encodes the on-chain side of releasing a package:
// metadata note writes batched into a multicall, and the mint-or-update
// decision that turns them into a single wallet transaction.
//
// Nothing here signs or submits anything. The encoder reads the
// registry to decide which shape to build and returns calldata plus a
// target address for an external wallet to send.
package publish
