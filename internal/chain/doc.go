// Package chain encodes calls against the on-chain namespace registry
// and reads entries back over JSON-RPC.
//
// The encoders cover the small contract surface the agent touches:
// minting namespace entries, writing ~note keys, batching through a
// multicall aggregator, and driving token-bound accounts via execute.
// Encoding is plain ABI assembly; no transaction signing happens here,
// since callers hand the calldata to a wallet for submission.
package chain
