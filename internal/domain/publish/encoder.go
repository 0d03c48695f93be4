package publish

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/kinode-dao/storekeeper/internal/chain"
	"github.com/kinode-dao/storekeeper/internal/domain/hash"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Note keys the publish flow writes under a package entry.
const (
	NoteMetadataURI  = "~metadata-uri"
	NoteMetadataHash = "~metadata-hash"
)

var (
	// ErrNotOwner means the package entry exists on chain but belongs
	// to a different wallet than the one publishing.
	ErrNotOwner = errors.New("package entry is owned by another wallet")

	// ErrNoPublisherIdentity means neither the package nor its
	// publisher has an on-chain identity to mint from.
	ErrNoPublisherIdentity = errors.New("publisher identity not found on chain")
)

// RegistryReader reads namespace entries by namehash.
type RegistryReader interface {
	Get(ctx context.Context, namehash [32]byte) (chain.Entry, error)
}

// Kind distinguishes the two publish transaction shapes.
type Kind string

const (
	KindMint   Kind = "mint"
	KindUpdate Kind = "update"
)

// Tx is an unsigned transaction for a wallet to submit.
type Tx struct {
	Kind Kind
	To   chain.Address
	Data []byte
}

// Encoder builds publish calldata against a fixed set of contract
// deployments.
type Encoder struct {
	registry    chain.Address
	multicall   chain.Address
	accountImpl chain.Address
}

// NewEncoder creates an encoder for the given deployments.
func NewEncoder(registry, multicall, accountImpl chain.Address) *Encoder {
	return &Encoder{
		registry:    registry,
		multicall:   multicall,
		accountImpl: accountImpl,
	}
}

// EncodeMulticall batches the two metadata note writes into one
// aggregate payload. The URI note always precedes the hash note so
// the output is deterministic.
func (e *Encoder) EncodeMulticall(metadataURI, metadataHash string) []byte {
	calls := []chain.Call{
		{Target: e.registry, CallData: chain.EncodeNote(NoteMetadataURI, []byte(metadataURI))},
		{Target: e.registry, CallData: chain.EncodeNote(NoteMetadataHash, []byte(metadataHash))},
	}
	return chain.EncodeAggregate(calls)
}

// EncodeMintOrUpdate turns prior registry reads into a transaction.
//
// When the package entry exists and the publishing wallet owns it,
// the notes are applied directly: the package account delegatecalls
// the multicall aggregator (operation 1). Otherwise a fresh entry is
// minted under the publisher's account: the multicall becomes the
// init call of a mint, and the publisher account calls the registry
// plainly (operation 0).
func (e *Encoder) EncodeMintOrUpdate(
	pkg types.PackageID,
	wallet chain.Address,
	packageEntry, publisherEntry chain.Entry,
	metadataURI, metadataHash string,
) (Tx, error) {
	if wallet.IsZero() {
		return Tx{}, fmt.Errorf("publish %s: wallet address required", pkg)
	}

	multicalls := e.EncodeMulticall(metadataURI, metadataHash)

	if packageEntry.Exists() {
		if packageEntry.Owner != wallet {
			return Tx{}, fmt.Errorf("publish %s: %w", pkg, ErrNotOwner)
		}
		return Tx{
			Kind: KindUpdate,
			To:   packageEntry.TBA,
			Data: chain.EncodeExecute(e.multicall, big.NewInt(0), multicalls, chain.OperationDelegatecall),
		}, nil
	}

	if !publisherEntry.Exists() {
		return Tx{}, fmt.Errorf("publish %s: %w", pkg, ErrNoPublisherIdentity)
	}

	init := chain.EncodeExecute(e.multicall, big.NewInt(0), multicalls, chain.OperationDelegatecall)
	mint := chain.EncodeMint(wallet, pkg.Name, init, e.accountImpl)
	return Tx{
		Kind: KindMint,
		To:   publisherEntry.TBA,
		Data: chain.EncodeExecute(e.registry, big.NewInt(0), mint, chain.OperationCall),
	}, nil
}

// Prepare resolves the package and publisher identities and encodes
// the publish transaction. The publisher entry is only read when the
// package entry cannot be updated in place.
func (e *Encoder) Prepare(
	ctx context.Context,
	reader RegistryReader,
	pkg types.PackageID,
	wallet chain.Address,
	metadataURI, metadataHash string,
) (Tx, error) {
	pkgNode, err := hash.NamehashBytes(pkg.Entry())
	if err != nil {
		return Tx{}, fmt.Errorf("hash package identity: %w", err)
	}
	pkgEntry, err := reader.Get(ctx, pkgNode)
	if err != nil {
		return Tx{}, fmt.Errorf("read package entry: %w", err)
	}

	var pubEntry chain.Entry
	if !pkgEntry.Exists() {
		pubNode, err := hash.NamehashBytes(pkg.Publisher)
		if err != nil {
			return Tx{}, fmt.Errorf("hash publisher identity: %w", err)
		}
		pubEntry, err = reader.Get(ctx, pubNode)
		if err != nil {
			return Tx{}, fmt.Errorf("read publisher entry: %w", err)
		}
	}

	return e.EncodeMintOrUpdate(pkg, wallet, pkgEntry, pubEntry, metadataURI, metadataHash)
}
