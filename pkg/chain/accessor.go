// Package chain abstracts per-chain read/write access. One Accessor exists
// per connected network and is shared by every transfer touching that chain.
package chain

import (
	"context"
	"math/big"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
)

// TxRequest describes a transaction to submit. Nonce and fee selection are
// the accessor's responsibility.
type TxRequest struct {
	To       string
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Receipt is the confirmation result for a submitted transaction.
type Receipt struct {
	Success     bool
	BlockNumber uint64
	BlockHash   string
}

// Accessor provides balance and allowance queries, transaction submission
// and confirmation for one chain.
type Accessor interface {
	// ChainID returns the chain this accessor is connected to.
	ChainID() int64

	// GetBalance returns owner's balance of token (native or ERC-20).
	GetBalance(ctx context.Context, owner string, token bridge.Token) (*big.Int, error)

	// GetAllowance returns the ERC-20 allowance owner has granted spender.
	GetAllowance(ctx context.Context, owner, tokenAddress, spender string) (*big.Int, error)

	// Submit signs and broadcasts the transaction, returning its reference
	// as soon as the chain accepts it into the mempool.
	Submit(ctx context.Context, req TxRequest) (bridge.TxRef, error)

	// WaitForConfirmation blocks until the referenced transaction is mined
	// or ctx is done.
	WaitForConfirmation(ctx context.Context, ref bridge.TxRef) (*Receipt, error)
}
