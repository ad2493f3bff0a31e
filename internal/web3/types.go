package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// TokenMetadata is what an ERC-20 contract reports about itself.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// TransferRequest moves Amount (minor units) to To. A nil Token means the
// native asset.
type TransferRequest struct {
	To     common.Address
	Token  *common.Address
	Amount *big.Int
}

// TxRequest is a raw contract call to sign and broadcast. Gas zero means
// estimate.
type TxRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}

// Reader is the read side of a chain.
type Reader interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ChainID(ctx context.Context) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	Reader
	Transfer(ctx context.Context, key *ecdsa.PrivateKey, req TransferRequest) (common.Hash, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error)
	Send(ctx context.Context, key *ecdsa.PrivateKey, req TxRequest) (common.Hash, error)
	Close()
}
