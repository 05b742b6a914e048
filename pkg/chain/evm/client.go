// Package evm implements chain.Accessor for EVM-compatible networks over
// a JSON-RPC endpoint.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/chain"
)

// ERC-20 function selectors, keccak256 of the canonical signatures.
var (
	selBalanceOf = common.Hex2Bytes("70a08231") // balanceOf(address)
	selAllowance = common.Hex2Bytes("dd62ed3e") // allowance(address,address)
)

// Config holds the connection settings for one EVM chain.
type Config struct {
	ChainID         int64
	RPCURL          string
	PrivateKey      string
	GasLimit        uint64
	MaxGasPrice     *big.Int
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
}

// Client is a chain.Accessor backed by go-ethereum's ethclient.
type Client struct {
	cfg        Config
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger
}

var _ chain.Accessor = (*Client)(nil)

// NewClient connects to the chain's RPC endpoint and loads the signing key.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d RPC: %w", cfg.ChainID, err)
	}

	privateKey, err := crypto.HexToECDSA(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 3 * time.Second
	}

	logger.Info("Connected to EVM chain",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("signer", address.Hex()))

	return &Client{
		cfg:        cfg,
		client:     client,
		privateKey: privateKey,
		address:    address,
		logger:     logger,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.client.Close()
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() int64 {
	return c.cfg.ChainID
}

// Address returns the signer address used for submissions.
func (c *Client) Address() string {
	return c.address.Hex()
}

// GetBalance returns owner's balance of token. Native assets are read from
// the account state, ERC-20 balances via eth_call.
func (c *Client) GetBalance(ctx context.Context, owner string, token bridge.Token) (*big.Int, error) {
	if token.Native {
		bal, err := c.client.BalanceAt(ctx, common.HexToAddress(owner), nil)
		if err != nil {
			return nil, bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhaseSubmit, err)
		}
		return bal, nil
	}

	data := append(append([]byte{}, selBalanceOf...), common.LeftPadBytes(common.HexToAddress(owner).Bytes(), 32)...)
	out, err := c.call(ctx, token.Address, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// GetAllowance returns the ERC-20 allowance owner granted spender.
func (c *Client) GetAllowance(ctx context.Context, owner, tokenAddress, spender string) (*big.Int, error) {
	data := append([]byte{}, selAllowance...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(owner).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(spender).Bytes(), 32)...)

	out, err := c.call(ctx, tokenAddress, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

func (c *Client) call(ctx context.Context, to string, data []byte) ([]byte, error) {
	target := common.HexToAddress(to)
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhasePoll, err)
	}
	return out, nil
}

// Submit signs and broadcasts req, returning the transaction hash.
func (c *Client) Submit(ctx context.Context, req chain.TxRequest) (bridge.TxRef, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhaseSubmit, err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", bridge.NewError(bridge.CodeBackendUnreachable, bridge.PhaseSubmit, err)
	}
	if c.cfg.MaxGasPrice != nil && gasPrice.Cmp(c.cfg.MaxGasPrice) > 0 {
		c.logger.Warn("Suggested gas price exceeds maximum, capping",
			zap.Int64("chain_id", c.cfg.ChainID),
			zap.String("suggested", gasPrice.String()),
			zap.String("max", c.cfg.MaxGasPrice.String()))
		gasPrice = c.cfg.MaxGasPrice
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = c.cfg.GasLimit
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	to := common.HexToAddress(req.To)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signer := types.LatestSignerForChainID(big.NewInt(c.cfg.ChainID))
	signed, err := types.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", bridge.NewError(bridge.CodeSubmissionRejected, bridge.PhaseSubmit, err)
	}

	c.logger.Debug("Transaction submitted",
		zap.Int64("chain_id", c.cfg.ChainID),
		zap.String("hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce))

	return bridge.TxRef(signed.Hash().Hex()), nil
}

// WaitForConfirmation polls for the receipt until the transaction is mined
// or ctx expires.
func (c *Client) WaitForConfirmation(ctx context.Context, ref bridge.TxRef) (*chain.Receipt, error) {
	if c.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
	}

	hash := common.HexToHash(string(ref))
	ticker := time.NewTicker(c.cfg.ConfirmInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &chain.Receipt{
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
				BlockNumber: receipt.BlockNumber.Uint64(),
				BlockHash:   receipt.BlockHash.Hex(),
			}, nil
		}
		if err != ethereum.NotFound {
			c.logger.Debug("Receipt lookup failed, retrying",
				zap.String("hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, bridge.NewError(bridge.CodeTimeout, bridge.PhaseSubmit, ctx.Err())
		case <-ticker.C:
		}
	}
}
