// Package blockchain implements the chain-facing ports on go-ethereum's
// RPC client: simulation, submission, receipt confirmation, ERC-1271
// validation and the confirmed-log listener.
package blockchain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/usecase"
)

// fallbackGasLimit is used for submission when the proposal carries no gas
// limit and estimation fails.
const fallbackGasLimit = 1_500_000

// Client is the usecase.ChainClient and approval.ERC1271Caller backed by
// an RPC endpoint.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	relayer *ecdsa.PrivateKey
	from    common.Address
	cfg     *config.RuntimeConfig
	log     *slog.Logger
}

// NewClient dials the configured RPC endpoint and verifies its chain id.
func NewClient(ctx context.Context, cfg *config.RuntimeConfig, log *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("rpc chain id %d does not match configured %d", chainID, cfg.ChainID)
	}

	c := &Client{
		eth:     eth,
		chainID: chainID,
		cfg:     cfg,
		log:     log.With("component", "ChainClient"),
	}

	if cfg.RelayerKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.RelayerKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse relayer key: %w", err)
		}
		c.relayer = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Eth exposes the underlying RPC client to sibling adapters.
func (c *Client) Eth() *ethclient.Client { return c.eth }

// Simulate dry-runs each operation of the proposal from the account. A
// revert means an unsuccessful simulation, not an error; errors are
// reserved for transport failures.
func (c *Client) Simulate(ctx context.Context, proposal *domain.Proposal) (bool, error) {
	for i, op := range proposal.Operations {
		to := op.To
		msg := ethereum.CallMsg{
			From:  proposal.Account,
			To:    &to,
			Value: op.Value,
			Data:  op.Data,
		}
		if _, err := c.eth.CallContract(ctx, msg, nil); err != nil {
			if isRevert(err) {
				c.log.Debug("simulation reverted", "proposal", proposal.ID, "operation", i, "err", err)
				return false, nil
			}
			return false, fmt.Errorf("simulate operation %d: %w", i, err)
		}
	}
	return true, nil
}

// Submit broadcasts the execution transaction carrying the approval blob
// and returns its hash.
func (c *Client) Submit(ctx context.Context, proposal *domain.Proposal, signature []byte, fee *usecase.FeeParams) (common.Hash, error) {
	if c.relayer == nil {
		return common.Hash{}, errors.New("no relayer key configured")
	}

	ops := make([]struct {
		To    common.Address
		Value *big.Int
		Data  []byte
	}, len(proposal.Operations))
	for i, op := range proposal.Operations {
		value := op.Value
		if value == nil {
			value = new(big.Int)
		}
		ops[i] = struct {
			To    common.Address
			Value *big.Int
			Data  []byte
		}{op.To, value, op.Data}
	}

	calldata, err := accountABI.Pack("execute", ops, signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack execute: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, err
	}

	gasLimit := proposal.GasLimit
	if gasLimit == 0 {
		to := proposal.Account
		estimated, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From: c.from,
			To:   &to,
			Data: calldata,
		})
		if err != nil {
			c.log.Warn("gas estimation failed, using fallback", "proposal", proposal.ID, "err", err)
			estimated = fallbackGasLimit
		}
		gasLimit = estimated
	}

	account := proposal.Account
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: fee.GasPrice,
		Gas:      gasLimit,
		To:       &account,
		Data:     calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.relayer)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	c.log.Info("execution submitted", "proposal", proposal.ID, "tx", signed.Hash())
	return signed.Hash(), nil
}

// WaitReceipt polls for the transaction receipt until it reaches the
// configured confirmation depth or the receipt timeout elapses.
func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash) (*domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		switch {
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet.
		case err != nil:
			return nil, err
		default:
			confirmed, err := c.confirmed(ctx, receipt.BlockNumber.Uint64())
			if err != nil {
				return nil, err
			}
			if confirmed {
				return c.buildReceipt(ctx, txHash, receipt)
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmed(ctx context.Context, block uint64) (bool, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return head >= block && head-block+1 >= c.cfg.ConfirmationDepth, nil
}

func (c *Client) buildReceipt(ctx context.Context, txHash common.Hash, receipt *types.Receipt) (*domain.Receipt, error) {
	header, err := c.eth.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, err
	}

	result := &domain.Receipt{
		TxHash:    txHash,
		Success:   receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed:   receipt.GasUsed,
		Block:     receipt.BlockNumber.Uint64(),
		Timestamp: time.Unix(int64(header.Time), 0).UTC(),
	}

	if !result.Success {
		result.RevertReason = c.revertReason(ctx, txHash, receipt.BlockNumber)
	}
	return result, nil
}

// revertReason replays the transaction at its block to recover the revert
// data. Best effort: an empty string when the node cannot reproduce it.
func (c *Client) revertReason(ctx context.Context, txHash common.Hash, block *big.Int) string {
	tx, _, err := c.eth.TransactionByHash(ctx, txHash)
	if err != nil {
		return ""
	}
	signer := types.LatestSignerForChainID(c.chainID)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return ""
	}

	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	_, err = c.eth.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}

	if data := revertData(err); len(data) > 0 {
		if reason, uerr := abi.UnpackRevert(data); uerr == nil {
			return reason
		}
	}
	return err.Error()
}

// IsValidSignature performs the ERC-1271 isValidSignature call against the
// approver contract. A revert means an invalid signature.
func (c *Client) IsValidSignature(ctx context.Context, contract common.Address, hash common.Hash, signature []byte) (bool, error) {
	calldata, err := accountABI.Pack("isValidSignature", [32]byte(hash), signature)
	if err != nil {
		return false, err
	}

	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: calldata}, nil)
	if err != nil {
		if isRevert(err) {
			return false, nil
		}
		return false, err
	}
	return len(result) >= 4 && bytes.Equal(result[:4], erc1271Magic[:]), nil
}

// isRevert distinguishes an EVM revert from a transport failure.
func isRevert(err error) bool {
	if revertData(err) != nil {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted") ||
		strings.Contains(err.Error(), "out of gas")
}

// revertData extracts the revert return data carried by rpc errors.
func revertData(err error) []byte {
	var dataErr interface{ ErrorData() interface{} }
	if !errors.As(err, &dataErr) {
		return nil
	}
	if hexData, ok := dataErr.ErrorData().(string); ok {
		return common.FromHex(hexData)
	}
	return nil
}
