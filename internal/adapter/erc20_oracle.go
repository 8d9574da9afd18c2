// Package adapter reads holder balances from the sale token contract on an EVM chain.
package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cfd-ledger/internal/circuitbreaker"
	"github.com/cfd-ledger/internal/config"
	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/ratelimit"
	"github.com/cfd-ledger/internal/retry"
	"github.com/cfd-ledger/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// balanceOfCU is the compute-unit cost of one eth_call charged against the RPC budget
const balanceOfCU = 26

// erc20BalanceOfABI is the balanceOf fragment of the ERC-20 ABI
const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

// AcquisitionSource supplies the first-acquisition timestamp, which an ERC-20 contract cannot report
type AcquisitionSource interface {
	HolderAccount(ctx context.Context, holder string) (*models.HolderAccount, error)
}

// CallBudget meters RPC calls; ratelimit.RPCBudget implements it
type CallBudget interface {
	TryConsume(ctx context.Context, cu int, priority ratelimit.Priority) (bool, time.Duration)
}

// ERC20BalanceOracle reports balances from balanceOf on the token contract
type ERC20BalanceOracle struct {
	caller      ethereum.ContractCaller
	token       common.Address
	decimals    int32
	callTimeout time.Duration
	parsedABI   abi.ABI
	acquisition AcquisitionSource
	breaker     *circuitbreaker.CircuitBreaker
	retry       *retry.RetryConfig
	budget      CallBudget
	logger      *logging.Logger
}

// NewERC20BalanceOracle creates an oracle over any contract caller
func NewERC20BalanceOracle(caller ethereum.ContractCaller, cfg *config.ChainConfig, acquisition AcquisitionSource) (*ERC20BalanceOracle, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if acquisition == nil {
		return nil, fmt.Errorf("acquisition source cannot be nil")
	}
	if !common.IsHexAddress(cfg.TokenContract) {
		return nil, fmt.Errorf("invalid token contract address: %q", cfg.TokenContract)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	retryConfig := &retry.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  retryableCall,
	}

	return &ERC20BalanceOracle{
		caller:      caller,
		token:       common.HexToAddress(cfg.TokenContract),
		decimals:    int32(cfg.TokenDecimals),
		callTimeout: cfg.CallTimeout,
		parsedABI:   parsedABI,
		acquisition: acquisition,
		breaker:     circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("erc20-balance")),
		retry:       retryConfig,
		logger:      logging.GetGlobalLogger().WithField("component", "ERC20BalanceOracle"),
	}, nil
}

// DialERC20BalanceOracle connects to cfg.RPCURL and creates an oracle over the client
func DialERC20BalanceOracle(cfg *config.ChainConfig, acquisition AcquisitionSource) (*ERC20BalanceOracle, *ethclient.Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}
	oracle, err := NewERC20BalanceOracle(client, cfg, acquisition)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return oracle, client, nil
}

// SetBudget meters every balanceOf call against budget. Nil removes metering.
func (o *ERC20BalanceOracle) SetBudget(budget CallBudget) {
	o.budget = budget
}

// HolderAccount returns the on-chain balance and the first acquisition from the acquisition source
func (o *ERC20BalanceOracle) HolderAccount(ctx context.Context, holder string) (*models.HolderAccount, error) {
	address, err := types.NormalizeAddress(holder)
	if err != nil {
		return nil, errors.NewInvalidAddressError("holderAddress", holder)
	}

	account, err := o.acquisition.HolderAccount(ctx, address)
	if err != nil {
		return nil, err
	}

	var raw *big.Int
	err = retry.Do(ctx, o.retry, func(ctx context.Context, attempt int) error {
		if o.budget != nil {
			if allowed, wait := o.budget.TryConsume(ctx, balanceOfCU, ratelimit.PriorityFrom(ctx)); !allowed {
				return errors.NewProviderError("rpc budget", fmt.Errorf("%w, next window in %s", ratelimit.ErrBudgetExhausted, wait))
			}
		}
		return o.breaker.Execute(ctx, func(ctx context.Context) error {
			balance, callErr := o.balanceOf(ctx, common.HexToAddress(address))
			if callErr != nil {
				return errors.NewProviderError("erc20 balanceOf", callErr)
			}
			raw = balance
			return nil
		})
	})
	if err != nil {
		o.logger.WithError(err).WithField("holder", address).Error("Failed to read token balance")
		var catErr *errors.CategorizedError
		if stderrors.As(err, &catErr) {
			return nil, catErr
		}
		return nil, errors.NewProviderError("erc20 balanceOf", err)
	}

	return &models.HolderAccount{
		Address:          address,
		Balance:          decimal.NewFromBigInt(raw, -o.decimals),
		FirstAcquisition: account.FirstAcquisition,
	}, nil
}

// retryableCall retries provider failures. An exhausted budget stays exhausted until the
// next window, so it ends the call at once.
func retryableCall(err error) bool {
	if stderrors.Is(err, ratelimit.ErrBudgetExhausted) {
		return false
	}
	return errors.IsRetryable(err)
}

func (o *ERC20BalanceOracle) balanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}

	data, err := o.parsedABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}

	result, err := o.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &o.token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return big.NewInt(0), nil
	}

	values, err := o.parsedABI.Unpack("balanceOf", result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf result: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}
