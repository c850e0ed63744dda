package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// VaultReader reads the token balance held by a stream vault.
type VaultReader interface {
	VaultBalance(ctx context.Context, vaultAddress string) (decimal.Decimal, error)
}

// Options parameterise the RPC reader.
type Options struct {
	RPCURL     string
	Commitment string
	Timeout    time.Duration
}

// tokenAccountBalance is the value of a getTokenAccountBalance response.
type tokenAccountBalance struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Amount   string `json:"amount"`
		Decimals int32  `json:"decimals"`
	} `json:"value"`
}

// RPCReader queries vault balances over JSON-RPC.
type RPCReader struct {
	opts      Options
	logger    zerolog.Logger
	client    *rpc.Client
	clientMux sync.Mutex
}

// NewRPCReader builds a reader; the connection is dialled on first use.
func NewRPCReader(opts Options, logger zerolog.Logger) *RPCReader {
	return &RPCReader{opts: opts, logger: logger.With().Str("component", "vault_reader").Logger()}
}

// VaultBalance returns the raw vault balance in the mint's base units, the
// same scale stored stream amounts use.
func (r *RPCReader) VaultBalance(ctx context.Context, vaultAddress string) (decimal.Decimal, error) {
	if r.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("chain rpc url not configured")
	}
	if vaultAddress == "" {
		return decimal.Decimal{}, errors.New("vault address is empty")
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	params := map[string]string{}
	if r.opts.Commitment != "" {
		params["commitment"] = r.opts.Commitment
	}

	var res tokenAccountBalance
	if err := client.CallContext(ctx, &res, "getTokenAccountBalance", vaultAddress, params); err != nil {
		return decimal.Decimal{}, fmt.Errorf("getTokenAccountBalance %s: %w", vaultAddress, err)
	}

	balance, err := res.balance()
	if err != nil {
		return decimal.Decimal{}, err
	}
	r.logger.Debug().Str("vault", vaultAddress).Uint64("slot", res.Context.Slot).Str("balance", balance.String()).Int32("decimals", res.Value.Decimals).Msg("vault balance fetched")
	return balance, nil
}

// balance ignores uiAmountString; stored amounts are never shifted by decimals.
func (b tokenAccountBalance) balance() (decimal.Decimal, error) {
	raw, err := decimal.NewFromString(b.Value.Amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount: %w", err)
	}
	return raw, nil
}

func (r *RPCReader) getClient(ctx context.Context) (*rpc.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := rpc.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	r.client = client
	return client, nil
}

// Close releases the RPC connection.
func (r *RPCReader) Close() {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

var _ VaultReader = (*RPCReader)(nil)
