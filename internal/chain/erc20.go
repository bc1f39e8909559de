package chain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"ammLedger/internal/model"
)

const erc20ABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

const erc20SymbolBytes32JSON = `[
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

var (
	erc20ABI          abi.ABI
	erc20ABIOnce      sync.Once
	erc20ABIErr       error
	symbolBytes32ABI  abi.ABI
	symbolBytes32Once sync.Once
	symbolBytes32Err  error
)

func erc20Instance() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

func symbolBytes32Instance() (abi.ABI, error) {
	symbolBytes32Once.Do(func() {
		symbolBytes32ABI, symbolBytes32Err = abi.JSON(strings.NewReader(erc20SymbolBytes32JSON))
	})
	return symbolBytes32ABI, symbolBytes32Err
}

func (c *Client) call(ctx context.Context, parsed abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s return size %d", method, len(values))
	}
	return values, nil
}

// BalanceOf returns the token balance of owner at block, or at the latest
// block when block is nil.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address, block *big.Int) (*big.Int, error) {
	parsed, err := erc20Instance()
	if err != nil {
		return nil, err
	}
	values, err := c.call(ctx, parsed, token, block, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf unexpected type %T", values[0])
	}
	return bal, nil
}

// FetchTokenMeta loads decimals and symbol via ERC20 calls. Symbol is
// optional and tried as string, then as bytes32.
func (c *Client) FetchTokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	parsed, err := erc20Instance()
	if err != nil {
		return meta, err
	}

	values, err := c.call(ctx, parsed, token, nil, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("decimals unexpected type %T", values[0])
	}
	meta.Decimals = decimals

	if values, err := c.call(ctx, parsed, token, nil, "symbol"); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
		return meta, nil
	}
	if legacy, err := symbolBytes32Instance(); err == nil {
		if values, err := c.call(ctx, legacy, token, nil, "symbol"); err == nil {
			if raw, ok := values[0].([32]byte); ok {
				meta.Symbol = string(bytes.TrimRight(raw[:], "\x00"))
			}
		}
	}
	return meta, nil
}

const defaultTokenCacheSize = 256

// TokenMetaCache keeps metadata of recently quoted tokens.
type TokenMetaCache struct {
	recent *lru.Cache[common.Address, model.TokenMeta]
}

func NewTokenMetaCache(size int) (*TokenMetaCache, error) {
	if size <= 0 {
		size = defaultTokenCacheSize
	}
	recent, err := lru.New[common.Address, model.TokenMeta](size)
	if err != nil {
		return nil, err
	}
	return &TokenMetaCache{recent: recent}, nil
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	return c.recent.Get(address)
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.recent.Add(address, meta)
}

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(value, denom).FloatString(int(decimals))
}
