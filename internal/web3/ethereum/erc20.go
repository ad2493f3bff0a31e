package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/snehendu098/rayfine/internal/web3"
)

const erc20ABIJSON = `[
 {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
 {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
 {"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("解析 ERC-20 ABI 失败: %v", err))
	}
	return parsed
}

// TokenBalance returns owner's balance of an ERC-20 token in minor units.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.callERC20(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("合约 %s 返回了无效的余额", token.Hex())
	}
	return balance, nil
}

// Allowance returns how much spender may move out of owner's balance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.callERC20(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("合约 %s 返回了无效的授权额度", token.Hex())
	}
	return allowance, nil
}

// TokenMetadata reads decimals, symbol and name. Decimals is required; the
// other two fall back to empty strings for non-standard tokens.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (web3.TokenMetadata, error) {
	out, err := c.callERC20(ctx, token, "decimals")
	if err != nil {
		return web3.TokenMetadata{}, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return web3.TokenMetadata{}, fmt.Errorf("合约 %s 返回了无效的精度", token.Hex())
	}
	meta := web3.TokenMetadata{Decimals: decimals}
	if out, err := c.callERC20(ctx, token, "symbol"); err == nil {
		meta.Symbol, _ = out[0].(string)
	}
	if out, err := c.callERC20(ctx, token, "name"); err == nil {
		meta.Name, _ = out[0].(string)
	}
	return meta, nil
}

func (c *Client) callERC20(ctx context.Context, token common.Address, method string, args ...any) ([]any, error) {
	input, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	raw, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用合约 %s.%s 失败: %w", token.Hex(), method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("token not found: %s 不是 ERC-20 合约", token.Hex())
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("解析 %s.%s 返回值失败: %v", token.Hex(), method, err)
	}
	return out, nil
}
