package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/snehendu098/rayfine/internal/adapter"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/web3"
)

// ChainSource 按网络配置提供链客户端。
type ChainSource interface {
	Client(ctx context.Context, profile network.Profile) (web3.Client, error)
}

// Session 是 (私钥, 网络) 的一次绑定。绑定后不可变，私钥或网络变化时必须重新绑定。
type Session struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	profile  network.Profile
	chain    web3.Client
	adapters *adapter.Set
}

// Bind 推导地址并构造链客户端与适配器集合。factory 为 nil 时会话不具备协议能力。
func Bind(ctx context.Context, key *ecdsa.PrivateKey, profile network.Profile, chains ChainSource, factory adapter.Factory) (*Session, error) {
	if key == nil {
		return nil, errors.New("未提供签名私钥")
	}
	if chains == nil {
		return nil, errors.New("未提供链客户端来源")
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	chain, err := chains.Client(ctx, profile)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "连接网络失败", xerrors.WithMetadata("network", string(profile.ID)))
	}

	set := &adapter.Set{}
	if factory != nil {
		bound, err := factory.Bind(ctx, adapter.Binding{Key: key, Address: address, Profile: profile})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeAdapter, err, "初始化协议适配器失败", xerrors.WithMetadata("network", string(profile.ID)))
		}
		if bound != nil {
			set = bound
		}
	}

	return &Session{key: key, address: address, profile: profile, chain: chain, adapters: set}, nil
}

// Address 返回钱包地址。
func (s *Session) Address() common.Address { return s.address }

// Profile 返回绑定的网络。
func (s *Session) Profile() network.Profile { return s.profile }

// Chain 返回链客户端。
func (s *Session) Chain() web3.Client { return s.chain }

// Adapters 返回协议能力集合，未提供的能力为 nil。
func (s *Session) Adapters() *adapter.Set { return s.adapters }

// Identity 是缓存使用的 (地址, 链) 键。
func (s *Session) Identity() string {
	return s.address.Hex() + "@" + strconv.FormatUint(s.profile.ChainID, 10)
}

// Transfer 发送原生资产或 ERC-20 转账。token 为 nil 表示原生资产。
func (s *Session) Transfer(ctx context.Context, to common.Address, token *common.Address, amount *big.Int) (common.Hash, error) {
	return s.chain.Transfer(ctx, s.key, web3.TransferRequest{To: to, Token: token, Amount: amount})
}

// SignMessage 按 EIP-191 personal_sign 规则签名，返回 65 字节签名（V 为 27/28）。
func (s *Session) SignMessage(message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner 从 personal_sign 签名中恢复签名地址。
func RecoverSigner(message, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("签名长度必须为 %d 字节", crypto.SignatureLength)
	}
	sig := append([]byte(nil), signature...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("恢复签名地址失败: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
