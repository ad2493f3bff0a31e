// Package network holds the two selectable chain profiles and the persisted
// choice between them.
package network

import (
	"fmt"
	"sort"
	"strings"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

// ID identifies a profile. The values are what gets persisted.
type ID string

const (
	Production ID = "mainnet"
	Test       ID = "testnet"
)

// Default is used when nothing has been persisted.
const Default = Test

// Profile is an immutable description of one network.
type Profile struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	ChainID        uint64 `json:"chain_id"`
	RPCURL         string `json:"rpc_url"`
	WSURL          string `json:"ws_url,omitempty"`
	ExplorerURL    string `json:"explorer_url"`
	NativeSymbol   string `json:"native_symbol"`
	NativeName     string `json:"native_name"`
	NativeDecimals uint8  `json:"native_decimals"`
}

// TxURL links a transaction hash on the profile's explorer.
func (p Profile) TxURL(hash string) string {
	return strings.TrimRight(p.ExplorerURL, "/") + "/tx/" + hash
}

// AddressURL links an account on the profile's explorer.
func (p Profile) AddressURL(address string) string {
	return strings.TrimRight(p.ExplorerURL, "/") + "/address/" + address
}

// IsProduction reports whether the profile moves real funds.
func (p Profile) IsProduction() bool { return p.ID == Production }

func builtin() map[ID]Profile {
	return map[ID]Profile{
		Production: {
			ID:             Production,
			Name:           "Mantle",
			ChainID:        5000,
			RPCURL:         "https://rpc.mantle.xyz",
			ExplorerURL:    "https://mantlescan.xyz",
			NativeSymbol:   "MNT",
			NativeName:     "Mantle",
			NativeDecimals: 18,
		},
		Test: {
			ID:             Test,
			Name:           "Mantle Sepolia",
			ChainID:        5003,
			RPCURL:         "https://rpc.sepolia.mantle.xyz",
			ExplorerURL:    "https://sepolia.mantlescan.xyz",
			NativeSymbol:   "MNT",
			NativeName:     "Mantle",
			NativeDecimals: 18,
		},
	}
}

// ParseID accepts the persisted form as well as a few human spellings.
func ParseID(s string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "production", "prod", "main":
		return Production, nil
	case "testnet", "test", "sepolia":
		return Test, nil
	}
	return "", xerrors.New(xerrors.CodeValidation, fmt.Sprintf("未知网络: %s", s), xerrors.WithField("network", "必须为 mainnet 或 testnet"))
}

// Catalog is the set of available profiles after overrides.
type Catalog struct {
	profiles map[ID]Profile
}

// NewCatalog merges chain definitions over the built-in profiles. Only
// non-empty fields override.
func NewCatalog(defs Definitions) (*Catalog, error) {
	profiles := builtin()
	for name, def := range defs.Chains {
		id, err := ParseID(name)
		if err != nil {
			return nil, fmt.Errorf("链配置 %s 无法对应到网络: %w", name, err)
		}
		if t := strings.ToLower(strings.TrimSpace(def.Type)); t != "" && t != "evm" {
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		p := profiles[id]
		if def.ChainID != 0 {
			p.ChainID = def.ChainID
		}
		if def.RPCURL != "" {
			p.RPCURL = def.RPCURL
		}
		if def.WSURL != "" {
			p.WSURL = def.WSURL
		}
		if def.ExplorerURL != "" {
			p.ExplorerURL = def.ExplorerURL
		}
		if def.NativeSymbol != "" {
			p.NativeSymbol = def.NativeSymbol
		}
		if def.Description != "" {
			p.Name = def.Description
		}
		profiles[id] = p
	}
	return &Catalog{profiles: profiles}, nil
}

// DefaultCatalog returns the built-in profiles.
func DefaultCatalog() *Catalog {
	return &Catalog{profiles: builtin()}
}

// Profile looks up a profile by id.
func (c *Catalog) Profile(id ID) (Profile, bool) {
	p, ok := c.profiles[id]
	return p, ok
}

// Profiles lists profiles, production first.
func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
