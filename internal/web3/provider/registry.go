package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/web3"
	"github.com/snehendu098/rayfine/internal/web3/ethereum"
)

// Dialer builds a chain client for a profile.
type Dialer func(ctx context.Context, profile network.Profile) (web3.Client, error)

// Options tunes the default EVM dialer.
type Options struct {
	RateLimit float64
	Burst     int
}

// EVMDialer dials profiles through the go-ethereum client.
func EVMDialer(opts Options) Dialer {
	return func(ctx context.Context, profile network.Profile) (web3.Client, error) {
		return ethereum.NewClient(ctx, ethereum.Config{
			Name:      string(profile.ID),
			RPCURL:    profile.RPCURL,
			Notes:     profile.Name,
			RateLimit: opts.RateLimit,
			Burst:     opts.Burst,
		})
	}
}

// Registry manages one chain client per network profile. Clients are dialed
// lazily and shared by every session bound to the same profile.
type Registry struct {
	dial    Dialer
	mu      sync.Mutex
	clients map[network.ID]web3.Client
}

// NewRegistry creates a registry that dials with dial.
func NewRegistry(dial Dialer) *Registry {
	return &Registry{dial: dial, clients: make(map[network.ID]web3.Client)}
}

// Client returns the client for profile, dialing it on first use.
func (r *Registry) Client(ctx context.Context, profile network.Profile) (web3.Client, error) {
	if r == nil || r.dial == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[profile.ID]; ok {
		return client, nil
	}
	client, err := r.dial(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("初始化链 %s 失败: %w", profile.ID, err)
	}
	r.clients[profile.ID] = client
	return client, nil
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, id)
	}
}

// Chains returns the profiles that currently have a dialed client.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for id := range r.clients {
		names = append(names, string(id))
	}
	sort.Strings(names)
	return names
}
