// Package web3 defines the chain read client used by the wallet core: native
// and ERC-20 balances, token metadata, receipt polling and plain transfers.
// Concrete clients live in sub-packages; provider caches one per profile.
package web3
