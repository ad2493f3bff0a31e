package ethereum

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"github.com/snehendu098/rayfine/internal/web3"
)

func newSimulated(t *testing.T, funded common.Address) *Client {
	t.Helper()
	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	sim := simulated.NewBackend(coretypes.GenesisAlloc{
		funded: {Balance: new(big.Int).Mul(oneEther, big.NewInt(10))},
	})
	t.Cleanup(func() { _ = sim.Close() })
	return NewSimulatedClient("simulated", sim)
}

func TestClientNativeTransfer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	client := newSimulated(t, from)

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	amount := big.NewInt(1_000_000_000_000_000)
	hash, err := client.Transfer(ctx, key, web3.TransferRequest{To: recipient, Amount: amount})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	receipt, err := client.WaitForReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("wait for receipt: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("transfer reverted: %+v", receipt)
	}

	got, err := client.NativeBalance(ctx, recipient)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(amount) != 0 {
		t.Fatalf("unexpected recipient balance %s", got)
	}
}

func TestClientRejectsBadTransfer(t *testing.T) {
	t.Parallel()

	key, _ := crypto.GenerateKey()
	client := newSimulated(t, crypto.PubkeyToAddress(key.PublicKey))
	if _, err := client.Transfer(context.Background(), key, web3.TransferRequest{Amount: big.NewInt(0)}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if _, err := client.Transfer(context.Background(), nil, web3.TransferRequest{Amount: big.NewInt(1)}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestClientTokenMetadataOnNonContract(t *testing.T) {
	t.Parallel()

	key, _ := crypto.GenerateKey()
	client := newSimulated(t, crypto.PubkeyToAddress(key.PublicKey))
	_, err := client.TokenMetadata(context.Background(), common.HexToAddress("0x00000000000000000000000000000000000000bb"))
	if err == nil || !strings.Contains(err.Error(), "token not found") {
		t.Fatalf("expected token not found, got %v", err)
	}
}

func TestWaitForReceiptHonoursContext(t *testing.T) {
	t.Parallel()

	key, _ := crypto.GenerateKey()
	client := newSimulated(t, crypto.PubkeyToAddress(key.PublicKey))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.WaitForReceipt(ctx, common.HexToHash("0x01"))
	if err == nil {
		t.Fatalf("expected context error")
	}
}

func TestClientSendRawCall(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, _ := crypto.GenerateKey()
	client := newSimulated(t, crypto.PubkeyToAddress(key.PublicKey))

	price, err := client.GasPrice(ctx)
	if err != nil || price.Sign() <= 0 {
		t.Fatalf("gas price: %v %v", price, err)
	}

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	hash, err := client.Send(ctx, key, web3.TxRequest{To: recipient, Value: big.NewInt(42), Gas: 21000})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	receipt, err := client.WaitForReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("wait for receipt: %v", err)
	}
	if receipt.GasUsed != 21000 {
		t.Fatalf("unexpected gas used %d", receipt.GasUsed)
	}
}
