package task

import (
	"context"
	"testing"
	"time"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	tasks := []*Task{
		{ID: "t1", Request: agent.ActionRequest{Kind: agent.KindSwap}, Network: network.Test, Status: StatusPending, MaxRetries: 1},
		{ID: "t2", Request: agent.ActionRequest{Kind: agent.KindSupply}, Network: network.Test, Status: StatusPending, MaxRetries: 1},
		{ID: "t3", Request: agent.ActionRequest{Kind: agent.KindSwap}, Network: network.Production, Status: StatusPending, MaxRetries: 1},
	}
	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
	}

	failure := Failure{Code: xerrors.CodeConnectivity, Message: "stopped waiting", Metadata: map[string]string{"tx_hash": "0xfeed"}}
	if err := store.MarkFailed(ctx, "t2", failure); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", agent.Receipt{TxHash: "0xbeef"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t3" {
		t.Fatalf("expected newest task first, got %+v", all)
	}

	asc, _ := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2)}))
	if len(asc) != 2 || asc[0].ID != "t1" || asc[1].ID != "t2" {
		t.Fatalf("unexpected ascending page: %+v", asc)
	}

	failed, _ := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if len(failed) != 1 || failed[0].ID != "t2" || failed[0].TxHash() != "0xfeed" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withReceipt, _ := store.List(ctx, buildListOptions([]ListOption{WithReceiptPresence(true)}))
	if len(withReceipt) != 1 || withReceipt[0].ID != "t3" {
		t.Fatalf("unexpected receipt list: %+v", withReceipt)
	}

	swaps, _ := store.List(ctx, buildListOptions([]ListOption{WithKinds(agent.KindSwap), WithNetwork(network.Test)}))
	if len(swaps) != 1 || swaps[0].ID != "t1" {
		t.Fatalf("unexpected kind/network filter: %+v", swaps)
	}

	byHash, _ := store.List(ctx, buildListOptions([]ListOption{WithQuery("BEEF")}))
	if len(byHash) != 1 || byHash[0].ID != "t3" {
		t.Fatalf("unexpected query result: %+v", byHash)
	}

	recent, _ := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(15 * time.Second))}))
	if len(recent) != 2 {
		t.Fatalf("expected 2 tasks to match since filter, got %d", len(recent))
	}
}

func TestMemoryStoreClaimRunsOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Task{ID: "job", Status: StatusPending, MaxRetries: DefaultMaxRetries}); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := store.Claim(ctx, "job")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim: %+v %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "job"); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}
	if err := store.MarkFailed(ctx, "job", Failure{Code: xerrors.CodeAdapter, Message: "reverted"}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "job"); !IsTaskError(err, CodeTaskCompleted) {
		t.Fatalf("failed job must not be claimed again, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "job"}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected duplicate id conflict, got %v", err)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Task{ID: id, Status: StatusPending, MaxRetries: 1}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	_ = store.MarkSucceeded(ctx, "a", agent.Receipt{TxHash: "0x1"})
	_ = store.MarkFailed(ctx, "b", Failure{Code: xerrors.CodeUnknown, Message: "boom"})

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Succeeded != 1 || stats.Failed != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt == 0 || stats.NewestUpdatedAt < stats.OldestUpdatedAt {
		t.Fatalf("unexpected time range: %+v", stats)
	}
}
