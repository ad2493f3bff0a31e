package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      func(req agent.ActionRequest) error
	current   network.ID
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.ActionRequest) (*agent.Receipt, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.current != "" && req.Network != f.current {
		return nil, xerrors.New(xerrors.CodeValidation, "network mismatch", xerrors.WithField("network", string(req.Network)))
	}
	f.processed.Add(1)
	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return nil, err
		}
	}
	return &agent.Receipt{TxHash: "0x" + req.Amount, Kind: req.Kind, Network: network.Test, AmountIn: req.Amount}, nil
}

type countingQueue struct {
	*MemoryQueue
	mu        sync.Mutex
	published map[string]int
}

func newCountingQueue() *countingQueue {
	return &countingQueue{MemoryQueue: NewMemoryQueue(1024), published: map[string]int{}}
}

func (q *countingQueue) Publish(ctx context.Context, id string) error {
	q.mu.Lock()
	q.published[id]++
	q.mu.Unlock()
	return q.MemoryQueue.Publish(ctx, id)
}

func stake(amount string) agent.ActionRequest {
	return agent.ActionRequest{Kind: agent.KindStake, Amount: amount}
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, queue)
	processor := NewProcessor(executor, store, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	ids := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		task, err := service.Submit(ctx, Submission{Network: network.Test, Action: stake(fmt.Sprintf("%d", i))})
		if err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
		ids = append(ids, task.ID)
	}

	for _, id := range ids {
		task, err := service.WaitUntilCompleted(ctx, id, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("wait %s: %v", id, err)
		}
		if task.Status != StatusSucceeded || task.Receipt == nil || task.Attempts != 1 {
			t.Fatalf("unexpected task %+v", task)
		}
	}
	if int(executor.processed.Load()) != total {
		t.Fatalf("expected %d executions, got %d", total, executor.processed.Load())
	}
}

func TestProcessorNeverRepublishesFailedTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := newCountingQueue()
	executor := &fakeExecutor{fail: func(agent.ActionRequest) error {
		return xerrors.New(xerrors.CodeConnectivity, "停止等待确认",
			xerrors.WithMetadata("tx_hash", "0xabc"),
			xerrors.WithMetadata("broadcast", "true"))
	}}
	service := NewService(store, queue)
	processor := NewProcessor(executor, store, queue, WithWorkerCount(2))
	go func() { _ = processor.Start(ctx) }()

	task, err := service.Submit(ctx, Submission{ID: "job-1", Network: network.Test, Action: stake("1")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, task.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.ErrorCode != string(xerrors.CodeConnectivity) || done.TxHash() != "0xabc" {
		t.Fatalf("unexpected failed task %+v", done)
	}

	// resubmitting the same id returns the existing record instead of running again
	again, err := service.Submit(ctx, Submission{ID: "job-1", Action: stake("1")})
	if err != nil || again.Status != StatusFailed {
		t.Fatalf("unexpected resubmit result %+v %v", again, err)
	}

	time.Sleep(50 * time.Millisecond)
	queue.mu.Lock()
	published := queue.published["job-1"]
	queue.mu.Unlock()
	if published != 1 {
		t.Fatalf("failed task must be published exactly once, got %d", published)
	}
	if executor.processed.Load() != 1 {
		t.Fatalf("failed task must be executed exactly once, got %d", executor.processed.Load())
	}
}

func TestProcessorPinsSubmittedNetwork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := newCountingQueue()
	// the user switched to mainnet after submitting on testnet
	executor := &fakeExecutor{current: network.Production}
	service := NewService(store, queue)
	processor := NewProcessor(executor, store, queue)
	go func() { _ = processor.Start(ctx) }()

	task, err := service.Submit(ctx, Submission{ID: "job-net", Network: network.Test, Action: stake("1")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, task.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.ErrorCode != string(xerrors.CodeValidation) {
		t.Fatalf("expected validation failure, got %+v", done)
	}
	if executor.processed.Load() != 0 {
		t.Fatalf("action must not run on another network")
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	store := NewMemoryStore()
	queue := newCountingQueue()
	service := NewService(store, queue)

	_, err := service.Submit(context.Background(), Submission{Action: agent.ActionRequest{Kind: agent.KindSwap, Amount: "0"}})
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	stats, _ := service.Stats(context.Background())
	if stats.Total != 0 || len(queue.published) != 0 {
		t.Fatalf("invalid request must not create a task: %+v", stats)
	}
}

type failingSucceedStore struct {
	*MemoryStore
}

func (s failingSucceedStore) MarkSucceeded(context.Context, string, agent.Receipt) error {
	return xerrors.New(xerrors.CodeStorageFailure, "disk full")
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestProcessorKeepsTxHashWhenReceiptCannotBeStored(t *testing.T) {
	ctx := context.Background()
	store := failingSucceedStore{MemoryStore: NewMemoryStore()}
	alerts := &recordingDispatcher{}
	processor := NewProcessor(&fakeExecutor{}, store, nil, WithAlertDispatcher(alerts))

	if err := store.Create(ctx, &Task{ID: "j", Request: stake("7"), Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "j"); err == nil {
		t.Fatalf("expected storage error")
	}
	task, _ := store.Get(ctx, "j")
	if task.Status != StatusFailed || task.TxHash() != "0x7" || task.ErrorCode != string(xerrors.CodeStorageFailure) {
		t.Fatalf("unexpected task %+v", task)
	}
	if len(alerts.events) != 1 || alerts.events[0].Metadata["stage"] != "mark_succeeded" {
		t.Fatalf("expected one storage alert, got %+v", alerts.events)
	}

	// a second delivery of the same id is skipped
	if err := processor.handle(ctx, "j"); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
}
