package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/pkg/logger"
)

const notifyTimeout = 10 * time.Second

// ActionObserver 将需要告警的操作失败转发给 Dispatcher。
type ActionObserver struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

var _ agent.Observer = (*ActionObserver)(nil)

// NewActionObserver 创建 ActionObserver。
func NewActionObserver(dispatcher Dispatcher) *ActionObserver {
	return &ActionObserver{dispatcher: dispatcher, logger: logger.Named("alerting")}
}

// ActionFinished 实现 agent.Observer。
func (o *ActionObserver) ActionFinished(kind agent.Kind, net network.ID, elapsed time.Duration, err *xerrors.Error) {
	if o == nil || o.dispatcher == nil || !ShouldAlert(err) {
		return
	}
	event := EventFromError("action", err)
	event.Kind = string(kind)
	event.Network = string(net)
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["elapsed"] = elapsed.Round(time.Millisecond).String()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if notifyErr := o.dispatcher.Notify(ctx, event); notifyErr != nil {
		o.logger.Error("告警通知失败", slog.Any("error", notifyErr), slog.String("kind", string(kind)))
	}
}
