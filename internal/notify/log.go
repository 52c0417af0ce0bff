package notify

import (
	"context"

	"github.com/timepulse/timepulse/pkg/logger"
)

// Log writes notifications to a logger. It is used when no display service
// is reachable so fired countdowns still leave a trace.
type Log struct {
	*Memory
	log logger.Logger
}

var _ Notifier = (*Log)(nil)

func NewLog(l logger.Logger) *Log {
	return &Log{Memory: NewMemory(), log: logger.WithPrefix(l, "notify")}
}

func (n *Log) Show(ctx context.Context, title string, opts Options) (Notification, error) {
	res, err := n.Memory.Show(ctx, title, opts)
	if err == nil {
		n.log.Info("%s: %s (tag %s)", title, res.Options.Body, opts.Tag)
	}
	return res, err
}
