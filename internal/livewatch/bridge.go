package livewatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tripwire/atrace/daemon"
)

// Bridge subscribes to the daemon's trace stream as an always-on observer
// and mirrors every line it receives to connected browser clients. Unlike an
// admin-API subscriber, a bridge's daemon.Session is put into StreamingStart
// mode with an empty filter for the lifetime of the bridge, so every
// formatted trace line and in-band control comment reaches the dashboard.
type Bridge struct {
	core   *daemon.Broadcaster
	browse *Broadcaster
	logger *slog.Logger

	sub *daemon.Subscriber
}

// NewBridge registers a fresh daemon.Subscriber against core and starts its
// trace stream, so that every formatted line the daemon produces is relayed
// to browse.
func NewBridge(core *daemon.Broadcaster, browse *Broadcaster, logger *slog.Logger) (*Bridge, error) {
	sess := daemon.NewSession()
	sub := core.Register("livewatch-"+uuid.NewString(), sess)
	if err := sess.StartStream(daemon.NewFilter()); err != nil {
		core.Unregister(sub.ID())
		return nil, err
	}
	return &Bridge{core: core, browse: browse, logger: logger, sub: sub}, nil
}

// Run pumps lines from the daemon subscriber to every browser client until
// ctx is cancelled or the daemon subscriber is closed.
func (br *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			br.core.Unregister(br.sub.ID())
			return
		case line, ok := <-br.sub.Lines():
			if !ok {
				return
			}
			br.browse.Broadcast(line)
		}
	}
}
