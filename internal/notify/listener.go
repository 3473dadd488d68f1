// Package notify implements the LISTEN/NOTIFY wake-up trigger: a dedicated
// pq.Listener subscribed to the outbox's notify channel, feeding a
// single-slot wake-up channel for the poller to drain.
package notify

import (
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/timour/order-saga-orchestrator/internal/outbox"
)

// Listener wraps a pq.Listener on outbox.NotifyChannel. It never blocks a
// notifying transaction: every pq.Notification received is converted into a
// non-blocking send on a channel with a buffer of one. Notifications that
// arrive while the slot is full are dropped, so several notifications can
// yield a single wake-up; this is not a queue with one token per
// notification. Consumers drain Wake() and should tolerate wake-ups that
// find no due outbox rows (the poller's claim query is the source of
// truth, this is only a latency optimization).
type Listener struct {
	l    *pq.Listener
	wake chan struct{}
	log  *slog.Logger
}

// New dials a dedicated LISTEN/NOTIFY connection (outside the pool) and
// subscribes to outbox.NotifyChannel.
func New(connStr string, log *slog.Logger) (*Listener, error) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			log.Warn("notify listener disconnected", "error", err)
		case pq.ListenerEventReconnected:
			log.Info("notify listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn("notify listener connection attempt failed", "error", err)
		}
	}

	l := pq.NewListener(connStr, 10*time.Second, time.Minute, reportProblem)
	if err := l.Listen(outbox.NotifyChannel); err != nil {
		l.Close()
		return nil, err
	}

	ln := &Listener{
		l:    l,
		wake: make(chan struct{}, 1),
		log:  log,
	}
	go ln.pump()
	return ln, nil
}

// pump forwards every notification (and every listener reconnect, since a
// reconnect may have coincided with a missed notification) into a
// single-slot wake channel. The slot coalesces bursts: the poller only
// needs to know "something may be pending," not how many somethings.
func (ln *Listener) pump() {
	for n := range ln.l.Notify {
		if n == nil {
			// Reconnected: treat as a wake-up in case a notification was
			// missed while the connection was down.
			ln.signal()
			continue
		}
		ln.signal()
	}
}

func (ln *Listener) signal() {
	select {
	case ln.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel the poller should select on alongside its ticker.
func (ln *Listener) Wake() <-chan struct{} {
	return ln.wake
}

// Close releases the dedicated connection.
func (ln *Listener) Close() error {
	return ln.l.Close()
}
