package party

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeliveryResult is the outcome of one outbound send. Failures never reach
// the protocol: they are logged and dropped.
type DeliveryResult struct {
	PartyID int64
	Target  string
	Kind    string
	Err     error
}

type delivery struct {
	target string
	kind   string
	send   func(ctx context.Context) error
}

// outbox drains a party's outbound sends in order on its own goroutine.
type outbox struct {
	partyID int64
	ch      chan delivery
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
	logger  *zap.Logger
}

func newOutbox(partyID int64, size int, timeout time.Duration, logger *zap.Logger) *outbox {
	o := &outbox{
		partyID: partyID,
		ch:      make(chan delivery, size),
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger,
	}
	go o.run()
	return o
}

func (o *outbox) push(d delivery) {
	select {
	case o.ch <- d:
	default:
		o.logger.Warn("party outbox full, dropping send",
			zap.Int64("party_id", o.partyID),
			zap.String("target", d.target),
			zap.String("kind", d.kind))
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for d := range o.ch {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err := d.send(ctx)
		cancel()
		o.report(DeliveryResult{PartyID: o.partyID, Target: d.target, Kind: d.kind, Err: err})
	}
}

func (o *outbox) report(r DeliveryResult) {
	if r.Err != nil {
		o.logger.Warn("failed to deliver party command",
			zap.Int64("party_id", r.PartyID),
			zap.String("target", r.Target),
			zap.String("kind", r.Kind),
			zap.Error(r.Err))
		return
	}
	o.logger.Debug("delivered party command",
		zap.Int64("party_id", r.PartyID),
		zap.String("target", r.Target),
		zap.String("kind", r.Kind))
}

// close stops accepting sends; queued sends are still delivered.
func (o *outbox) close() {
	o.once.Do(func() { close(o.ch) })
}
