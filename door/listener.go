package door

import (
	"context"
	"fmt"
	"time"

	iface "PassengerCounter/interface"
	"PassengerCounter/session"

	"go.uber.org/zap"
)

// resubscribeDelay is the pause between subscription attempts.
var resubscribeDelay = 2 * time.Second

// Listen follows door changes on the gateway's home record and stores them
// in door until ctx is cancelled. It does not block: an unreachable gateway
// is retried in the background and door keeps its last state meanwhile.
func Listen(ctx context.Context, gw iface.Gateway, path, field string, door *session.Door, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	go func() {
		for {
			events, err := gw.Subscribe(ctx, path)
			if err != nil {
				log.Warn("door signal unavailable, retrying", zap.String("path", path), zap.Error(err))
			} else {
				Consume(events, field, door, log)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
		}
	}()
}

// Consume applies events to door until the channel is closed.
func Consume(events <-chan iface.ChangeEvent, field string, door *session.Door, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("door consumer panic recovered: %v", r))
		}
	}()
	for ev := range events {
		apply(ev, field, door, log)
	}
}

func apply(ev iface.ChangeEvent, field string, door *session.Door, log *zap.Logger) {
	open, ok := Parse(ev, field)
	if !ok {
		// other fields of the record change too, only complain about ours
		if ev.Path == "/"+field {
			log.Warn("malformed door payload ignored", zap.ByteString("data", ev.Data))
		}
		return
	}
	if door.Set(open) {
		log.Info("door signal", zap.Bool("open", open))
	}
}
