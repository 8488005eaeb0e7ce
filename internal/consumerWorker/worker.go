package consumerWorker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wb-go/wbf/zlog"

	"eventAdmission/internal/model"
)

type Consumer interface {
	Consume(handler func([]byte) error) error
}

type Sender interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Reader feeds notifications from the queue to the mailer.
type Reader struct {
	rmq    Consumer
	mail   Sender
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq Consumer, mail Sender) *Reader {
	return &Reader{
		rmq:  rmq,
		mail: mail,
		done: make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("notification reader started")

	go func() {
		defer close(r.done)

		if err := r.rmq.Consume(func(body []byte) error { return r.handle(cctx, body) }); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("notification reader stopped by context")
	}()
}

// handle returns an error only for failures worth a redelivery.
func (r *Reader) handle(ctx context.Context, body []byte) error {
	var n model.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		zlog.Logger.Error().Err(err).Str("body", string(body)).Msg("failed to unmarshal notification, dropping")
		return nil
	}

	zlog.Logger.Info().
		Str("notification_id", n.ID).
		Str("kind", string(n.Kind)).
		Int64("event_id", n.EventID).
		Int64("user_id", n.UserID).
		Msg("received notification")

	if err := r.mail.Notify(ctx, n); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			zlog.Logger.Warn().Int64("user_id", n.UserID).Msg("no contact for user, dropping notification")
			return nil
		}
		return err
	}
	return nil
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
