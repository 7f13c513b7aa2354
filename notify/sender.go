package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidMessage is returned for messages without a recipient.
var ErrInvalidMessage = errors.New("notify: message has no recipient")

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogSender logs messages instead of delivering them. Bodies carry single-use
// tokens and are never logged; only their length is.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log.Named("mail")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrInvalidMessage
	}
	s.log.Info("email queued", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	s.log.Debug("email body withheld", zap.String("to", msg.To), zap.Int("text_bytes", len(msg.Text)))
	return nil
}

// Async dispatches through a Sender in the background. Failures are logged
// and never surface to the caller.
type Async struct {
	sender  Sender
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps sender. A non-positive timeout defaults to 10s.
func NewAsync(sender Sender, log *zap.Logger, timeout time.Duration) *Async {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{sender: sender, log: log, timeout: timeout}
}

// Dispatch sends msg on its own goroutine. The caller's context only
// contributes values; its cancellation does not abort delivery.
func (a *Async) Dispatch(ctx context.Context, msg Message) {
	if a == nil || a.sender == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.sender.Send(sendCtx, msg); err != nil {
			a.log.Warn("email dispatch failed",
				zap.String("to", msg.To),
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight dispatches finish.
func (a *Async) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
