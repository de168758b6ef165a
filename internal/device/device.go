// Package device talks to the physical feeder.
//
// A Gateway reports device-level failures through ok=false and a message.
// The error return is reserved for requests that could not be expressed at
// all (bad configuration, programming errors).
package device

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	logx "feedbot/pkg/logx"
)

type Gateway interface {
	Dispense(ctx context.Context, grams int) (ok bool, msg string, err error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, grams int) (bool, string, error)

func (f GatewayFunc) Dispense(ctx context.Context, grams int) (bool, string, error) {
	return f(ctx, grams)
}

// Simulated succeeds unless a failure message is set.
type Simulated struct {
	log     logx.Logger
	failMsg atomic.Pointer[string]
	calls   atomic.Int64
}

func NewSimulated(failMessage string, log logx.Logger) *Simulated {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Simulated{log: log}
	s.SetFailMessage(failMessage)
	return s
}

// SetFailMessage switches the simulated device between failing (non-empty
// message) and succeeding.
func (s *Simulated) SetFailMessage(msg string) {
	msg = strings.TrimSpace(msg)
	s.failMsg.Store(&msg)
}

func (s *Simulated) Calls() int64 { return s.calls.Load() }

func (s *Simulated) Dispense(ctx context.Context, grams int) (bool, string, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return false, err.Error(), nil
	}
	if msg := *s.failMsg.Load(); msg != "" {
		s.log.Warn("simulated dispense failed", logx.Int("grams", grams), logx.String("reason", msg))
		return false, msg, nil
	}
	s.log.Info("simulated dispense", logx.Int("grams", grams))
	return true, "", nil
}

func (s *Simulated) String() string { return fmt.Sprintf("simulated(fail=%q)", *s.failMsg.Load()) }
