// Package gateway talks to the payment service provider.
package gateway

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// DeclineReason is the failure reason reported for declined charges.
const DeclineReason = "Payment gateway declined transaction"

const txnAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// ChargeRequest describes a single charge attempt.
type ChargeRequest struct {
	PaymentID     string
	RideID        string
	Amount        float64
	PaymentMethod string
}

// ChargeResult is the provider's answer to a charge.
type ChargeResult struct {
	Approved      bool
	TransactionID string
	DeclineReason string
	Latency       time.Duration
}

// Gateway is the interface for a Payment Service Provider.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// SimulatedOptions configures the simulated provider.
type SimulatedOptions struct {
	FailureRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SlowMethod  string
	SlowLatency time.Duration
}

// Simulated is a provider stand-in with random latency and a fixed decline rate.
type Simulated struct {
	opts  SimulatedOptions
	float func() float64
	intN  func(int) int
}

// NewSimulated creates a new simulated gateway.
func NewSimulated(opts SimulatedOptions) *Simulated {
	return &Simulated{opts: opts, float: rand.Float64, intN: rand.IntN}
}

// Charge waits for the simulated latency, then approves or declines.
// Returns ctx.Err() if the context ends first.
func (g *Simulated) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	latency := g.latency(req.PaymentMethod)

	t := time.NewTimer(latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}

	if g.float() < g.opts.FailureRate {
		return &ChargeResult{DeclineReason: DeclineReason, Latency: latency}, nil
	}

	return &ChargeResult{
		Approved:      true,
		TransactionID: g.transactionID(),
		Latency:       latency,
	}, nil
}

func (g *Simulated) latency(method string) time.Duration {
	if g.opts.SlowMethod != "" && strings.EqualFold(method, g.opts.SlowMethod) {
		return g.opts.SlowLatency
	}
	spread := g.opts.MaxLatency - g.opts.MinLatency
	if spread <= 0 {
		return g.opts.MinLatency
	}
	return g.opts.MinLatency + time.Duration(g.float()*float64(spread))
}

func (g *Simulated) transactionID() string {
	var b strings.Builder
	b.WriteString("txn_")
	for i := 0; i < 8; i++ {
		b.WriteByte(txnAlphabet[g.intN(len(txnAlphabet))])
	}
	return b.String()
}
