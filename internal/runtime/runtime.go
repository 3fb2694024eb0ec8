// Package runtime drives a single Test end to end: install diversion
// rules, open queues, fork the user command, pump packets through the
// direction pipelines, and tear everything down on every exit path.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tturner/fracture/internal/carrier"
	"github.com/tturner/fracture/internal/diversion"
	fractureerrors "github.com/tturner/fracture/internal/errors"
	"github.com/tturner/fracture/internal/logging"
	"github.com/tturner/fracture/internal/nfqueue"
	"github.com/tturner/fracture/internal/packet"
	"github.com/tturner/fracture/internal/plan"
	"github.com/tturner/fracture/internal/registry"
	"github.com/tturner/fracture/internal/results"
	"github.com/tturner/fracture/internal/trace"
)

// QueueOpener abstracts nfqueue.Open so tests can substitute fakes.
type QueueOpener func(qnum uint16) (nfqueue.Queue, error)

// Runtime executes tests one at a time against a shared diversion
// controller and queue opener.
type Runtime struct {
	Diversion *diversion.Controller
	OpenQueue QueueOpener
	Logger    *logging.Logger
	SuiteSeed uint64
	Tracer    *trace.Writer // optional
}

// seedFor mixes the suite seed with the test index into a per-test RNG
// seed, per the reproducibility requirement in the concurrency model.
func seedFor(suiteSeed uint64, index int) uint64 {
	return suiteSeed ^ (uint64(index) * 0x9E3779B97F4A7C15)
}

// Run executes t and returns its TestResult; it returns no error. Setup
// failures, a non-zero command exit and cancellation of ctx are folded into
// the result's Status. A pipeline error on a packet is logged and the packet
// accepted unchanged; it does not change the result's Status.
func (r *Runtime) Run(ctx context.Context, t *plan.Test) results.TestResult {
	start := time.Now()
	res := results.TestResult{Index: t.Index}

	if err := r.Diversion.Install(t.Rules, t.Index); err != nil {
		res.Status = results.StatusSetupError
		res.Notes = err.Error()
		return res
	}
	defer r.Diversion.Uninstall()

	outQ, inQ, err := r.openQueues(t)
	if err != nil {
		res.Status = results.StatusSetupError
		res.Notes = err.Error()
		return res
	}
	defer outQ.Close()
	defer inQ.Close()

	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmd, err := startCommand(cmdCtx, t.Cmd, t.Index, 0)
	if err != nil {
		res.Status = results.StatusSetupError
		res.Notes = fractureerrors.NewSetupError(err, t.Index).Error()
		return res
	}

	seed := seedFor(r.SuiteSeed, t.Index)
	echoLog := []string{}
	rng := rand.New(rand.NewSource(int64(seed)))
	counter := registry.NewCounter(seed)
	pctx := &registry.ApplyContext{RNG: rng, Logger: r.Logger, Counter: counter, EchoLog: &echoLog}

	var wg sync.WaitGroup
	wg.Add(2)
	go r.pumpDirection(cmdCtx, &wg, outQ, t.Output, pctx)
	go r.pumpDirection(cmdCtx, &wg, inQ, t.Input, pctx)

	exitErr := cmd.Wait()
	cancel()
	wg.Wait()

	r.drain(outQ)
	r.drain(inQ)

	res.ElapsedS = time.Since(start).Seconds()
	switch {
	case ctx.Err() != nil:
		res.Status = results.StatusCancelled
	case exitErr == nil:
		res.Status = results.StatusPassed
	default:
		res.Status = results.StatusFailed
		if exitErr := fractureerrors.NewCommandError(exitCodeOf(exitErr)); exitErr != nil {
			res.Notes = exitErr.Error()
		}
		res.ExitCode = exitCodeOf(exitErr)
	}
	return res
}

func (r *Runtime) openQueues(t *plan.Test) (out, in nfqueue.Queue, err error) {
	var outQNum, inQNum uint16
	for _, rule := range t.Rules {
		if rule.OutputChain {
			outQNum = uint16(rule.QNum)
		}
		if rule.InputChain {
			inQNum = uint16(rule.QNum + 1)
		}
	}
	out, err = r.OpenQueue(outQNum)
	if err != nil {
		return nil, nil, fmt.Errorf("open output queue %d: %w", outQNum, err)
	}
	in, err = r.OpenQueue(inQNum)
	if err != nil {
		out.Close()
		return nil, nil, fmt.Errorf("open input queue %d: %w", inQNum, err)
	}
	return out, in, nil
}

// pumpDirection dequeues packets from q with a bounded timeout, applies p,
// and re-injects the result in order, honoring inter-entry delays.
func (r *Runtime) pumpDirection(ctx context.Context, wg *sync.WaitGroup, q nfqueue.Queue, p interface {
	Apply(*registry.ApplyContext, *carrier.Carrier) (*carrier.Carrier, error)
}, pctx *registry.ApplyContext) {
	defer wg.Done()
	for {
		pkt, err := q.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // bounded-wait timeout: loop and check ctx again
		}

		c := carrier.New(packet.New(pkt.Raw))
		out, err := p.Apply(pctx, c)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Error("pipeline failed for packet %d: %v", pkt.ID, err)
			}
			q.SetVerdict(pkt.ID, nfqueue.VerdictAccept)
			continue
		}
		if out.Len() == 0 {
			q.SetVerdict(pkt.ID, nfqueue.VerdictDrop)
			continue
		}
		for i := 0; i < out.Len(); i++ {
			e := out.At(i)
			if e.DelayMs > 0 {
				select {
				case <-time.After(time.Duration(e.DelayMs) * time.Millisecond):
				case <-ctx.Done():
					return
				}
			}
			if r.Tracer != nil {
				r.Tracer.Write(e.Packet)
			}
			if i == 0 {
				if bytes.Equal(pkt.Raw, e.Packet.Bytes()) {
					q.SetVerdict(pkt.ID, nfqueue.VerdictAccept)
				} else {
					q.SetVerdictWithPacket(pkt.ID, e.Packet.Bytes())
				}
			}
			// Additional entries beyond the first (Duplicate, Fragment,
			// Segment) are new packets the kernel never saw, and they are
			// not re-injected: only the first entry's verdict reaches the
			// kernel, carrying any mutation to entry 0. Entries 1..n-1 are
			// written to the tracer when one is set.
		}
	}
}

func (r *Runtime) drain(q nfqueue.Queue) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for {
		pkt, err := q.Receive(ctx)
		if err != nil {
			return
		}
		q.SetVerdict(pkt.ID, nfqueue.VerdictAccept)
	}
}

func startCommand(ctx context.Context, tmpl string, i, j int) (*exec.Cmd, error) {
	rendered := strings.NewReplacer("{i}", fmt.Sprintf("%d", i), "{j}", fmt.Sprintf("%d", j)).Replace(tmpl)
	cmd := exec.CommandContext(ctx, "sh", "-c", rendered)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command %q: %w", rendered, err)
	}
	return cmd, nil
}

func exitCodeOf(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
