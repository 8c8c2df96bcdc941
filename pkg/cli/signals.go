// pkg/cli/signals.go
//
// Interrupt handling for an installer run. The first SIGINT or SIGTERM
// cancels the run context: no new step starts, running steps finish and
// the summary is still printed. A second signal exits immediately.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ExitInterrupted is the conventional status for a forced stop after SIGINT.
const ExitInterrupted = 130

// SignalHandler cancels its context on the first signal.
type SignalHandler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
	done    chan struct{}
	once    sync.Once

	out  io.Writer
	exit func(int)
}

// NewSignalHandler starts listening for SIGINT and SIGTERM.
func NewSignalHandler(ctx context.Context) *SignalHandler {
	h := newSignalHandler(ctx, make(chan os.Signal, 2), os.Stderr, os.Exit)
	signal.Notify(h.sigChan, os.Interrupt, syscall.SIGTERM)
	return h
}

func newSignalHandler(ctx context.Context, sigChan chan os.Signal, out io.Writer, exit func(int)) *SignalHandler {
	ctx, cancel := context.WithCancel(ctx)
	h := &SignalHandler{
		ctx:     ctx,
		cancel:  cancel,
		sigChan: sigChan,
		done:    make(chan struct{}),
		out:     out,
		exit:    exit,
	}
	go h.handleSignals()
	return h
}

// Context is cancelled when the first signal arrives.
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

func (h *SignalHandler) handleSignals() {
	logger := otelzap.Ctx(h.ctx)

	select {
	case sig := <-h.sigChan:
		logger.Warn("Received signal, stopping after running steps finish",
			zap.String("signal", sig.String()))
		_, _ = fmt.Fprintf(h.out, "\nReceived %v: no new steps will start. Press Ctrl-C again to exit now.\n", sig)
		h.cancel()
	case <-h.done:
		return
	}

	select {
	case sig := <-h.sigChan:
		logger.Error("Received second signal, forcing exit", zap.String("signal", sig.String()))
		_, _ = fmt.Fprintln(h.out, "Received second interrupt, exiting. Re-run to resume.")
		h.exit(ExitInterrupted)
	case <-h.done:
	}
}

// Stop releases the signal subscription and the context.
func (h *SignalHandler) Stop() {
	h.once.Do(func() {
		signal.Stop(h.sigChan)
		close(h.done)
		h.cancel()
	})
}
