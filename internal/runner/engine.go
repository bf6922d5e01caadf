package runner

import (
	"context"
	"sync"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/events"
	"lifecycle_bot/internal/engine/lifecycle"
	"lifecycle_bot/internal/engine/monitor"
	"lifecycle_bot/internal/engine/reconcile"
	"lifecycle_bot/internal/engine/risk"
	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"
)

// Engine держит фоновые циклы движка и поток сигналов.
type Engine struct {
	reg        *chains.Registry
	gate       *risk.Gate
	svc        *lifecycle.Service
	dispatcher *events.Dispatcher
	monitor    *monitor.Monitor
	reconcile  *reconcile.Loop

	stopLoops    context.CancelFunc
	stopDispatch context.CancelFunc
	loops        sync.WaitGroup
	dispatch     sync.WaitGroup
}

// Restore поднимает состояние из хранилища до запуска циклов.
func (e *Engine) Restore(ctx context.Context) error {
	if err := e.reg.Restore(ctx); err != nil {
		return err
	}
	if err := e.gate.Restore(ctx); err != nil {
		return err
	}
	logger.Info("engine: restored %d open positions, %d active chains, %d watches",
		len(e.reg.OpenPositions()), len(e.reg.ActiveChains()), len(e.reg.Watches()))
	return nil
}

// Start запускает диспетчер, монитор, сверку и приём сигналов.
// У диспетчера свой контекст: он живёт, пока монитор не доделает тик.
func (e *Engine) Start(signals <-chan models.Signal) {
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	loopsCtx, stopLoops := context.WithCancel(context.Background())
	e.stopDispatch, e.stopLoops = stopDispatch, stopLoops

	goRun(&e.dispatch, func() { e.dispatcher.Run(dispatchCtx) })
	goRun(&e.loops, func() { e.monitor.Run(loopsCtx) })
	goRun(&e.loops, func() { e.reconcile.Run(loopsCtx) })
	goRun(&e.loops, func() { e.consume(loopsCtx, signals) })
}

// Stop: сначала монитор, сверка и сигналы, затем диспетчер дочитывает очередь.
func (e *Engine) Stop(ctx context.Context) error {
	if e.stopLoops == nil {
		return nil
	}
	e.stopLoops()
	if err := wait(ctx, &e.loops); err != nil {
		e.stopDispatch()
		return err
	}
	e.stopDispatch()
	return wait(ctx, &e.dispatch)
}

func wait(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func goRun(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

func (e *Engine) consume(ctx context.Context, signals <-chan models.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			res, err := e.svc.HandleSignal(context.WithoutCancel(ctx), sig)
			if err != nil {
				logger.Warn("engine: signal %s %s: %v", sig.Symbol, sig.Side, err)
				continue
			}
			logger.Info("engine: signal %s %s placed %d legs", sig.Symbol, sig.Side, res.Placed())
		}
	}
}
