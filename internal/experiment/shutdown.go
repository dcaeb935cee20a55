package experiment

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Interrupts wires the escalating shutdown contract to SIGINT/SIGTERM. The
// first signal cancels soft: no new work is submitted and in-flight work
// finishes and checkpoints. The second cancels hard, killing in-flight
// subprocesses. stop releases the signal handler.
func Interrupts(parent context.Context) (soft, hard context.Context, stop func()) {
	softCtx, softCancel := context.WithCancel(parent)
	hardCtx, hardCancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		count := 0
		for range ch {
			count++
			switch count {
			case 1:
				log.Printf("shutdown requested: finishing in-flight work (interrupt again to force)")
				softCancel()
			default:
				log.Printf("forced shutdown: terminating in-flight work")
				hardCancel()
				return
			}
		}
	}()

	return softCtx, hardCtx, func() {
		signal.Stop(ch)
		close(ch)
		softCancel()
		hardCancel()
	}
}
