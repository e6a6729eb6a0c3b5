package main

import (
	"context"
	"log"
	"time"

	"github.com/pulseboard/pulseboard/internal/deadletter"
)

// sweepDeadLetters is the scheduled bulk retry pass. Events that keep failing
// stay quarantined for an operator to inspect; the sweep only drains the
// pending backlog.
func sweepDeadLetters(queue *deadletter.Queue) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := queue.BulkRetry(ctx)
	if err != nil {
		log.Printf("[sweep] dead-letter sweep failed: %v", err)
		return
	}
	if result.Attempted > 0 {
		log.Printf("[sweep] dead-letter sweep attempted=%d succeeded=%d failed=%d",
			result.Attempted, result.Succeeded, result.Failed)
	}
}
