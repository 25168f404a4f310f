// Package testutil carries helpers shared by the package tests.
package testutil

import (
	"runtime"
	"testing"
	"time"
)

const (
	settleDelay    = 200 * time.Millisecond
	sampleInterval = 100 * time.Millisecond
	sampleCount    = 3
)

// VerifyGoroutines snapshots the current goroutine count and registers a
// cleanup that fails the test if the count grew by more than allowed after
// the test body finished. Call it before starting any connections.
func VerifyGoroutines(t *testing.T, allowed int) {
	t.Helper()

	time.Sleep(settleDelay)
	before := runtime.NumGoroutine()

	t.Cleanup(func() {
		time.Sleep(settleDelay)

		// Sample a few times and keep the minimum; goroutines observed
		// mid-teardown are not leaks.
		after := runtime.NumGoroutine()
		for i := 1; i < sampleCount; i++ {
			time.Sleep(sampleInterval)
			if n := runtime.NumGoroutine(); n < after {
				after = n
			}
		}

		if leaked := after - before; leaked > allowed {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Errorf("goroutine leak: %d before, %d after (allowed growth %d)\n%s",
				before, after, allowed, buf[:n])
		}
	})
}
