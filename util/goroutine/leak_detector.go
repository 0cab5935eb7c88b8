package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks registers a cleanup function that verifies the goroutine
// count returns to its baseline after the test completes. Call it at the
// beginning of any test that starts background goroutines.
func AssertNoLeaks(t *testing.T) {
	t.Helper()
	AssertNoLeaksWithTimeout(t, 5*time.Second, 50*time.Millisecond)
}

// AssertNoLeaksWithTimeout is AssertNoLeaks with a custom timeout and
// polling interval.
func AssertNoLeaksWithTimeout(t *testing.T, timeout, poll time.Duration) {
	t.Helper()
	before := runtime.NumGoroutine()

	t.Cleanup(func() {
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			if runtime.NumGoroutine() <= before {
				return
			}
			time.Sleep(poll)
		}

		current := runtime.NumGoroutine()
		if current > before {
			t.Errorf("goroutine leak detected: started with %d goroutines, ended with %d",
				before, current)
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Logf("active goroutines:\n%s", buf[:n])
		}
	})
}
