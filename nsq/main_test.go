package nsq

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Goroutines whose top frame is time.Sleep (such as a test's
		// delayed Finish) are excluded from the leak check.
		goleak.IgnoreTopFunction("time.Sleep"),
	)
}
