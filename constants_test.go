package webdrop

import "time"

// Common test constants used across multiple test files.
const (
	// waitTimeout bounds how long a test waits for an asynchronous event.
	waitTimeout = 3 * time.Second

	// pollInterval is the polling period used with require.Eventually.
	pollInterval = 5 * time.Millisecond

	// testFileSize50KB spans several default-sized chunks.
	testFileSize50KB = 50 * 1024

	testFileName = "holiday.bin"
)

// testPayload returns size bytes of deterministic content.
func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func waitTimeoutChan() <-chan time.Time {
	return time.After(waitTimeout)
}
