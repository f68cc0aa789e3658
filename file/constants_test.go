package file

import "time"

const (
	waitTimeout  = 3 * time.Second
	pollInterval = 5 * time.Millisecond
)

// Common test file size constants.
const (
	testFileSize1KB  = 1024
	testFileSize50KB = 50 * 1024
	testChunkSize    = 16 * 1024
)
