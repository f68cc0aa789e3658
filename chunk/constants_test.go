package chunk

// Common test sizes.
const (
	testChunkSize  = 16 * 1024
	testFileSize50 = 50 * 1024
	testFileSize48 = 48 * 1024
)
