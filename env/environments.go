package env

// WEnvironment can be used to inject a custom page writer that is different from normal io.Writer.
// This is useful when, for example, header pages need to be stored separately.
type WEnvironment interface {
	// WriteHeader is called once with the header pages.
	WriteHeader(p []byte) (n int, err error)
	// WritePage is called each time one or more audio pages are ready.
	WritePage(p []byte) (n int, err error)
}

// REnvironment can be used to inject a custom stream reader that is different from normal io.ReadSeeker.
// This is useful when, for example, the stream is fetched with ranged requests.
type REnvironment interface {
	// Size returns the total size of the stream, or a negative value if it is not known.
	// Seeking by sample requires a known size.
	Size() (int64, error)
	// ReadChunk reads up to len(p) bytes starting at the absolute offset off.
	// io.EOF signals the end of the stream.
	ReadChunk(p []byte, off int64) (n int, err error)
}
