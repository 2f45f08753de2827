package storage

// Options defines all of the configuration options available with the storage layer.
type Options struct {
	// CreateIfNotExist creates the storage directory if it's missing.
	CreateIfNotExist bool

	// The instance of FileSystem interface that is going to be used to store data.
	// nil means DefaultFileSystem which uses the default OS file system.
	Fs FileSystem

	// Sync makes every autocommit write sync the log before returning.
	// Prepare, commit and heuristic records are always synced.
	Sync bool

	// Verbose enables the debug logs of the storage layer.
	Verbose bool
}

// WriteOptions control a single autocommit write.
type WriteOptions struct {
	// Sync the log before returning.
	Sync bool
}
