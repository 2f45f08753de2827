package storage

import (
	"io"
	"io/ioutil"
	"os"
)

// File is an file abstraction.
//
// It can be *os.File or an in-memory file.
type File interface {
	io.Reader
	io.Writer
	io.Closer

	// Sync commits the written contents to stable storage.
	Sync() error
}

// FileSystem is the file system abstraction.
//
// Contains functions which can be used to interact with the file system.
// Mainly a 1:1 mapping over the File interface: https://golang.org/pkg/os/#File
type FileSystem interface {
	// Create creates or truncates the file.
	Create(name string) (File, error)

	// Open opens the file for reading.
	// returns error if the file is not found.
	Open(name string) (File, error)

	// Remove removes the file.
	// returns error if the file isn't found.
	Remove(name string) error

	// Rename renames the file from oldname to newname.
	// return error if the file with oldname is not found.
	Rename(oldname, newname string) error

	// MkdirAll creates a dir with all the parents.
	//
	// returns nil if the operation was success or the dir already exists.
	MkdirAll(dir string, perm os.FileMode) error

	// List returns the names of the entries in the directory.
	List(dir string) ([]string, error)

	// Lock obtains exclusive access to the given lock file.
	//
	// The returned closer releases the lock.
	Lock(name string) (io.Closer, error)
}

// DefaultFileSystem is a FileSystem implementation of the operating system.
var DefaultFileSystem FileSystem = defaultFileSystem{}

type defaultFileSystem struct{}

func (dfs defaultFileSystem) Create(name string) (File, error) {
	return os.Create(name)
}

func (dfs defaultFileSystem) Open(name string) (File, error) {
	return os.Open(name)
}

func (dfs defaultFileSystem) Remove(name string) error {
	return os.Remove(name)
}

func (dfs defaultFileSystem) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (dfs defaultFileSystem) MkdirAll(dir string, perm os.FileMode) error {
	return os.MkdirAll(dir, perm)
}

func (dfs defaultFileSystem) List(dir string) ([]string, error) {
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (dfs defaultFileSystem) Lock(name string) (io.Closer, error) {
	return lockFile(name)
}
