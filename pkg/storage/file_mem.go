package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// memFileSystem is an in-memory FileSystem.
//
// Written data survives Close of the writing file, so dropping a storage
// without closing it and reopening on the same memFileSystem behaves like a process restart.
type memFileSystem struct {
	mu    sync.Mutex
	files map[string]*memFileData
	locks map[string]bool

	// failWrites makes every write fail while it is set.
	failWrites bool
}

type memFileData struct {
	mu   sync.Mutex
	data []byte
}

// NewMemFileSystem returns a new, empty in-memory file system.
func NewMemFileSystem() FileSystem {
	return &memFileSystem{
		files: make(map[string]*memFileData),
		locks: make(map[string]bool),
	}
}

func (fs *memFileSystem) Create(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d := &memFileData{}
	fs.files[filepath.Clean(name)] = d
	return &memFile{fs: fs, data: d, writable: true}, nil
}

func (fs *memFileSystem) Open(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d, ok := fs.files[filepath.Clean(name)]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return &memFile{fs: fs, data: d}, nil
}

func (fs *memFileSystem) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	name = filepath.Clean(name)
	if _, ok := fs.files[name]; !ok {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(fs.files, name)
	return nil
}

func (fs *memFileSystem) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldname, newname = filepath.Clean(oldname), filepath.Clean(newname)
	d, ok := fs.files[oldname]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
	}
	delete(fs.files, oldname)
	fs.files[newname] = d
	return nil
}

// MkdirAll is a no-op. directories exist implicitly.
func (fs *memFileSystem) MkdirAll(dir string, perm os.FileMode) error {
	return nil
}

func (fs *memFileSystem) List(dir string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prefix := filepath.Clean(dir) + string(os.PathSeparator)
	var names []string
	for name := range fs.files {
		if strings.HasPrefix(name, prefix) && !strings.Contains(name[len(prefix):], string(os.PathSeparator)) {
			names = append(names, name[len(prefix):])
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *memFileSystem) Lock(name string) (io.Closer, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	name = filepath.Clean(name)
	if fs.locks[name] {
		return nil, fmt.Errorf("lock %s is held by another storage", name)
	}
	fs.locks[name] = true
	if _, ok := fs.files[name]; !ok {
		fs.files[name] = &memFileData{}
	}
	return &memLock{fs: fs, name: name}, nil
}

// setFailWrites toggles write failures.
func (fs *memFileSystem) setFailWrites(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failWrites = fail
}

func (fs *memFileSystem) writesFailing() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.failWrites
}

// truncate cuts the file down to size bytes.
func (fs *memFileSystem) truncate(name string, size int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if d, ok := fs.files[filepath.Clean(name)]; ok {
		d.mu.Lock()
		if size < len(d.data) {
			d.data = d.data[:size]
		}
		d.mu.Unlock()
	}
}

type memLock struct {
	fs   *memFileSystem
	name string
}

func (l *memLock) Close() error {
	l.fs.mu.Lock()
	defer l.fs.mu.Unlock()
	delete(l.fs.locks, l.name)
	return nil
}

type memFile struct {
	fs       *memFileSystem
	data     *memFileData
	off      int
	writable bool
}

func (f *memFile) Read(p []byte) (int, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	if f.off >= len(f.data.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data.data[f.off:])
	f.off += n
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, fmt.Errorf("memfs: file not opened for writing")
	}
	if f.fs.writesFailing() {
		return 0, fmt.Errorf("memfs: injected write failure")
	}
	f.data.mu.Lock()
	defer f.data.mu.Unlock()
	f.data.data = append(f.data.data, p...)
	return len(p), nil
}

func (f *memFile) Sync() error {
	return nil
}

func (f *memFile) Close() error {
	return nil
}
