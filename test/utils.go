package test

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"

	"github.com/dr0pdb/icecanexa/pkg/xid"
)

// TestFormatID is the format id of the xids created by the fixtures.
const TestFormatID int32 = 0x1ce

var (
	// TestKeys - test data
	TestKeys [][]byte = [][]byte{[]byte("Key1"), []byte("Key2"), []byte("Key3"), []byte("Key4"), []byte("Key5")}

	// TestValues - test data
	TestValues [][]byte = [][]byte{[]byte("Value1"), []byte("Value2"), []byte("Value3"), []byte("Value4"), []byte("Value5")}

	// TestDirectory is the directory used by tests that need the os file system.
	TestDirectory = path.Join(os.TempDir(), "icecanexatest")
)

// TestXid returns the xid of branch b of the global transaction g.
func TestXid(g, b int) xid.Xid {
	return xid.MustNew(TestFormatID, []byte(fmt.Sprintf("gtrid-%d", g)), []byte(fmt.Sprintf("bqual-%d", b)))
}

// TestXids returns n xids of distinct global transactions.
func TestXids(n int) []xid.Xid {
	res := make([]xid.Xid, n)
	for i := range res {
		res[i] = TestXid(i, 0)
	}
	return res
}

// CreateTestDirectory creates a test directory for running tests.
func CreateTestDirectory(testDirectory string) {
	os.MkdirAll(testDirectory, os.ModePerm)
}

// CleanupTestDirectory cleans up the test directory.
func CleanupTestDirectory(testDirectory string) error {
	dir, err := ioutil.ReadDir(testDirectory)
	if err != nil {
		return err
	}
	for _, d := range dir {
		os.RemoveAll(path.Join([]string{testDirectory, d.Name()}...))
	}
	return nil
}
