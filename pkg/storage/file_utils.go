package storage

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

type fileType int

const (
	lockFileType fileType = iota
	logFileType
)

const (
	lockFileName = "LOCK"
	logFileExt   = ".log"
)

// getDbFileName returns the name of the file stored on the disk for a particular type and number.
func getDbFileName(dirname string, fileType fileType, fileNum uint64) string {
	// reset trailing slashes
	for len(dirname) > 0 && dirname[len(dirname)-1] == os.PathSeparator {
		dirname = dirname[:len(dirname)-1]
	}

	switch fileType {
	case lockFileType:
		return fmt.Sprintf("%s%c%s", dirname, os.PathSeparator, lockFileName)
	case logFileType:
		return fmt.Sprintf("%s%c%06d%s", dirname, os.PathSeparator, fileNum, logFileExt)
	}

	panic("invalid file type")
}

// parseLogFileNumber returns the number of a log file name such as 000012.log.
func parseLogFileNumber(name string) (uint64, bool) {
	if !strings.HasSuffix(name, logFileExt) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, logFileExt), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// listLogFiles returns the numbers of all the log files in dirname in increasing order.
func listLogFiles(fs FileSystem, dirname string) ([]uint64, error) {
	names, err := fs.List(dirname)
	if err != nil {
		return nil, err
	}
	var nums []uint64
	for _, name := range names {
		if n, ok := parseLogFileNumber(name); ok {
			nums = append(nums, n)
		}
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}
