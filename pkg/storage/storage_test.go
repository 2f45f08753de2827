package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dr0pdb/icecanexa/internal/common"
	"github.com/dr0pdb/icecanexa/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStorageDir = "/icecanexa/storage"

type storageTestHarness struct {
	t  *testing.T
	fs *memFileSystem
	s  *Storage
}

func newStorageTestHarness(t *testing.T) *storageTestHarness {
	h := &storageTestHarness{
		t:  t,
		fs: NewMemFileSystem().(*memFileSystem),
	}
	h.open()
	return h
}

func (h *storageTestHarness) open() {
	s, err := NewStorage(testStorageDir, &Options{CreateIfNotExist: true, Fs: h.fs})
	require.Nil(h.t, err, "Unexpected error in creating new storage")
	require.Nil(h.t, s.Open(), "Unexpected error in opening storage")
	h.s = s
}

// restart closes the storage ignoring errors and opens it again from the log.
func (h *storageTestHarness) restart() {
	h.s.Close()
	h.open()
}

func (h *storageTestHarness) close() {
	h.s.Close()
}

func (h *storageTestHarness) logFileName() string {
	return getDbFileName(testStorageDir, logFileType, h.s.logNumber)
}

func (h *storageTestHarness) prepare(xid string, keys ...int) *Txn {
	txn := h.s.BeginTxn()
	for _, i := range keys {
		assert.Nil(h.t, txn.Set(test.TestKeys[i], test.TestValues[i]))
	}
	_, err := txn.Prepare([]byte(xid))
	require.Nil(h.t, err, "Unexpected error in preparing the transaction")
	return txn
}

func TestOpenDBWithDefaultComparator(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	assert.Equal(t, DefaultComparator, h.s.ukComparator, "Default comparator not set when not passing any custom comparator")
}

func TestOpenOnOsFileSystem(t *testing.T) {
	test.CreateTestDirectory(test.TestDirectory)
	defer test.CleanupTestDirectory(test.TestDirectory)

	s, err := NewStorage(test.TestDirectory, &Options{CreateIfNotExist: true, Sync: true})
	assert.Nil(t, err, "Unexpected error in creating new storage")
	require.Nil(t, s.Open(), "Unexpected error in opening database")

	assert.Nil(t, s.Set(test.TestKeys[0], test.TestValues[0], nil))
	assert.Nil(t, s.Close())

	s, err = NewStorage(test.TestDirectory, &Options{})
	assert.Nil(t, err)
	require.Nil(t, s.Open(), "Unexpected error in reopening database")
	defer s.Close()

	val, err := s.Get(test.TestKeys[0])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[0], val, "value not recovered from the log")
}

func TestSecondOpenFailsOnLock(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	s, err := NewStorage(testStorageDir, &Options{Fs: h.fs})
	assert.Nil(t, err)
	assert.NotNil(t, s.Open(), "a second storage on the same directory must not open")
}

func TestFunctionality(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()
	s := h.s

	for i := range test.TestKeys {
		err := s.Set(test.TestKeys[i], test.TestValues[i], nil)
		assert.Nil(t, err, fmt.Sprintf("Unexpected error in setting value for key%d", i))
	}

	for i := range test.TestKeys {
		val, err := s.Get(test.TestKeys[i])
		assert.Nil(t, err)
		assert.Equal(t, test.TestValues[i], val, fmt.Sprintf("Unexpected value for key%d. Expected %v, found %v", i, test.TestValues[i], val))
	}

	err := s.Delete(test.TestKeys[0], nil)
	assert.Nil(t, err, fmt.Sprintf("Unexpected error in deleting value for key%d", 0))

	_, err = s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err, fmt.Sprintf("Found entry for key%d when it was deleted", 0))

	err = s.Delete(test.TestKeys[0], nil)
	assert.Nil(t, err, "deleting a missing key should succeed")

	val, err := s.Get(test.TestKeys[3])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[3], val)
}

func TestReopenReplaysLog(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	for i := range test.TestKeys {
		assert.Nil(t, h.s.Set(test.TestKeys[i], test.TestValues[i], &WriteOptions{Sync: true}))
	}
	assert.Nil(t, h.s.Delete(test.TestKeys[1], nil))

	for round := 0; round < 3; round++ {
		h.restart()

		_, err := h.s.Get(test.TestKeys[1])
		assert.IsType(t, common.NotFoundError{}, err, "deleted key came back after restart")
		for _, i := range []int{0, 2, 3, 4} {
			val, err := h.s.Get(test.TestKeys[i])
			assert.Nil(t, err, fmt.Sprintf("round %d: key%d missing after restart", round, i))
			assert.Equal(t, test.TestValues[i], val)
		}

		nums, err := listLogFiles(h.fs, testStorageDir)
		assert.Nil(t, err)
		assert.Equal(t, []uint64{h.s.logNumber}, nums, "old logs should be removed after the checkpoint")
	}
}

func TestTornLogTail(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	assert.Nil(t, h.s.Set(test.TestKeys[0], test.TestValues[0], nil))
	assert.Nil(t, h.s.Set(test.TestKeys[1], test.TestValues[1], nil))
	name := h.logFileName()
	h.s.Close()

	size := len(h.fs.files[name].data)
	h.fs.truncate(name, size-2)
	h.open()

	val, err := h.s.Get(test.TestKeys[0])
	assert.Nil(t, err, "complete record should survive a torn tail")
	assert.Equal(t, test.TestValues[0], val)

	_, err = h.s.Get(test.TestKeys[1])
	assert.IsType(t, common.NotFoundError{}, err, "torn record should be dropped")
}

func TestTxnReadYourWrites(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	assert.Nil(t, h.s.Set(test.TestKeys[0], test.TestValues[0], nil))

	txn := h.s.BeginTxn()
	assert.False(t, txn.Dirty(), "new transaction should not be dirty")

	val, err := txn.Get(test.TestKeys[0])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[0], val)

	assert.Nil(t, txn.Set(test.TestKeys[1], test.TestValues[1]))
	assert.Nil(t, txn.Delete(test.TestKeys[0]))
	assert.True(t, txn.Dirty())

	_, err = txn.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err, "delete not visible inside the transaction")
	val, err = txn.Get(test.TestKeys[1])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[1], val)

	_, err = h.s.Get(test.TestKeys[1])
	assert.IsType(t, common.NotFoundError{}, err, "uncommitted write leaked out of the transaction")

	assert.Nil(t, txn.Commit())
	val, err = h.s.Get(test.TestKeys[1])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[1], val)

	assert.IsType(t, common.CommittedTransactionError{}, txn.Set(test.TestKeys[2], test.TestValues[2]))
	assert.IsType(t, common.CommittedTransactionError{}, txn.Commit())
}

func TestTxnRollback(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	txn := h.s.BeginTxn()
	assert.Nil(t, txn.Set(test.TestKeys[0], test.TestValues[0]))
	assert.Nil(t, txn.Rollback())
	assert.IsType(t, common.AbortedTransactionError{}, txn.Commit())

	_, err := h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err)
}

func TestPrepareCommit(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	txn := h.prepare("xid-1", 0, 1)
	assert.NotZero(t, txn.Token())
	assert.IsType(t, common.PreparedTransactionError{}, txn.Set(test.TestKeys[2], test.TestValues[2]))

	prepared := h.s.Prepared()
	require.Equal(t, 1, len(prepared))
	assert.Equal(t, txn.Token(), prepared[0].Token)
	assert.Equal(t, []byte("xid-1"), prepared[0].Xid)
	assert.Equal(t, common.OutcomeNone, prepared[0].Outcome)

	_, err := h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err, "prepared write visible before commit")

	assert.Nil(t, txn.Commit())
	val, err := h.s.Get(test.TestKeys[0])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[0], val)
	assert.Empty(t, h.s.Prepared())

	h.restart()
	assert.Empty(t, h.s.Prepared(), "committed transaction came back as prepared")
	val, err = h.s.Get(test.TestKeys[1])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[1], val)
}

func TestPrepareRollback(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	txn := h.prepare("xid-1", 0)
	assert.Nil(t, txn.Rollback())
	assert.Empty(t, h.s.Prepared())

	h.restart()
	assert.Empty(t, h.s.Prepared())
	_, err := h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err)
}

func TestPreparedSurvivesRestart(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	first := h.prepare("xid-1", 0)
	h.prepare("xid-2", 1)
	assert.Nil(t, h.s.Set(test.TestKeys[4], test.TestValues[4], nil))

	for round := 0; round < 2; round++ {
		h.restart()

		prepared := h.s.Prepared()
		require.Equal(t, 2, len(prepared), fmt.Sprintf("round %d: prepared transactions lost", round))
		assert.Equal(t, []byte("xid-1"), prepared[0].Xid)
		assert.Equal(t, []byte("xid-2"), prepared[1].Xid)
	}

	txn, err := h.s.Resume(first.Token())
	require.Nil(t, err)
	assert.Nil(t, txn.Commit())

	next := h.prepare("xid-3", 2)
	assert.Greater(t, next.Token(), h.s.Prepared()[0].Token, "token reused after restart")

	h.restart()
	val, err := h.s.Get(test.TestKeys[0])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[0], val)
	val, err = h.s.Get(test.TestKeys[4])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[4], val)
	assert.Equal(t, 2, len(h.s.Prepared()))

	_, err = h.s.Resume(1000)
	assert.IsType(t, common.NotFoundError{}, err)
}

func TestHeuristicCommitThenForget(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	txn := h.prepare("xid-1", 0)
	assert.Nil(t, h.s.HeuristicCommit(txn.Token()))

	val, err := h.s.Get(test.TestKeys[0])
	assert.Nil(t, err, "heuristic commit should apply the writes")
	assert.Equal(t, test.TestValues[0], val)

	err = txn.Commit()
	assert.Equal(t, common.NewHeuristicError(common.OutcomeCommitted, "transaction was completed heuristically"), err)
	err = txn.Rollback()
	assert.IsType(t, common.HeuristicError{}, err)

	h.restart()
	prepared := h.s.Prepared()
	require.Equal(t, 1, len(prepared))
	assert.Equal(t, common.OutcomeCommitted, prepared[0].Outcome)

	assert.Nil(t, h.s.Set(test.TestKeys[0], test.TestValues[1], nil))
	h.restart()
	val, err = h.s.Get(test.TestKeys[0])
	assert.Nil(t, err)
	assert.Equal(t, test.TestValues[1], val, "heuristic batch replayed over a later write")

	assert.Nil(t, h.s.Forget(prepared[0].Token))
	assert.Empty(t, h.s.Prepared())

	h.restart()
	assert.Empty(t, h.s.Prepared())
}

func TestHeuristicRollback(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	txn := h.prepare("xid-1", 0)
	assert.Nil(t, txn.HeuristicallyComplete(false))
	assert.IsType(t, common.HeuristicError{}, h.s.HeuristicCommit(txn.Token()), "second heuristic decision should fail")

	_, err := h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err)

	err = txn.Rollback()
	he, ok := err.(common.HeuristicError)
	require.True(t, ok)
	assert.Equal(t, common.OutcomeRolledBack, he.Outcome)

	assert.Nil(t, txn.Forget())
	assert.Empty(t, h.s.Prepared())
}

func TestForgetInDoubtFails(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	txn := h.prepare("xid-1", 0)
	assert.IsType(t, common.PreparedTransactionError{}, h.s.Forget(txn.Token()))
	assert.IsType(t, common.NotFoundError{}, h.s.Forget(1000))
	assert.Equal(t, 1, len(h.s.Prepared()))
}

func TestCommitLogFailureIsHazard(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	txn := h.prepare("xid-1", 0)

	h.fs.setFailWrites(true)
	err := txn.Commit()
	he, ok := err.(common.HeuristicError)
	require.True(t, ok, "expected a heuristic error")
	assert.Equal(t, common.OutcomeHazard, he.Outcome)
	var ioe common.IOError
	assert.True(t, errors.As(err, &ioe), "hazard should carry the log failure")

	_, err = h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.NotFoundError{}, err)

	err = h.s.Set(test.TestKeys[1], test.TestValues[1], nil)
	assert.IsType(t, common.IOError{}, err, "log writer should stay broken")

	h.fs.setFailWrites(false)
	h.restart()

	prepared := h.s.Prepared()
	require.Equal(t, 1, len(prepared), "transaction should be in doubt again after restart")
	assert.Equal(t, common.OutcomeNone, prepared[0].Outcome)
}

func TestReadOnlyPrepare(t *testing.T) {
	h := newStorageTestHarness(t)
	defer h.close()

	txn := h.s.BeginTxn()
	assert.False(t, txn.Dirty())
	_, err := txn.Prepare([]byte("xid-ro"))
	assert.Nil(t, err)
	assert.Nil(t, txn.Commit())
	assert.Empty(t, h.s.Prepared())
}

func TestClosedStorage(t *testing.T) {
	h := newStorageTestHarness(t)
	txn := h.s.BeginTxn()
	assert.Nil(t, txn.Set(test.TestKeys[0], test.TestValues[0]))
	h.close()

	assert.IsType(t, common.ClosedStorageError{}, txn.Commit())
	_, err := txn.Prepare([]byte("xid"))
	assert.IsType(t, common.ClosedStorageError{}, err)
	_, err = h.s.Get(test.TestKeys[0])
	assert.IsType(t, common.ClosedStorageError{}, err)
	assert.IsType(t, common.ClosedStorageError{}, h.s.Close())
}
