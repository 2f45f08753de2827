package common

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	dir, err := ioutil.TempDir("", "icecanexa-config")
	require.Nil(t, err, "Unexpected error while creating temp dir")
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "rm.yaml")
	require.Nil(t, ioutil.WriteFile(path, []byte(contents), 0644), "Unexpected error while writing config file")
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	conf := NewDefaultRMConfig()
	assert.Nil(t, conf.Validate(), "default config should be valid")
	assert.Equal(t, EngineIcecane, conf.Engine)
	assert.True(t, conf.SyncWrites)
}

func TestValidateRejectsBadValues(t *testing.T) {
	conf := NewDefaultRMConfig()
	conf.Engine = "bdb"
	assert.NotNil(t, conf.Validate(), "unknown engine should fail validation")

	conf = NewDefaultRMConfig()
	conf.Home = ""
	assert.NotNil(t, conf.Validate(), "empty home should fail validation")

	conf = NewDefaultRMConfig()
	conf.TransactionTimeout = -1
	assert.NotNil(t, conf.Validate(), "negative timeout should fail validation")

	conf = NewDefaultRMConfig()
	conf.RecoverBatchSize = 0
	assert.NotNil(t, conf.Validate(), "zero batch size should fail validation")

	conf = NewDefaultRMConfig()
	conf.LogLevel = "loud"
	assert.NotNil(t, conf.Validate(), "unknown log level should fail validation")
}

func TestLoadFromFileOverridesOnlyPresentKeys(t *testing.T) {
	path := writeConfigFile(t, "home: /tmp/rm1\nengine: pebble\nsyncWrites: false\n")

	conf := NewDefaultRMConfig()
	conf.LoadFromFile(path)

	assert.Equal(t, "/tmp/rm1", conf.Home)
	assert.Equal(t, EnginePebble, conf.Engine)
	assert.False(t, conf.SyncWrites)
	assert.Equal(t, int32(defaultTransactionTimeout), conf.TransactionTimeout, "missing key should keep the default")
	assert.Equal(t, defaultRecoverBatchSize, conf.RecoverBatchSize, "missing key should keep the default")
}

func TestLoadFromFileKeepsConfigOnError(t *testing.T) {
	conf := NewDefaultRMConfig()
	conf.LoadFromFile("/nonexistent/icecanexa/rm.yaml")
	assert.Equal(t, NewDefaultRMConfig(), conf, "config should be untouched when the file is missing")

	path := writeConfigFile(t, "home: [unterminated\n")
	conf.LoadFromFile(path)
	assert.Equal(t, NewDefaultRMConfig(), conf, "config should be untouched when the file is malformed")
}

func TestReadFromFileReportsErrors(t *testing.T) {
	conf := NewDefaultRMConfig()
	assert.NotNil(t, conf.ReadFromFile("/nonexistent/icecanexa/rm.yaml"), "missing file should be an error")
	assert.Equal(t, NewDefaultRMConfig(), conf)

	path := writeConfigFile(t, "home: [unterminated\n")
	assert.NotNil(t, conf.ReadFromFile(path), "malformed file should be an error")
	assert.Equal(t, NewDefaultRMConfig(), conf)

	path = writeConfigFile(t, "home: /tmp/rm2\n")
	assert.Nil(t, conf.ReadFromFile(path))
	assert.Equal(t, "/tmp/rm2", conf.Home)
}

func TestClone(t *testing.T) {
	conf := NewDefaultRMConfig()
	c := conf.Clone("/tmp/other")
	assert.Equal(t, "/tmp/other", c.Home)
	assert.NotEqual(t, conf.Home, c.Home, "clone should not modify the source config")
}
