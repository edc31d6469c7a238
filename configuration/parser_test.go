package configuration

import (
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type localLog struct {
	Formatter string            `yaml:"formatter,omitempty"`
	Fields    map[string]string `yaml:"fields,omitempty"`
}

type localStorage struct {
	StagingRoot string `yaml:"stagingroot"`
}

type localConfiguration struct {
	Version Version      `yaml:"version"`
	Log     *localLog    `yaml:"log"`
	Storage localStorage `yaml:"storage"`
}

const testConfig = `version: "0.1"
log:
  formatter: "text"
storage:
  stagingroot: "/data/staging"`

func newLocalParser(config localConfiguration) *Parser {
	return NewParser("uploadfiles", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(config),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	})
}

func TestParserOverwritesNestedStructField(t *testing.T) {
	config := localConfiguration{}

	os.Setenv("UPLOADFILES_LOG_FORMATTER", "json")
	defer os.Unsetenv("UPLOADFILES_LOG_FORMATTER")
	os.Setenv("UPLOADFILES_STORAGE_STAGINGROOT", "/override/staging")
	defer os.Unsetenv("UPLOADFILES_STORAGE_STAGINGROOT")

	p := newLocalParser(config)
	require.NoError(t, p.Parse([]byte(testConfig), &config))

	want := localConfiguration{
		Version: "0.1",
		Log:     &localLog{Formatter: "json"},
		Storage: localStorage{StagingRoot: "/override/staging"},
	}
	assert.Equal(t, want, config)
}

func TestParserOverwritesMapLeafByKey(t *testing.T) {
	config := localConfiguration{}

	os.Setenv("UPLOADFILES_LOG_FIELDS_ENVIRONMENT", "staging")
	defer os.Unsetenv("UPLOADFILES_LOG_FIELDS_ENVIRONMENT")

	p := newLocalParser(config)
	require.NoError(t, p.Parse([]byte(testConfig), &config))

	require.NotNil(t, config.Log)
	assert.Equal(t, map[string]string{"environment": "staging"}, config.Log.Fields)
}

func TestParserUnsupportedVersionFails(t *testing.T) {
	config := localConfiguration{}
	p := newLocalParser(config)
	assert.Error(t, p.Parse([]byte(`version: "9.9"`), &config))
}
