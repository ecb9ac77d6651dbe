package models

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/op/go-logging"
)

// WorkerConfig describes the polling behavior of one of the two
// worker loops (transfer monitor, copy orchestrator).
type WorkerConfig struct {
	// NetworkConnections is the number of goroutines allowed to talk
	// to the external service at once. All of a cycle's status
	// queries are multiplexed over these connections, so one slow
	// pipeline never blocks the others.
	NetworkConnections int

	// PollInterval is how long to sleep between polling cycles,
	// formatted like "30s" or "2m".
	PollInterval string

	// MaxRetries is the number of times a single network call is
	// retried on transient errors (timeouts, rate limits, 5xx)
	// before the cycle gives up and tries again next time around.
	MaxRetries int

	// RetryBaseDelay is the initial backoff delay between retries,
	// formatted like "500ms". Each retry doubles it.
	RetryBaseDelay string

	// RetryMaxDelay caps the backoff delay, formatted like "30s".
	RetryMaxDelay string
}

// Interval returns the parsed PollInterval, defaulting to 30 seconds
// if the setting is missing or unparseable.
func (wc *WorkerConfig) Interval() time.Duration {
	return parseDuration(wc.PollInterval, 30*time.Second)
}

// BaseDelay returns the parsed RetryBaseDelay, defaulting to 500ms.
func (wc *WorkerConfig) BaseDelay() time.Duration {
	return parseDuration(wc.RetryBaseDelay, 500*time.Millisecond)
}

// MaxDelay returns the parsed RetryMaxDelay, defaulting to 30 seconds.
func (wc *WorkerConfig) MaxDelay() time.Duration {
	return parseDuration(wc.RetryMaxDelay, 30*time.Second)
}

// Retries returns MaxRetries, defaulting to 5 when unset.
func (wc *WorkerConfig) Retries() int {
	if wc.MaxRetries <= 0 {
		return 5
	}
	return wc.MaxRetries
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

type Config struct {
	// ActiveConfig is the configuration currently in use.
	ActiveConfig string

	// TransferServiceURL is the base URL of the transfer service's
	// REST API, without a trailing slash.
	TransferServiceURL string

	// TransferAPIVersion is the API version path segment, e.g. "v0.10".
	TransferAPIVersion string

	// TransferTokenURL is the OAuth token endpoint used to refresh
	// transfer-service access tokens.
	TransferTokenURL string

	// OAuthClientId is our native-app client id at the transfer
	// service's authorization server.
	OAuthClientId string

	// AWSRegion is the default region for buckets that don't specify
	// their own.
	AWSRegion string

	// DBPath is the path to the bolt database file that holds
	// credentials, collections, buckets and pipelines. Relative paths
	// are resolved against the working directory.
	DBPath string

	// UnknownStatusLimit is how many consecutive "task not found"
	// responses we tolerate before declaring a transfer failed.
	// A single unknown is usually a transient service hiccup.
	UnknownStatusLimit int

	// MonitorWorker configures the transfer status polling loop.
	MonitorWorker WorkerConfig

	// CopyWorker configures the copy orchestration loop.
	CopyWorker WorkerConfig

	// LogDirectory is where we write our log files.
	LogDirectory string

	// LogLevel is defined in github.com/op/go-logging and should be
	// one of the following: CRITICAL, ERROR, WARNING, NOTICE, INFO, DEBUG.
	LogLevel logging.Level

	// If true, processes will log to STDERR in addition to writing
	// to their standard log files.
	LogToStderr bool
}

// LoadConfigFile returns the configuration that the user requested,
// which is specified in the -config flag when we run a program from
// the command line.
func LoadConfigFile(pathToConfigFile string) (*Config, error) {
	data, err := ioutil.ReadFile(pathToConfigFile)
	if err != nil {
		return nil, fmt.Errorf("Error reading config file '%s': %v",
			pathToConfigFile, err)
	}
	config := &Config{}
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("Error parsing JSON from config file '%s': %v",
			pathToConfigFile, err)
	}
	config.ActiveConfig = pathToConfigFile
	return config, nil
}

// UnknownLimit returns UnknownStatusLimit, defaulting to 3.
func (config *Config) UnknownLimit() int {
	if config.UnknownStatusLimit <= 0 {
		return 3
	}
	return config.UnknownStatusLimit
}

// EnsureLogDirectory makes sure the logging directory exists,
// creating it if necessary. Returns the absolute path of the
// logging directory.
func (config *Config) EnsureLogDirectory() (string, error) {
	absLogDir := config.AbsLogDirectory()
	err := os.MkdirAll(absLogDir, 0755)
	if err != nil {
		return "", err
	}
	return absLogDir, nil
}

func (config *Config) AbsLogDirectory() string {
	logDir := config.LogDirectory
	if logDir == "" {
		logDir = "."
	}
	absLogDir, err := filepath.Abs(logDir)
	if err != nil {
		msg := fmt.Sprintf("Cannot get absolute path to log directory. "+
			"config.LogDirectory is set to '%s'", config.LogDirectory)
		panic(msg)
	}
	return absLogDir
}

// EnsureTransferConfig returns an error if any of the settings
// required to reach the transfer service are missing.
func (config *Config) EnsureTransferConfig() error {
	if config.TransferServiceURL == "" {
		return fmt.Errorf("TransferServiceURL is missing from config file")
	}
	if config.TransferTokenURL == "" {
		return fmt.Errorf("TransferTokenURL is missing from config file")
	}
	if config.OAuthClientId == "" {
		return fmt.Errorf("OAuthClientId is missing from config file")
	}
	return nil
}

func (config *Config) TestsAreRunning() bool {
	return flag.Lookup("test.v") != nil
}

// GetAWSAccessKeyId returns the AWS Access Key ID from the
// environment, or an empty string if the ENV var isn't set. In test
// context, this returns a dummy key id so we don't get an error in
// the CI environment.
func (config *Config) GetAWSAccessKeyId() string {
	keyId := os.Getenv("AWS_ACCESS_KEY_ID")
	if keyId == "" && config.TestsAreRunning() {
		keyId = "TestKeyId"
	}
	return keyId
}

// GetAWSSecretAccessKey returns the AWS Secret Access Key from the
// environment, or an empty string if the ENV var isn't set. In test
// context, this returns a dummy key so we don't get an error in the
// CI environment.
func (config *Config) GetAWSSecretAccessKey() string {
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if secretKey == "" && config.TestsAreRunning() {
		secretKey = "TestSecretKey"
	}
	return secretKey
}
