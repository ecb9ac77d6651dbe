package context

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/network"
	"github.com/APTrust/relay/util/logger"
	"github.com/APTrust/relay/util/storage"
	"github.com/minio/minio-go"
	"github.com/op/go-logging"
)

/*
Context sets up the items common to the relay services: config,
logging, the persistent store, and the network clients. It also
encapsulates some functions common to all of those services.
*/
type Context struct {
	Config         *models.Config
	MessageLog     *logging.Logger
	TransferClient *network.TransferClient
	Store          *storage.Store
	pathToLogFile  string
	succeeded      int64
	failed         int64
}

/*
NewContext creates and returns a new Context object. Because some
items are absolutely required by this object and the processes that
use it, this method will panic if it gets an invalid config param
from the command line, or if it cannot set up some essential
services, such as logging or the persistent store.
*/
func NewContext(config *models.Config) (context *Context) {
	context = &Context{
		succeeded: int64(0),
		failed:    int64(0),
	}
	context.Config = config
	context.MessageLog, context.pathToLogFile = logger.InitLogger(config)
	context.initStore()
	context.initTransferClient()
	return context
}

// Initializes the persistent store that holds credentials,
// collections, buckets and pipeline records.
func (context *Context) initStore() {
	store, err := storage.NewStore(context.Config.DBPath)
	if err != nil {
		message := fmt.Sprintf("Exiting. Cannot open database at %s: %v",
			context.Config.DBPath, err)
		fmt.Fprintln(os.Stderr, message)
		context.MessageLog.Fatal(message)
	}
	context.Store = store
}

// Initializes a reusable transfer service client.
func (context *Context) initTransferClient() {
	retry := network.RetrySettings{
		MaxRetries: context.Config.MonitorWorker.Retries(),
		BaseDelay:  context.Config.MonitorWorker.BaseDelay(),
		MaxDelay:   context.Config.MonitorWorker.MaxDelay(),
	}
	transferClient, err := network.NewTransferClient(
		context.Config.TransferServiceURL,
		context.Config.TransferAPIVersion,
		context.Config.TransferTokenURL,
		context.Config.OAuthClientId,
		retry,
		context.MessageLog)
	if err != nil {
		message := fmt.Sprintf("Exiting. Cannot initialize transfer client: %v", err)
		fmt.Fprintln(os.Stderr, message)
		context.MessageLog.Fatal(message)
	}
	context.TransferClient = transferClient
}

// Returns the number of pipelines that reached Completed.
func (context *Context) Succeeded() int64 {
	return atomic.LoadInt64(&context.succeeded)
}

// Returns the number of pipelines that reached Failed.
func (context *Context) Failed() int64 {
	return atomic.LoadInt64(&context.failed)
}

// Increases the count of completed pipelines by one.
func (context *Context) IncrementSucceeded() int64 {
	return atomic.AddInt64(&context.succeeded, 1)
}

// Increases the count of failed pipelines by one.
func (context *Context) IncrementFailed() int64 {
	return atomic.AddInt64(&context.failed, 1)
}

// Returns the path to this process' log file.
func (context *Context) PathToLogFile() string {
	return context.pathToLogFile
}

// Logs info about the number of pipelines that have succeeded and failed.
func (context *Context) LogStats() {
	context.MessageLog.Info("**STATS** Succeeded: %d, Failed: %d",
		context.Succeeded(), context.Failed())
}

// GetS3Client returns a Minio client, used at registration time to
// verify that buckets actually exist before we create pipelines that
// reference them. For url param, do not include protocol. E.g. use
// "s3.amazonaws.com", not "https://s3.amazonaws.com". The Minio
// client will use https by default.
func (context *Context) GetS3Client(url, accessKeyId, secretAccessKey string) (*minio.Client, error) {
	return minio.New(url, accessKeyId, secretAccessKey, true)
}
