package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/context"
	"github.com/APTrust/relay/models"
	"github.com/APTrust/relay/workers"
)

// relay watches transfer-service tasks that land data in a staging
// bucket we own, and once each task completes, copies the payload
// server-side into a destination bucket that may belong to another
// account. The transfer service can't write cross-account; S3's own
// copy API can, which is the whole reason this program exists.
func main() {
	config, command, args := parseCommandLine()
	_context := context.NewContext(config)
	_context.MessageLog.Info("relay started (command: %s)", command)

	var err error
	switch command {
	case "run":
		err = run(_context)
	case "register":
		err = register(_context, args)
	case "status":
		err = status(_context, args)
	case "cancel":
		err = cancel(_context, args)
	case "add-collection":
		err = addCollection(_context, args)
	case "add-bucket":
		err = addBucket(_context, args)
	case "store-token":
		err = storeToken(_context, args)
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		_context.MessageLog.Error(err.Error())
		os.Exit(1)
	}
}

// run starts the polling loops and blocks until interrupted.
func run(_context *context.Context) error {
	ensureStorageCredential(_context)
	coordinator := workers.NewCoordinator(_context)
	return coordinator.Run()
}

func register(_context *context.Context, args []string) error {
	flags := flag.NewFlagSet("register", flag.ExitOnError)
	collection := flags.String("collection", "", "UUID of the source collection")
	staging := flags.String("staging", "", "Name of the staging bucket")
	destination := flags.String("dest", "", "Name of the destination bucket")
	task := flags.String("task", "", "Transfer service task id")
	flags.Parse(args)
	if *collection == "" || *staging == "" || *destination == "" || *task == "" {
		return fmt.Errorf("register requires -collection, -staging, -dest and -task")
	}
	coordinator := workers.NewCoordinator(_context)
	p, err := coordinator.Register(*collection, *staging, *destination, *task)
	if err != nil {
		return err
	}
	fmt.Println(p.Id)
	return nil
}

func status(_context *context.Context, args []string) error {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	pipelineId := flags.String("pipeline", "", "Pipeline id")
	flags.Parse(args)
	if *pipelineId == "" {
		return fmt.Errorf("status requires -pipeline")
	}
	coordinator := workers.NewCoordinator(_context)
	p, err := coordinator.Status(*pipelineId)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("No pipeline with id %s", *pipelineId)
	}
	fmt.Println(p.String())
	if p.ErrorKind != "" {
		fmt.Printf("Error (%s): %s\n", p.ErrorKind, p.WorkSummary.AllErrorsAsString())
	}
	for _, obj := range p.Objects {
		status := "pending"
		if obj.Copied {
			status = "copied"
		} else if obj.ErrorMessage != "" {
			status = fmt.Sprintf("failed: %s", obj.ErrorMessage)
		}
		fmt.Printf("  %s (%d bytes): %s\n", obj.Key, obj.Size, status)
	}
	return nil
}

func cancel(_context *context.Context, args []string) error {
	flags := flag.NewFlagSet("cancel", flag.ExitOnError)
	pipelineId := flags.String("pipeline", "", "Pipeline id")
	flags.Parse(args)
	if *pipelineId == "" {
		return fmt.Errorf("cancel requires -pipeline")
	}
	coordinator := workers.NewCoordinator(_context)
	return coordinator.Cancel(*pipelineId)
}

func addCollection(_context *context.Context, args []string) error {
	flags := flag.NewFlagSet("add-collection", flag.ExitOnError)
	collectionId := flags.String("id", "", "UUID of the collection")
	flags.Parse(args)
	if *collectionId == "" {
		return fmt.Errorf("add-collection requires -id")
	}
	registrar := newRegistrar(_context)
	collection, err := registrar.AddCollection(*collectionId)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded collection %s (%s)\n", collection.Id, collection.Name)
	return nil
}

func addBucket(_context *context.Context, args []string) error {
	flags := flag.NewFlagSet("add-bucket", flag.ExitOnError)
	name := flags.String("name", "", "Bucket name")
	region := flags.String("region", _context.Config.AWSRegion, "Bucket region")
	owner := flags.String("owner", "", "Owning account hint")
	flags.Parse(args)
	if *name == "" {
		return fmt.Errorf("add-bucket requires -name")
	}
	registrar := newRegistrar(_context)
	bucket, err := registrar.AddBucket(*name, *region, *owner)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded bucket %s\n", bucket.Name)
	return nil
}

// storeToken records a transfer-service credential obtained by the
// external login flow. This program never runs the interactive
// ceremony itself; it just stores what the collaborator hands over.
func storeToken(_context *context.Context, args []string) error {
	flags := flag.NewFlagSet("store-token", flag.ExitOnError)
	token := flags.String("token", "", "Access token (or set RELAY_ACCESS_TOKEN)")
	refresh := flags.String("refresh", "", "Refresh token (or set RELAY_REFRESH_TOKEN)")
	expiresIn := flags.Int("expires-in", 0, "Seconds until the access token expires")
	flags.Parse(args)

	accessToken := *token
	if accessToken == "" {
		accessToken = os.Getenv("RELAY_ACCESS_TOKEN")
	}
	refreshToken := *refresh
	if refreshToken == "" {
		refreshToken = os.Getenv("RELAY_REFRESH_TOKEN")
	}
	if accessToken == "" {
		return fmt.Errorf("store-token requires -token or RELAY_ACCESS_TOKEN")
	}

	cred := models.NewCredential(constants.ScopeTransfer, _context.Config.OAuthClientId, accessToken)
	cred.RefreshToken = refreshToken
	if *expiresIn > 0 {
		cred.ExpiresAt = time.Now().UTC().Add(time.Duration(*expiresIn) * time.Second)
	}
	manager := workers.NewCredentialManager(_context.Store, _context.TransferClient, _context.MessageLog)
	err := manager.StoreCredential(cred)
	if err != nil {
		return err
	}
	fmt.Println("Stored transfer credential")
	return nil
}

// ensureStorageCredential seeds the store's storage-scope credential
// from the environment if none is recorded yet, so the orchestrator
// and the credential ledger agree on which keys are in play.
func ensureStorageCredential(_context *context.Context) {
	existing, err := _context.Store.GetCredential(constants.ScopeStorage)
	if err != nil || existing != nil {
		return
	}
	keyId := _context.Config.GetAWSAccessKeyId()
	secret := _context.Config.GetAWSSecretAccessKey()
	if keyId == "" || secret == "" {
		_context.MessageLog.Warning("No storage credential in store or environment; " +
			"copy cycles will wait until one is provided")
		return
	}
	cred := models.NewCredential(constants.ScopeStorage, keyId, secret)
	err = _context.Store.SaveCredential(cred)
	if err != nil {
		_context.MessageLog.Error("Cannot store storage credential: %v", err)
	}
}

func newRegistrar(_context *context.Context) *workers.Registrar {
	s3Client, err := _context.GetS3Client("s3.amazonaws.com",
		_context.Config.GetAWSAccessKeyId(),
		_context.Config.GetAWSSecretAccessKey())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot create S3 client: %v\n", err)
		os.Exit(1)
	}
	return workers.NewRegistrar(_context.Store, _context.MessageLog,
		_context.TransferClient, s3Client)
}

func parseCommandLine() (config *models.Config, command string, args []string) {
	var pathToConfigFile string
	flag.StringVar(&pathToConfigFile, "config", "", "Path to relay config file")
	flag.Parse()
	if pathToConfigFile == "" || flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}
	config, err := models.LoadConfigFile(pathToConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	return config, flag.Arg(0), flag.Args()[1:]
}

// Tell the user about the program.
func printUsage() {
	message := `
relay tracks transfer-service tasks that land data in a staging
bucket, and once each transfer completes, performs a server-side
copy into the destination bucket. State is kept in a local database,
so pipelines survive restarts without re-running copies.

Usage: relay -config=<path to config file> <command> [options]

Commands:
  run              Start the polling loops (runs until interrupted)
  register         Register a transfer to track:
                   -collection=<uuid> -staging=<bucket> -dest=<bucket> -task=<id>
  status           Show a pipeline: -pipeline=<id>
  cancel           Request cancellation: -pipeline=<id>
  add-collection   Record a collection: -id=<uuid>
  add-bucket       Record a bucket: -name=<bucket> [-region=<region>] [-owner=<hint>]
  store-token      Store a transfer credential: -token=... -refresh=... -expires-in=<seconds>

Param -config is required.
`
	fmt.Println(message)
}
