package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/APTrust/relay/constants"
	"github.com/APTrust/relay/models"
	"github.com/boltdb/bolt"
)

const META_BUCKET = "meta"
const SCHEMA_VERSION_KEY = "schema_version"

// Store is a bolt database holding the canonical record of every
// entity we track: credentials, collections, buckets and pipelines.
// Each entity kind lives in its own bolt bucket, keyed by the
// entity's identifier, with JSON values so the records remain
// readable for audit. Bolt gives us what the pipeline state machine
// needs: writes are atomic and durable before Save returns, and
// writers to the same key are serialized by bolt's single-writer
// transaction model.
type Store struct {
	db       *bolt.DB
	filePath string
}

// NewStore opens a bolt database at filePath, creating the DB file
// and the per-kind buckets if they don't already exist, and applying
// any pending schema migrations. Migrations are additive only: a
// store written by an older version of this code is always readable
// by a newer one.
func NewStore(filePath string) (store *Store, err error) {
	db, err := bolt.Open(filePath, 0644, nil)
	if err != nil {
		return nil, err
	}
	store = &Store{
		db:       db,
		filePath: filePath,
	}
	err = store.initBuckets()
	if err == nil {
		err = store.migrate()
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (store *Store) initBuckets() error {
	return store.db.Update(func(tx *bolt.Tx) error {
		for _, kind := range constants.EntityKinds {
			_, err := tx.CreateBucketIfNotExists([]byte(kind))
			if err != nil {
				return fmt.Errorf("Error creating bucket %s: %v", kind, err)
			}
		}
		_, err := tx.CreateBucketIfNotExists([]byte(META_BUCKET))
		if err != nil {
			return fmt.Errorf("Error creating meta bucket: %v", err)
		}
		return nil
	})
}

// migrate stamps new databases with the current schema version and
// refuses to open databases written by a newer version of this code.
// When the schema grows, version upgrade steps go here.
func (store *Store) migrate() error {
	version := store.SchemaVersion()
	if version > constants.SchemaVersion {
		return fmt.Errorf("Database schema version %d is newer than this "+
			"program's version %d", version, constants.SchemaVersion)
	}
	if version == constants.SchemaVersion {
		return nil
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, uint64(constants.SchemaVersion))
		return tx.Bucket([]byte(META_BUCKET)).Put([]byte(SCHEMA_VERSION_KEY), value)
	})
}

// SchemaVersion returns the schema version recorded in the meta
// bucket, or zero for a brand-new database.
func (store *Store) SchemaVersion() int {
	version := 0
	_ = store.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(META_BUCKET)).Get([]byte(SCHEMA_VERSION_KEY))
		if len(value) == 8 {
			version = int(binary.BigEndian.Uint64(value))
		}
		return nil
	})
	return version
}

// FilePath returns the path to the bolt DB file.
func (store *Store) FilePath() string {
	return store.filePath
}

// Close closes the bolt database.
func (store *Store) Close() {
	store.db.Close()
}

// Save upserts the value under the given kind and key. The write is
// durable before Save returns: if the process crashes after this
// call, the record survives.
func (store *Store) Save(kind, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return fmt.Errorf("No such entity kind: %s", kind)
		}
		return bucket.Put([]byte(key), data)
	})
}

// Get unmarshals the record for the given kind and key into value.
// Returns false with no error if the key is not present.
func (store *Store) Get(kind, key string, value interface{}) (bool, error) {
	found := false
	var err error
	viewErr := store.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return fmt.Errorf("No such entity kind: %s", kind)
		}
		data := bucket.Get([]byte(key))
		if len(data) > 0 {
			found = true
			err = json.Unmarshal(data, value)
		}
		return err
	})
	if viewErr != nil {
		return false, viewErr
	}
	return found, nil
}

// Delete removes the record for the given kind and key. Deleting a
// missing key is not an error.
func (store *Store) Delete(kind, key string) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return fmt.Errorf("No such entity kind: %s", kind)
		}
		return bucket.Delete([]byte(key))
	})
}

// ForEach calls fn for each record of the given kind. Records are
// visited in key order within a single read transaction, so the
// sequence is finite and consistent.
func (store *Store) ForEach(kind string, fn func(key string, data []byte) error) error {
	return store.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return fmt.Errorf("No such entity kind: %s", kind)
		}
		return bucket.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Keys returns all keys of the given kind, in order.
func (store *Store) Keys(kind string) []string {
	keys := make([]string, 0)
	_ = store.ForEach(kind, func(key string, data []byte) error {
		keys = append(keys, key)
		return nil
	})
	return keys
}

// SavePipeline writes the pipeline record under its id.
func (store *Store) SavePipeline(p *models.Pipeline) error {
	return store.Save(constants.KindPipeline, p.Id, p)
}

// GetPipeline returns the pipeline with the given id, or nil and no
// error if there is no such pipeline.
func (store *Store) GetPipeline(id string) (*models.Pipeline, error) {
	p := &models.Pipeline{}
	found, err := store.Get(constants.KindPipeline, id, p)
	if err != nil || !found {
		return nil, err
	}
	return p, nil
}

// Pipelines returns all pipeline records, in id order.
func (store *Store) Pipelines() ([]*models.Pipeline, error) {
	pipelines := make([]*models.Pipeline, 0)
	err := store.ForEach(constants.KindPipeline, func(key string, data []byte) error {
		p := &models.Pipeline{}
		err := json.Unmarshal(data, p)
		if err != nil {
			return fmt.Errorf("Bad pipeline record %s: %v", key, err)
		}
		pipelines = append(pipelines, p)
		return nil
	})
	return pipelines, err
}

// PipelinesInState returns all pipelines currently in the given state.
func (store *Store) PipelinesInState(state string) ([]*models.Pipeline, error) {
	matches := make([]*models.Pipeline, 0)
	pipelines, err := store.Pipelines()
	if err != nil {
		return nil, err
	}
	for _, p := range pipelines {
		if p.State == state {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// NonTerminalPipelines returns all pipelines that have not reached
// Completed or Failed. The coordinator reloads these on restart.
func (store *Store) NonTerminalPipelines() ([]*models.Pipeline, error) {
	matches := make([]*models.Pipeline, 0)
	pipelines, err := store.Pipelines()
	if err != nil {
		return nil, err
	}
	for _, p := range pipelines {
		if !p.IsTerminal() {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

// SaveCredential writes the credential record under its scope.
// There is at most one credential per scope.
func (store *Store) SaveCredential(cred *models.Credential) error {
	return store.Save(constants.KindCredential, cred.Scope, cred)
}

// GetCredential returns the credential for the given scope, or nil
// and no error if none is stored.
func (store *Store) GetCredential(scope string) (*models.Credential, error) {
	cred := &models.Credential{}
	found, err := store.Get(constants.KindCredential, scope, cred)
	if err != nil || !found {
		return nil, err
	}
	return cred, nil
}

// SaveCollection writes the collection record under its id.
func (store *Store) SaveCollection(c *models.Collection) error {
	return store.Save(constants.KindCollection, c.Id, c)
}

// GetCollection returns the collection with the given id, or nil and
// no error if there is no such collection.
func (store *Store) GetCollection(id string) (*models.Collection, error) {
	c := &models.Collection{}
	found, err := store.Get(constants.KindCollection, id, c)
	if err != nil || !found {
		return nil, err
	}
	return c, nil
}

// SaveBucket writes the bucket record under its name.
func (store *Store) SaveBucket(b *models.Bucket) error {
	return store.Save(constants.KindBucket, b.Name, b)
}

// GetBucket returns the bucket with the given name, or nil and no
// error if there is no such bucket.
func (store *Store) GetBucket(name string) (*models.Bucket, error) {
	b := &models.Bucket{}
	found, err := store.Get(constants.KindBucket, name, b)
	if err != nil || !found {
		return nil, err
	}
	return b, nil
}
