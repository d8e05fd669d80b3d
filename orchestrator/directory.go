package orchestrator

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/remitmatch/cashapp-agent/utils"
)

// CustomerDirectorySnapshot is the cached shape of the whole customer
// directory, wrapped in a named struct so utils.StoreRedis/RetrieveRedis
// (which key on the bare struct name) get a stable cache key instead of an
// anonymous slice type's empty name.
type CustomerDirectorySnapshot struct {
	Entries []CustomerDirectoryEntry
}

const directoryCacheId = "default"

// LoadDirectoryFile parses a YAML file of customer directory entries, the
// CRM/ERP customer master snapshot ResolveCustomerIdentity matches against.
func LoadDirectoryFile(path string) ([]CustomerDirectoryEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshot CustomerDirectorySnapshot
	if err := yaml.Unmarshal(raw, &snapshot.Entries); err != nil {
		return nil, err
	}
	return snapshot.Entries, nil
}

// LoadCachedDirectory serves the customer directory out of Redis when a
// fresh-enough copy is already there (shared across horizontally-scaled
// instances so only one of them pays the file-parse cost per cache
// lifespan), otherwise parses path and repopulates the cache.
func LoadCachedDirectory(path string) ([]CustomerDirectoryEntry, error) {
	if cached, err := utils.RetrieveRedis[CustomerDirectorySnapshot](directoryCacheId); err == nil && cached != nil {
		return cached.Entries, nil
	}

	entries, err := LoadDirectoryFile(path)
	if err != nil {
		return nil, err
	}

	snapshot := CustomerDirectorySnapshot{Entries: entries}
	_ = utils.StoreRedis[CustomerDirectorySnapshot](snapshot, directoryCacheId)
	return entries, nil
}
