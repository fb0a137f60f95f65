package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// ErrNoShards means a dataset root holds no shard files.
var ErrNoShards = errors.New("dataset: no shards discovered")

// DiscoverShards returns shard TAR paths beneath root in lexical order, which
// fixes the example order of every loader built on them.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoShards, root)
	}
	sort.Strings(entries)
	return entries, nil
}
