package main

import (
	"fmt"

	"github.com/hiblaphp/parallel-sub000/config"
	"github.com/hiblaphp/parallel-sub000/statusstore"
)

// openStore resolves the directory to inspect: --dir if given, else the
// configured status_store.directory.
func openStore() (*statusstore.Store, error) {
	dir := statusDir
	if dir == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("statusctl: loading config: %w", err)
		}
		dir = cfg.StatusStore.Directory
	}
	return statusstore.New(dir)
}
