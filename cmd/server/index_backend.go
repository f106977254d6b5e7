package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"yave.dev/internal/persistence/indexdb"
	"yave.dev/internal/server"
	"yave.dev/internal/world/material"
)

type runtimeIndex interface {
	server.TickLogger
	Close() error
	UpsertCatalogs(reg *material.Registry, tune any) error
	Stats() indexdb.QueueStats
}

func openRuntimeIndex(dataDir string, log logrus.FieldLogger) (runtimeIndex, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("YAVE_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "world.sqlite"), log)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported YAVE_INDEX_BACKEND: %s", backend)
	}
}
