package postgres

import "ingestor/internal/storage"

func init() {
	// registers the postgres backend factory
	storage.Register("postgres", New)
}
