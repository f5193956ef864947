package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the process configuration, read from the environment with an
// optional .env file on top.
type Config struct {
	Addr      string
	DataDir   string // realtime tree store
	BlobDir   string // uploaded blobs
	PublicDir string // templates and static assets
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file, using environment only")
	}
	return Config{
		Addr:      getenv("TALK_ADDR", "127.0.0.1:3000"),
		DataDir:   getenv("TALK_DATA_DIR", "data/tree"),
		BlobDir:   getenv("TALK_BLOB_DIR", "data/blobs"),
		PublicDir: getenv("TALK_PUBLIC_DIR", "public"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
