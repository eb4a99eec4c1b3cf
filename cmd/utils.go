package cmd

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if err := LoadEnv(configPath); err != nil {
		log.Fatalf("%v", err)
	}
}

// LoadEnv loads a dotenv file into the process environment. An empty path
// keeps os.Environ only.
func LoadEnv(configPath string) error {
	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return nil
	}

	log.Printf("loading env from file %s", configPath)
	if err := godotenv.Load(configPath); err != nil {
		return fmt.Errorf("error loading .env file '%s': %w", configPath, err)
	}
	return nil
}

// SetupLogging installs a text handler on stderr logging at level and above.
func SetupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}
