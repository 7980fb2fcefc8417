package config

import (
	"flag"

	"github.com/joho/godotenv"
)

// Flags are the command line options.
type Flags struct {
	ConfigPath string
	EnvPath    string
	Setup      bool
	Start      bool
}

// ParseFlags parses the command line.
func ParseFlags() Flags {
	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "config.yaml", "path to yaml config")
	flag.StringVar(&f.EnvPath, "env", ".env", "path to .env file with secrets")
	flag.BoolVar(&f.Setup, "setup", false, "run the interactive setup wizard and exit")
	flag.BoolVar(&f.Start, "start", false, "start buying right away instead of waiting for /api/start")
	flag.Parse()

	return f
}

// Get loads the .env file (if present) and then the YAML config.
func Get(f Flags) (Config, error) {
	if f.EnvPath != "" {
		_ = godotenv.Load(f.EnvPath)
	}

	return Load(f.ConfigPath)
}
