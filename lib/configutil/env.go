package configutil

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// credentials never live in config files, they come from the process
// environment (or a .env file next to the bot for development).
// `T` gets its fields filled from `env:"..."` tags.
func ReadEnv[T any]() (T, error) {
	var out T

	if _, err := os.Stat(".env"); err == nil {
		err = godotenv.Overload(".env")
		if err != nil {
			return out, fmt.Errorf("load .env: %w", err)
		}
	}

	err := env.Parse(&out)
	if err != nil {
		return out, fmt.Errorf("parse env: %w", err)
	}
	return out, nil
}
