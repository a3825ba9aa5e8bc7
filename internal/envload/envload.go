package envload

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadNearest loads the closest .env file walking from cwd toward the
// filesystem root. Existing environment variables are never overridden.
// Returns the loaded path when found, empty string otherwise.
func LoadNearest() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := wd
	for {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return "", err
			}
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
