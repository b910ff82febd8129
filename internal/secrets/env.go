package secrets

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// OSEnv looks keys up in the process environment.
func OSEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapLookup serves keys from a fixed map.
func MapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// DotenvLookup reads the given .env files once and serves keys from them, with
// the process environment taking precedence. Unreadable files are skipped.
func DotenvLookup(files ...string) LookupFunc {
	values := make(map[string]string)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			log.Debug().Err(err).Str("file", f).Msg("secrets: skipping env file")
			continue
		}
		for k, v := range m {
			if _, seen := values[k]; !seen {
				values[k] = v
			}
		}
	}
	return Chain(OSEnv, MapLookup(values))
}

// Chain returns the first non-empty hit among lookups.
func Chain(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v, ok := l(key); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}
