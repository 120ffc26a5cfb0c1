package middleware

import (
	"bufio"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// CORS restricts origins to those listed in path, one per line. Without the
// file every origin is allowed and credentials are disabled.
func CORS(path string, logger zerolog.Logger) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		// Download names travel in Content-Disposition.
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         86400,
	}

	if origins := LoadOrigins(path); len(origins) > 0 {
		logger.Info().Int("origins", len(origins)).Str("file", path).Msg("loaded CORS origins")
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	} else {
		logger.Warn().Str("file", path).Msg("no CORS origins file, allowing all origins (credentials disabled)")
	}
	return cors.Handler(opts)
}

// LoadOrigins reads non-empty, non-comment lines from path.
func LoadOrigins(path string) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var origins []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			origins = append(origins, line)
		}
	}
	return origins
}
