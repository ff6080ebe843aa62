package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"research-rag/internal/models"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// GenerateUUID creates a random unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %v", err)
	}
	return id.String(), nil
}

// pretty print
func PrettyPrint(w io.Writer, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Fprintln(w, string(b))
}

// CreateFolder makes sure dir exists.
func CreateFolder(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", dir, err)
	}
	return nil
}

// SanitizeFilename reduces a client supplied name to a safe base name made of
// [A-Za-z0-9._-] whose extension is one of allowed.
func SanitizeFilename(name string, allowed []string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")

	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.Trim(strings.TrimSuffix(base, filepath.Ext(base)), "_")
	if stem == "" || ext == "" {
		return "", models.InvalidInputf("invalid file name %q", name)
	}
	if len(allowed) > 0 && !slices.Contains(allowed, ext) {
		return "", models.InvalidInputf("file type %s is not allowed", ext)
	}
	return stem + ext, nil
}
