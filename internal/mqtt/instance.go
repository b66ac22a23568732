package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const instanceFile = "mqtt_client_id"

// LoadOrCreateClientID returns a stable MQTT client ID stored in
// dataDir, generating "tralfaz-<uuid7 prefix>" on first use. Brokers
// drop an older session when a new one connects with the same ID, so
// the ID must not collide across installations.
func LoadOrCreateClientID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceFile)

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate client ID: %w", err)
	}
	// The random tail of a UUIDv7 is the distinguishing part.
	id := "tralfaz-" + strings.ReplaceAll(u.String(), "-", "")[20:]

	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist client ID to %s: %w", path, err)
	}
	return id, nil
}
