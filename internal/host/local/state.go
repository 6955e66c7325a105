package local

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gymbell/gymbell/internal/host"
)

// StateFileName is the file, inside the data dir, the runtime persists to.
const StateFileName = "push.json"

// stateFile is the root JSON structure stored on disk.
type stateFile struct {
	Permission   host.Permission     `json:"permission"`
	Subscription *storedSubscription `json:"subscription,omitempty"`
}

type storedSubscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
	// ApplicationServerKey is the VAPID key the subscription was made for.
	ApplicationServerKey string    `json:"applicationServerKey"`
	PrivateKey           string    `json:"privateKey"`
	CreatedAt            time.Time `json:"createdAt"`
}

// load reads the state file. A missing or empty file is the zero state.
func load(path string) (stateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stateFile{Permission: host.PermissionDefault}, nil
		}
		return stateFile{}, err
	}

	if len(data) == 0 {
		return stateFile{Permission: host.PermissionDefault}, nil
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return stateFile{}, err
	}
	if file.Permission == "" {
		file.Permission = host.PermissionDefault
	}
	return file, nil
}

// save writes the state file atomically. It holds a private key, so it is
// only readable by the owner.
func save(path string, file stateFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
