// Package credentials loads the SOCKS5 username/password table from a JSON
// credentials file and builds the matching socks5.CredentialStore.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arnavik/socksd/internal/socks5"
)

// entry is one element of the credentials file's JSON array.
type entry struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Hashed   bool   `json:"hashed"`
}

// Load reads path and builds a socks5.CredentialStore from it. An empty
// path is not an error: it signals no-auth mode, and Load returns a nil
// store. A malformed or partially-hashed file is an error, since starting
// with a silently-degraded auth policy is worse than refusing to start.
func Load(path string) (socks5.CredentialStore, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("credentials: parse %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("credentials: %s contains no entries", path)
	}

	hashedCount := 0
	for _, e := range entries {
		if e.Username == "" {
			return nil, fmt.Errorf("credentials: %s: entry with empty username", path)
		}
		if e.Hashed {
			hashedCount++
		}
	}
	if hashedCount != 0 && hashedCount != len(entries) {
		return nil, fmt.Errorf("credentials: %s: \"hashed\" must be set on either every entry or none", path)
	}

	if hashedCount == len(entries) {
		table := make(socks5.HashedCredentials, len(entries))
		for _, e := range entries {
			table[e.Username] = e.Password
		}
		return table, nil
	}

	table := make(socks5.StaticCredentials, len(entries))
	for _, e := range entries {
		table[e.Username] = e.Password
	}
	return table, nil
}

// Save writes table back to path as plaintext-schema JSON. Used by the
// `users add` CLI subcommand.
func Save(path string, table socks5.StaticCredentials) error {
	entries := make([]entry, 0, len(table))
	for username, password := range table {
		entries = append(entries, entry{Username: username, Password: password})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o600)
}

// SaveHashed writes table back to path as hashed-schema JSON. Used by the
// `users hash` CLI subcommand.
func SaveHashed(path string, table socks5.HashedCredentials) error {
	entries := make([]entry, 0, len(table))
	for username, hash := range table {
		entries = append(entries, entry{Username: username, Password: hash, Hashed: true})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o600)
}
