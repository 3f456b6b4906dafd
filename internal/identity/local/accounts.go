package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// LoadAccounts reads accounts from a YAML file. A missing file yields no accounts.
func LoadAccounts(path string) ([]Account, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read accounts: %w", err)
	}

	var file accountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	return file.Accounts, nil
}

// SaveAccounts writes accounts to a YAML file readable only by the owner.
func SaveAccounts(path string, accounts []Account) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create accounts dir: %w", err)
	}
	data, err := yaml.Marshal(accountsFile{Accounts: accounts})
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}
	return nil
}
