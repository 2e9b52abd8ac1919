// Package accounts loads and persists the monitored credential list. The
// on-disk format is one "username,password[,api_key]" line per account, with
// "#" comment lines and blank lines ignored.
package accounts

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/use-agent/balancewatch/models"
)

// File is a concurrency-safe view over one credentials file.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile wraps the credentials file at path. The file does not need to
// exist yet; Load on a missing file returns an empty list.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the underlying file path.
func (f *File) Path() string {
	return f.path
}

// Load reads and parses the credentials file. Malformed lines are skipped
// with a warning so one typo never takes the whole account list down.
func (f *File) Load() ([]models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return loadLocked(f.path)
}

// Upsert inserts the account or replaces an existing entry with the same
// username, then rewrites the file.
func (f *File) Upsert(acct models.Account) error {
	if strings.TrimSpace(acct.Username) == "" {
		return fmt.Errorf("accounts: empty username")
	}
	if strings.TrimSpace(acct.Password) == "" {
		return fmt.Errorf("accounts: empty password")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := loadLocked(f.path)
	if err != nil {
		return err
	}

	replaced := false
	for i := range list {
		if list[i].Username == acct.Username {
			list[i] = acct
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, acct)
	}
	if err := saveLocked(f.path, list); err != nil {
		return err
	}
	slog.Info("account saved", "username", acct.Username, "replaced", replaced)
	return nil
}

// Remove deletes the account with the given username and rewrites the file.
// It reports whether an entry was actually removed.
func (f *File) Remove(username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := loadLocked(f.path)
	if err != nil {
		return false, err
	}

	kept := list[:0]
	removed := false
	for _, acct := range list {
		if acct.Username == username {
			removed = true
			continue
		}
		kept = append(kept, acct)
	}
	if !removed {
		return false, nil
	}
	if err := saveLocked(f.path, kept); err != nil {
		return false, err
	}
	slog.Info("account removed", "username", username)
	return true, nil
}

func loadLocked(path string) ([]models.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("accounts: read %s: %w", path, err)
	}

	var list []models.Account
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		if len(parts) < 2 {
			slog.Warn("skipping malformed credentials line", "line", i+1)
			continue
		}
		acct := models.Account{
			Username: strings.TrimSpace(parts[0]),
			Password: strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			acct.APIKey = strings.TrimSpace(parts[2])
		}
		if acct.Username == "" || acct.Password == "" {
			slog.Warn("skipping credentials line with empty field", "line", i+1)
			continue
		}
		list = append(list, acct)
	}
	return list, nil
}

func saveLocked(path string, list []models.Account) error {
	var b strings.Builder
	b.WriteString("# username,password[,api_key]\n")
	for _, acct := range list {
		b.WriteString(acct.Username)
		b.WriteString(",")
		b.WriteString(acct.Password)
		if acct.APIKey != "" {
			b.WriteString(",")
			b.WriteString(acct.APIKey)
		}
		b.WriteString("\n")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("accounts: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("accounts: rename %s: %w", tmp, err)
	}
	return nil
}
