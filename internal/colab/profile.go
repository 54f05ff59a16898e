package colab

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// tokenFileName is the token file kept at the root of each profile
	// directory.
	tokenFileName = "auth_token.json"

	// profileDirPerm is the permission for profile directories. Profiles
	// contain cookies and login state, so they are owner-only.
	profileDirPerm = 0700

	// tokenFilePerm is the permission for the persisted token file.
	tokenFilePerm = 0600
)

// cachePaths are the profile-relative directories that hold regenerable
// browser data. OptimizeProfile removes them; login state (Cookies,
// Login Data, Preferences, Local State) is never touched.
var cachePaths = []string{
	"Default/Cache",
	"Default/Code Cache",
	"Default/GPUCache",
	"Default/Service Worker/CacheStorage",
	"Default/Service Worker/ScriptCache",
	"GrShaderCache",
	"ShaderCache",
	"Crashpad",
	"BrowserMetrics",
	"Temp",
}

// ProfileManager owns the per-user Chrome profile directories under a
// single root. All paths it hands out are absolute.
type ProfileManager struct {
	root       string
	autoCreate bool
}

// NewProfileManager creates a manager rooted at root. When autoCreate is
// set, Ensure creates missing profile directories; otherwise a missing
// profile is a ConfigError.
func NewProfileManager(root string, autoCreate bool) *ProfileManager {
	return &ProfileManager{root: root, autoCreate: autoCreate}
}

// Root returns the profile root directory.
func (pm *ProfileManager) Root() string { return pm.root }

// Dir returns the profile directory for the given user without touching
// the filesystem.
func (pm *ProfileManager) Dir(userID string) (string, error) {
	safe, err := safeUserComponent(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(pm.root, safe), nil
}

// Exists reports whether the user's profile directory is present.
func (pm *ProfileManager) Exists(userID string) bool {
	dir, err := pm.Dir(userID)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Ensure returns the user's profile directory, creating it when the
// manager is configured to auto-create. A missing profile with
// auto-create disabled is a ConfigError.
func (pm *ProfileManager) Ensure(userID string) (string, error) {
	dir, err := pm.Dir(userID)
	if err != nil {
		return "", err
	}
	info, statErr := os.Stat(dir)
	if statErr == nil {
		if !info.IsDir() {
			return "", NewConfigError("selenium.profile.root_dir", fmt.Sprintf("%s exists but is not a directory", dir))
		}
		return dir, nil
	}
	if !errors.Is(statErr, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to stat profile directory: %w", statErr)
	}
	if !pm.autoCreate {
		return "", NewConfigError("selenium.profile.auto_create", fmt.Sprintf("profile for user %q does not exist and auto-create is disabled", userID))
	}
	if err := os.MkdirAll(dir, profileDirPerm); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	return dir, nil
}

// LoadToken reads the persisted token from the user's profile
// directory. A missing, unreadable or corrupt token file yields
// (nil, nil): the caller treats that as "no token" rather than a fault.
func (pm *ProfileManager) LoadToken(userID string) (*AuthToken, error) {
	dir, err := pm.Dir(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, tokenFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		// Unreadable token counts as absent; authentication will mint a
		// fresh one.
		return nil, nil
	}
	var tok AuthToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, nil
	}
	if tok.Value == "" {
		return nil, nil
	}
	return &tok, nil
}

// SaveToken persists the token into the user's profile directory,
// creating the directory if needed.
func (pm *ProfileManager) SaveToken(userID string, tok *AuthToken) error {
	if tok == nil || tok.Value == "" {
		return fmt.Errorf("refusing to save empty token")
	}
	dir, err := pm.Dir(userID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, profileDirPerm); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, tokenFileName), data, tokenFilePerm); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Clear deletes the user's profile directory including the persisted
// token. Clearing a profile that does not exist is a no-op.
func (pm *ProfileManager) Clear(userID string) error {
	dir, err := pm.Dir(userID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove profile directory: %w", err)
	}
	return nil
}

// OptimizeReport summarizes what OptimizeProfile removed.
type OptimizeReport struct {
	ProfileDir     string   `json:"profile_dir"`
	RemovedPaths   []string `json:"removed_paths"`
	BytesReclaimed int64    `json:"bytes_reclaimed"`
}

// Optimize removes cache and temporary artifacts from the user's
// profile while preserving cookies and login state. The session status
// is unaffected. Optimizing a missing profile is an error because there
// is nothing to preserve.
func (pm *ProfileManager) Optimize(userID string) (*OptimizeReport, error) {
	dir, err := pm.Dir(userID)
	if err != nil {
		return nil, err
	}
	if !pm.Exists(userID) {
		return nil, NewConfigError("selenium.profile", fmt.Sprintf("no profile exists for user %q", userID))
	}

	report := &OptimizeReport{ProfileDir: dir}
	for _, rel := range cachePaths {
		target := filepath.Join(dir, rel)
		size, sizeErr := dirSize(target)
		if sizeErr != nil {
			continue // absent or unreadable, skip
		}
		if err := os.RemoveAll(target); err != nil {
			continue
		}
		report.RemovedPaths = append(report.RemovedPaths, rel)
		report.BytesReclaimed += size
	}
	return report, nil
}

// ProfileInfo describes a profile directory for diagnostics.
type ProfileInfo struct {
	UserID     string    `json:"user_id"`
	Dir        string    `json:"dir"`
	Exists     bool      `json:"exists"`
	SizeBytes  int64     `json:"size_bytes"`
	HasToken   bool      `json:"has_token"`
	TokenValid bool      `json:"token_valid"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// Info inspects the user's profile directory.
func (pm *ProfileManager) Info(userID string) (*ProfileInfo, error) {
	dir, err := pm.Dir(userID)
	if err != nil {
		return nil, err
	}
	info := &ProfileInfo{UserID: userID, Dir: dir}
	st, statErr := os.Stat(dir)
	if statErr != nil {
		return info, nil
	}
	info.Exists = true
	info.ModifiedAt = st.ModTime()
	if size, err := dirSize(dir); err == nil {
		info.SizeBytes = size
	}
	tok, _ := pm.LoadToken(userID)
	info.HasToken = tok != nil
	info.TokenValid = tok.Valid()
	return info, nil
}

// safeUserComponent validates that a user ID is usable as a single path
// component. Path separators and traversal sequences are rejected
// instead of escaped, so a hostile ID can never leave the profile root.
func safeUserComponent(userID string) (string, error) {
	if userID == "" {
		return "", NewConfigError("user_id", "must not be empty")
	}
	if strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return "", NewConfigError("user_id", fmt.Sprintf("%q is not a valid user identifier", userID))
	}
	// Emails are common user IDs on the HTTP transport; they are safe as
	// path components already. Everything else unusual gets flattened.
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@', r == '.', r == '-', r == '_', r == '+':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String(), nil
}

// dirSize totals the regular-file bytes under path.
func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
