package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
)

// CreateOptions controls new profile/namespace creation.
type CreateOptions struct {
	DisplayName string
	Namespace   string
	Headless    bool
	// ConfigBlob is the serialized browser configuration seeded into
	// options.env; empty leaves the blob for a later tool to fill in.
	ConfigBlob string
	Timezone   string
}

// CreateResult describes what was created.
type CreateResult struct {
	ProfileID     string
	ProfileDir    string
	NamespacePath string
}

// CreateProfile creates a profile directory with one namespace under
// root, writing both the profile metadata document and the namespace
// record. When opts.Namespace names an existing namespace of an
// existing profile, the record is overwritten.
func (s *Store) CreateProfile(root string, opts CreateOptions) (*CreateResult, error) {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profiles root: %w", err)
	}

	profileID := "profile_" + uuid.New().String()[:8]
	profileDir := filepath.Join(root, profileID)
	nsDir := filepath.Join(profileDir, "namespaces", opts.Namespace)
	userDataDir := filepath.Join(nsDir, "user_data")
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create namespace dirs: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	displayName := opts.DisplayName
	if displayName == "" {
		displayName = profileID
	}

	absUserData, err := filepath.Abs(userDataDir)
	if err != nil {
		absUserData = userDataDir
	}

	nsPath := filepath.Join(nsDir, "namespace.json")
	record := schemas.Profile{
		"name":          opts.Namespace,
		"created_at":    now,
		"user_data_dir": absUserData,
		"options": map[string]any{
			"headless": opts.Headless,
			"env":      map[string]any{},
		},
	}
	if opts.ConfigBlob != "" {
		record.SetConfigBlobRaw(opts.ConfigBlob)
	}
	if opts.Timezone != "" {
		record.EnsureOptions()["timezone"] = opts.Timezone
	}
	if err := s.Save(nsPath, record); err != nil {
		return nil, err
	}

	meta := schemas.Profile{
		"profile_id": profileID,
		"metadata": map[string]any{
			"display_name": displayName,
			"created_at":   now,
		},
		"namespaces": map[string]any{
			opts.Namespace: nsPath,
		},
	}
	if err := s.Save(filepath.Join(profileDir, "profile.json"), meta); err != nil {
		return nil, err
	}

	s.log.Info("Profile created",
		zap.String("profile_id", profileID),
		zap.String("namespace", opts.Namespace),
	)

	return &CreateResult{
		ProfileID:     profileID,
		ProfileDir:    profileDir,
		NamespacePath: nsPath,
	}, nil
}
