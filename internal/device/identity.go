// Package device persists the per-installation identity that tags pushed batches.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/MarcoPoloResearchLab/studysync/internal/database"
)

// SettingKey is the app_settings key holding the identity.
const SettingKey = "device_id"

const unknownModel = "unknown"

var errMissingStore = errors.New("device: store is required")

// EnsureIdentity returns the persisted identity, creating it on first use as
// {platform}_{model}_{unixMillis}. Once written it is never changed.
func EnsureIdentity(ctx context.Context, store *database.Store, platform, model string, clock func() time.Time) (string, error) {
	if store == nil {
		return "", errMissingStore
	}
	if clock == nil {
		clock = time.Now
	}

	existing, err := Load(ctx, store)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	now := clock().UTC()
	candidate := fmt.Sprintf("%s_%s_%d", sanitize(platform), sanitize(model), now.UnixMilli())
	_, err = store.Execute(ctx,
		"INSERT OR IGNORE INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)",
		SettingKey, candidate, now.Unix())
	if err != nil {
		return "", fmt.Errorf("device: persist identity: %w", err)
	}

	stored, err := Load(ctx, store)
	if err != nil {
		return "", err
	}
	if stored == "" {
		return "", fmt.Errorf("device: identity missing after insert")
	}
	return stored, nil
}

// Load returns the persisted identity or "" when none exists yet.
func Load(ctx context.Context, store *database.Store) (string, error) {
	if store == nil {
		return "", errMissingStore
	}
	row, err := store.SelectFirst(ctx, "SELECT value FROM app_settings WHERE key = ?", SettingKey)
	if err != nil {
		return "", fmt.Errorf("device: load identity: %w", err)
	}
	if row == nil {
		return "", nil
	}
	return row.String("value"), nil
}

func sanitize(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return unknownModel
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '_' {
			return '-'
		}
		return r
	}, trimmed)
}
