package app

import (
	"fmt"
	"log/slog"
	"os"

	"opsgate/internal/policy"
)

// loadPolicyFile installs the on-disk policy document as snapshot v1.
// The policy file is the source of truth at startup; runtime replacements
// go through the admin API and are not written back.
func loadPolicyFile(store *policy.Store, path string, logger *slog.Logger) error {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return fmt.Errorf("read policy file %s: %w", path, err)
	}

	doc, err := policy.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	snap, err := store.Replace(doc)
	if err != nil {
		return fmt.Errorf("install policy file %s: %w", path, err)
	}

	logger.Info("policy set loaded",
		"file", path, "version", snap.Version, "hash", snap.Hash,
		"roles", len(snap.Roles), "rules", len(snap.Rules))
	return nil
}
