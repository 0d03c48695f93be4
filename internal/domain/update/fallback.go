package update

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/domain/state"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// AttemptFunc fetches one release from one mirror, returning the
// keccak256 hash of the fetched archive's manifest on success.
type AttemptFunc func(ctx context.Context, pkg types.PackageID, versionHash, mirror string) (manifestHash string, err error)

// Runner walks a package's mirror candidates when an automatic
// update fails, accumulating one (mirror, error) pair per attempt.
// Exhausting every candidate feeds the ledger exactly like a
// daemon-reported failure.
type Runner struct {
	tracker *Tracker
	store   *state.Store
	attempt AttemptFunc
	logger  *logging.Logger
}

// NewRunner creates a fallback runner.
func NewRunner(tracker *Tracker, store *state.Store, attempt AttemptFunc, logger *logging.Logger) *Runner {
	return &Runner{tracker: tracker, store: store, attempt: attempt, logger: logger}
}

// Run tries each mirror in order until one delivers the release. A
// fetched update whose manifest hash differs from the installed one
// is held for manual review instead of proceeding.
func (r *Runner) Run(ctx context.Context, pkg types.PackageID, versionHash string, mirrors []string) error {
	var attempts []types.UpdateError

	for _, m := range mirrors {
		if err := ctx.Err(); err != nil {
			return err
		}

		manifestHash, err := r.attempt(ctx, pkg, versionHash, m)
		if err != nil {
			r.logger.Warn("auto-update attempt failed",
				zap.String("package", pkg.String()),
				zap.String("mirror", m),
				zap.Error(err))
			attempts = append(attempts, types.UpdateError{Mirror: m, Error: *types.FromError(err)})
			continue
		}

		if prev, ok := r.store.InstalledFor(pkg); ok && prev.ManifestHash != "" && manifestHash != prev.ManifestHash {
			r.tracker.SetPendingManifest(pkg, versionHash, manifestHash)
			r.store.Notify(types.NotifyWarning,
				fmt.Sprintf("Update for %s changed its manifest and needs review", pkg))
		}
		r.logger.Info("auto-update fetched",
			zap.String("package", pkg.String()),
			zap.String("mirror", m),
			zap.Int("failed_attempts", len(attempts)))
		return nil
	}

	r.tracker.Record(pkg, versionHash, attempts...)
	return fmt.Errorf("auto-update %s to %s: %w", pkg, types.ShortHash(versionHash), types.ErrNoMirrors)
}
