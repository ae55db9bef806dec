package app

import (
	"context"
	"errors"
	"fmt"

	"formtrack/internal/config"
	"formtrack/internal/repo"
)

const defaultProgramID = "default-program"

// ResolveProgramConfig picks the active program and ensures a config row
// exists in the DB, seeding defaults if missing. A formtrack.yml in the
// workspace wins over the stored config and is written back on every run so
// the DB copy never goes stale.
func ResolveProgramConfig(ctx context.Context, workspace, programOverride string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}

	programID := programOverride
	if programID == "" && fileCfg != nil {
		programID = fileCfg.Program.ID
	}
	if programID == "" {
		programID = defaultProgramID
	}

	if fileCfg != nil {
		if err := r.UpsertConfig(ctx, programID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store config: %w", err)
		}
		return programID, fileCfg, nil
	}

	cfg, err := r.GetConfig(ctx, programID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(programID)
		if err := r.UpsertConfig(ctx, programID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed config: %w", err)
		}
	}
	return programID, cfg, nil
}
