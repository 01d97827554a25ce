package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modkeeper/db"
	"modkeeper/errs"
	"modkeeper/integrity"
	"modkeeper/inventory"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Adds files already present in the game directories to the inventory",
	Long: `Scans the mods, shaderpacks and resourcepacks directories, identifies
unknown files on Modrinth by their SHA1 hash, and records them together
with their checksum.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		n, err := importInstalled(cmd.Context(), a)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d file(s)\n", n)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// importInstalled scans the project directories and adds unknown files to the inventory.
func importInstalled(ctx context.Context, a *app) (int, error) {
	a.log.Info("Scanning for existing mods...")
	imported := 0
	for _, projectType := range []string{"mod", "shader", "resourcepack"} {
		dir := a.inventory.Dir(projectType)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			a.log.Errorw("Error scanning directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return imported, err
			}
			if e.IsDir() {
				continue
			}
			ok, err := importFile(ctx, a, filepath.Join(dir, e.Name()), projectType)
			if err != nil {
				return imported, err
			}
			if ok {
				imported++
			}
		}
	}
	return imported, nil
}

// importFile records one file under the project type of its directory.
// Lookup failures are logged and skipped, only a cancelled context is returned.
func importFile(ctx context.Context, a *app, path, projectType string) (bool, error) {
	name := filepath.Base(path)
	enabled := !strings.HasSuffix(name, inventory.DisabledSuffix)
	fileName := strings.TrimSuffix(name, inventory.DisabledSuffix)

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext != ".jar" && ext != ".zip" {
		return false, nil
	}
	if _, err := a.inventory.FindByFileName(fileName); err == nil {
		return false, nil
	} else if !errs.IsNotFound(err) {
		return false, err
	}

	log := a.log.With(zap.String("file", name))
	hash, err := a.verifier.ComputeChecksum(path, integrity.SHA1)
	if err != nil {
		log.Warnw("Failed to calculate hash", zap.Error(err))
		return false, nil
	}

	version, err := a.client.GetVersionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		log.Debugw("Mod not found on Modrinth by hash", zap.Error(err))
		return false, nil
	}
	project, err := a.client.GetProject(ctx, version.ProjectID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		log.Warnw("Failed to get project details", zap.String("project_id", version.ProjectID), zap.Error(err))
		return false, nil
	}

	now := time.Now()
	m := db.Mod{
		ProjectID:        project.ID,
		ProjectSlug:      project.Slug,
		Title:            project.Title,
		ProjectType:      projectType,
		Color:            project.Color,
		VersionID:        version.ID,
		VersionNumber:    version.VersionNumber,
		FileName:         fileName,
		Enabled:          enabled,
		LastVerifiedHash: hash,
		LastVerifiedAlgo: string(integrity.SHA1),
		LastVerifiedAt:   &now,
	}
	if len(version.Loaders) > 0 {
		m.Loader = version.Loaders[0]
	}
	if err := a.inventory.Save(&m); err != nil {
		log.Errorw("Failed to save imported mod to DB", zap.String("slug", project.Slug), zap.Error(err))
		return false, nil
	}
	if err := a.verifier.StoreChecksum(path, hash, integrity.SHA1, map[string]string{
		"project_id": project.ID,
		"version_id": version.ID,
	}); err != nil {
		log.Warnw("Failed to store checksum", zap.Error(err))
	}
	log.Infow("Imported existing mod", zap.String("title", project.Title), zap.String("version", version.VersionNumber))
	return true, nil
}
