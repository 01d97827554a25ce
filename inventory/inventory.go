// Package inventory tracks installed mods in the database and keeps their
// on-disk files in step with the enabled flag.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modkeeper/db"
	"modkeeper/errs"

	"gorm.io/gorm"
)

// DisabledSuffix is appended to the file name of a disabled artifact.
const DisabledSuffix = ".disabled"

// FileTracker follows artifact files as the inventory renames and deletes them.
type FileTracker interface {
	Moved(from, to string)
	Forget(path string)
}

// Inventory is the installed-mod set of one game directory.
type Inventory struct {
	conn         *gorm.DB
	minecraftDir string
	tracker      FileTracker
}

// New returns an Inventory over conn for the given game directory.
func New(conn *gorm.DB, minecraftDir string) *Inventory {
	return &Inventory{conn: conn, minecraftDir: minecraftDir}
}

// Track registers t to be told about renamed and deleted files.
func (inv *Inventory) Track(t FileTracker) { inv.tracker = t }

// SubDir maps a project type to its directory under the game directory.
func SubDir(projectType string) string {
	switch projectType {
	case "shader":
		return "shaderpacks"
	case "resourcepack":
		return "resourcepacks"
	default:
		return "mods"
	}
}

// SupportedType reports whether projects of this type can be installed.
func SupportedType(projectType string) bool {
	switch projectType {
	case "mod", "shader", "resourcepack":
		return true
	}
	return false
}

// Dir is the directory artifacts of projectType are installed to.
func (inv *Inventory) Dir(projectType string) string {
	return filepath.Join(inv.minecraftDir, SubDir(projectType))
}

// DiskName is the file name a mod currently has on disk.
func DiskName(m db.Mod) string {
	if m.Enabled {
		return m.FileName
	}
	return m.FileName + DisabledSuffix
}

// Path is the current on-disk path of m.
func (inv *Inventory) Path(m db.Mod) string {
	return filepath.Join(inv.Dir(m.ProjectType), DiskName(m))
}

// List returns every installed mod ordered by title.
func (inv *Inventory) List() ([]db.Mod, error) {
	var mods []db.Mod
	if err := inv.conn.Order("title").Find(&mods).Error; err != nil {
		return nil, fmt.Errorf("failed to list mods: %w", err)
	}
	return mods, nil
}

func (inv *Inventory) first(op, query string, args ...any) (*db.Mod, error) {
	var m db.Mod
	err := inv.conn.Where(query, args...).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.E(errs.KindNotFound, op, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &m, nil
}

// Get finds a mod by project id or slug.
func (inv *Inventory) Get(projectIDOrSlug string) (*db.Mod, error) {
	return inv.first("get mod "+projectIDOrSlug, "project_id = ? OR project_slug = ?", projectIDOrSlug, projectIDOrSlug)
}

// FindByFileName finds a mod by its enabled-form file name; a name with the
// disabled suffix is accepted too.
func (inv *Inventory) FindByFileName(name string) (*db.Mod, error) {
	return inv.first("find mod "+name, "file_name = ?", strings.TrimSuffix(name, DisabledSuffix))
}

// Save inserts m or updates the record with the same project id.
func (inv *Inventory) Save(m *db.Mod) error {
	if m.ProjectID == "" {
		return errs.Validationf("save mod", "project id is required")
	}
	if m.ProjectType == "" {
		m.ProjectType = "mod"
	}
	if m.ID == 0 {
		var existing db.Mod
		err := inv.conn.Where("project_id = ?", m.ProjectID).First(&existing).Error
		switch {
		case err == nil:
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to look up mod %s: %w", m.ProjectID, err)
		}
	}
	if err := inv.conn.Save(m).Error; err != nil {
		return fmt.Errorf("failed to save mod %s: %w", m.ProjectID, err)
	}
	return nil
}

// SetEnabled renames the artifact between x.jar and x.jar.disabled and
// updates the record. It is a no-op when the mod is already in that state.
func (inv *Inventory) SetEnabled(projectIDOrSlug string, enabled bool) (*db.Mod, error) {
	m, err := inv.Get(projectIDOrSlug)
	if err != nil {
		return nil, err
	}
	if m.Enabled == enabled {
		return m, nil
	}

	from := inv.Path(*m)
	m.Enabled = enabled
	to := inv.Path(*m)
	if err := os.Rename(from, to); err != nil {
		return nil, errs.E(errs.KindFilesystem, "rename "+from, err)
	}
	if err := inv.conn.Save(m).Error; err != nil {
		// put the file back so disk and record agree
		_ = os.Rename(to, from)
		return nil, fmt.Errorf("failed to save mod %s: %w", m.ProjectID, err)
	}
	if inv.tracker != nil {
		inv.tracker.Moved(from, to)
	}
	return m, nil
}

// DeleteFile removes an artifact file. A missing file is not an error.
func (inv *Inventory) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.E(errs.KindFilesystem, "remove "+path, err)
	}
	if inv.tracker != nil {
		inv.tracker.Forget(path)
	}
	return nil
}

// Remove deletes the record and its version history, and the file when deleteFile is set.
func (inv *Inventory) Remove(projectIDOrSlug string, deleteFile bool) (*db.Mod, error) {
	m, err := inv.Get(projectIDOrSlug)
	if err != nil {
		return nil, err
	}
	if deleteFile {
		if err := inv.DeleteFile(inv.Path(*m)); err != nil {
			return nil, err
		}
	}
	err = inv.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("project_id = ?", m.ProjectID).Delete(&db.ModVersion{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(m).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove mod %s: %w", m.ProjectID, err)
	}
	return m, nil
}

// RecordReplaced appends the outgoing version of m to its history.
func (inv *Inventory) RecordReplaced(m db.Mod) error {
	v := db.ModVersion{
		ProjectID:     m.ProjectID,
		VersionID:     m.VersionID,
		VersionNumber: m.VersionNumber,
		FileName:      m.FileName,
	}
	if err := inv.conn.Create(&v).Error; err != nil {
		return fmt.Errorf("failed to save version history: %w", err)
	}
	return nil
}

// History lists replaced versions of a project, newest first.
func (inv *Inventory) History(projectIDOrSlug string) ([]db.ModVersion, error) {
	projectID := projectIDOrSlug
	if m, err := inv.Get(projectIDOrSlug); err == nil {
		projectID = m.ProjectID
	} else if !errs.IsNotFound(err) {
		return nil, err
	}
	var versions []db.ModVersion
	if err := inv.conn.Where("project_id = ?", projectID).Order("id DESC").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return versions, nil
}

// DropHistory deletes one history entry.
func (inv *Inventory) DropHistory(id uint) error {
	if err := inv.conn.Unscoped().Delete(&db.ModVersion{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete history entry %d: %w", id, err)
	}
	return nil
}
