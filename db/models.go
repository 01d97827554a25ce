package db

import (
	"time"

	"gorm.io/gorm"
)

// Mod is an installed artifact. A mod is either enabled or disabled; a
// disabled mod keeps its record and lives on disk as FileName + ".disabled".
type Mod struct {
	gorm.Model
	ProjectID        string `gorm:"uniqueIndex"` // Modrinth Project ID
	ProjectSlug      string
	Title            string
	ProjectType      string // mod, shader, resourcepack
	Color            int
	Loader           string
	VersionID        string
	VersionNumber    string
	FileName         string // file name of the enabled form
	Enabled          bool
	LastVerifiedHash string
	LastVerifiedAlgo string
	LastVerifiedAt   *time.Time
}

// ModVersion is a previously installed version that was replaced by an update.
type ModVersion struct {
	gorm.Model
	ProjectID     string `gorm:"index"`
	VersionID     string
	VersionNumber string
	FileName      string
}

// Document is a JSON document persisted under a key.
type Document struct {
	Key       string `gorm:"primaryKey;column:doc_key"`
	Body      string
	UpdatedAt time.Time
}
