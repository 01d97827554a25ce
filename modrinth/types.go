package modrinth

import (
	"slices"
	"time"
)

// User represents a Modrinth user (simplified).
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Project represents a Modrinth project
type Project struct {
	Slug        string `json:"slug"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	IconURL     string `json:"icon_url"`
	Color       int    `json:"color"`
	Updated     string `json:"updated"`
	ProjectType string `json:"project_type"` // e.g., "mod"
	ClientSide  string `json:"client_side"`  // required, optional, unsupported, unknown
	ServerSide  string `json:"server_side"`  // required, optional, unsupported, unknown
}

// Version represents a Modrinth project version.
type Version struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Name          string    `json:"name"`
	VersionNumber string    `json:"version_number"`
	VersionType   string    `json:"version_type"` // release, beta, alpha
	DatePublished time.Time `json:"date_published"`
	Loaders       []string  `json:"loaders"`
	GameVersions  []string  `json:"game_versions"`
	Files         []File    `json:"files"`
}

// File represents a file within a Modrinth version.
type File struct {
	Filename string            `json:"filename"`
	URL      string            `json:"url"`
	Primary  bool              `json:"primary"`
	Size     int64             `json:"size"`
	Hashes   map[string]string `json:"hashes"` // e.g., {"sha512": "...", "sha1": "..."}
}

// IsStable reports whether the version is a release build.
func (v Version) IsStable() bool {
	return v.VersionType == "release"
}

// Supports reports whether the version lists both loader and gameVersion.
// An empty argument matches anything.
func (v Version) Supports(loader, gameVersion string) bool {
	if loader != "" && !slices.Contains(v.Loaders, loader) {
		return false
	}
	if gameVersion != "" && !slices.Contains(v.GameVersions, gameVersion) {
		return false
	}
	return true
}

// PrimaryFile locates the primary file, or the first file if none is marked.
func (v Version) PrimaryFile() *File {
	for i := range v.Files {
		if v.Files[i].Primary {
			return &v.Files[i]
		}
	}
	if len(v.Files) > 0 {
		return &v.Files[0]
	}
	return nil
}

// Hash returns the strongest published hash of the file and its algorithm name.
func (f File) Hash() (value, algorithm string) {
	for _, alg := range []string{"sha512", "sha256", "sha1"} {
		if h := f.Hashes[alg]; h != "" {
			return h, alg
		}
	}
	return "", ""
}
