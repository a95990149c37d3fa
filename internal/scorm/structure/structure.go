// Package structure synthesizes the Module → Lesson → Block course structure
// from a parsed manifest or, for single-item manifests, from the folder
// layout of the extracted package.
package structure

import (
	"strings"

	"github.com/your-org/scormflow/internal/scorm/course"
	"github.com/your-org/scormflow/internal/scorm/manifest"
)

// Target locates the published copy of a package.
type Target struct {
	PackageID     string
	StoragePath   string
	Prefix        string
	PublicBaseURL string
}

// Launch returns the storage path and public URL for a file inside the package.
func (t Target) Launch(rel string) (launchPath, launchURL string) {
	launchPath = strings.TrimRight(t.Prefix, "/") + "/" + strings.TrimLeft(rel, "/")
	launchURL = strings.TrimRight(t.PublicBaseURL, "/") + "/" + launchPath
	return launchPath, launchURL
}

// Strategy builds a course structure from one packaging convention.
type Strategy interface {
	Name() string
	Synthesize() (course.Structure, error)
}

// Select picks the folder strategy for a single childless root item and the
// manifest strategy for everything else.
func Select(m *manifest.Manifest, extractedDir string, target Target) Strategy {
	if m.IsFlat() {
		return FolderStrategy{Dir: extractedDir, Target: target}
	}
	return ManifestStrategy{Manifest: m, Target: target}
}

// Humanize inserts a space before every capital letter and trims the result,
// so "HavingFun" becomes "Having Fun".
func Humanize(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func titleOr(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return title
}
