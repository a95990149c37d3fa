// Package course holds the normalized Module → Lesson → Block structure
// produced from a SCORM package.
package course

import "github.com/google/uuid"

// BlockType identifies how a block is launched.
type BlockType string

const (
	BlockSCORM      BlockType = "SCORM"
	BlockHTMLViewer BlockType = "HTML_VIEWER"
)

// LaunchStatusReady marks launch metadata whose package finished ingesting.
const LaunchStatusReady = "READY"

// Structure is the ordered module list of a course.
type Structure []Module

type Module struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Order   int      `json:"order"`
	Lessons []Lesson `json:"lessons"`
}

type Lesson struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Order  int     `json:"order"`
	Blocks []Block `json:"blocks"`
}

// Block is a single launchable unit. LaunchURL is nil when the block's
// resource could not be resolved.
type Block struct {
	ID            string         `json:"id"`
	Type          BlockType      `json:"type"`
	Content       string         `json:"content"`
	Order         int            `json:"order"`
	LaunchURL     *string        `json:"launchUrl,omitempty"`
	SCORMMetadata *SCORMMetadata `json:"scormMetadata,omitempty"`
}

// SCORMMetadata links a SCORM block back to its package.
type SCORMMetadata struct {
	Status      string  `json:"status"`
	PackageID   string  `json:"packageId"`
	StoragePath string  `json:"storagePath"`
	LaunchPath  *string `json:"launchPath"`
	LaunchURL   *string `json:"launchUrl"`
}

// Counts returns the number of modules, lessons and blocks.
func (s Structure) Counts() (modules, lessons, blocks int) {
	for _, m := range s {
		lessons += len(m.Lessons)
		for _, l := range m.Lessons {
			blocks += len(l.Blocks)
		}
	}
	return len(s), lessons, blocks
}

// Reindex rewrites every Order field to match its slice position.
func (s Structure) Reindex() {
	for i := range s {
		s[i].Order = i
		for j := range s[i].Lessons {
			s[i].Lessons[j].Order = j
			for k := range s[i].Lessons[j].Blocks {
				s[i].Lessons[j].Blocks[k].Order = k
			}
		}
	}
}

func NewModuleID() string { return "m-" + uuid.NewString() }
func NewLessonID() string { return "l-" + uuid.NewString() }
func NewBlockID() string { return "b-" + uuid.NewString() }
