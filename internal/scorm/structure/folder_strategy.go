package structure

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/your-org/scormflow/internal/scorm/course"
)

const sharedDir = "shared"

// FolderStrategy ignores the manifest tree and treats every top-level folder
// of the extracted package as a module and every .html file in it as a
// single-block lesson. Folders without HTML files are dropped.
type FolderStrategy struct {
	Dir    string
	Target Target
}

func (s FolderStrategy) Name() string { return "folder" }

func (s FolderStrategy) Synthesize() (course.Structure, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("list package folders: %w", err)
	}

	modules := course.Structure{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || name == sharedDir {
			continue
		}

		lessons, err := s.lessons(name)
		if err != nil {
			return nil, err
		}
		if len(lessons) == 0 {
			continue
		}

		modules = append(modules, course.Module{
			ID:      course.NewModuleID(),
			Title:   Humanize(name),
			Order:   len(modules),
			Lessons: lessons,
		})
	}
	return modules, nil
}

func (s FolderStrategy) lessons(folder string) ([]course.Lesson, error) {
	entries, err := os.ReadDir(filepath.Join(s.Dir, folder))
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folder, err)
	}

	var lessons []course.Lesson
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".html") {
			continue
		}
		stem := name[:len(name)-len(".html")]
		_, launchURL := s.Target.Launch(folder + "/" + name)

		lessons = append(lessons, course.Lesson{
			ID:    course.NewLessonID(),
			Title: Humanize(stem),
			Order: len(lessons),
			Blocks: []course.Block{{
				ID:        course.NewBlockID(),
				Type:      course.BlockHTMLViewer,
				Content:   stem,
				Order:     0,
				LaunchURL: &launchURL,
			}},
		})
	}
	return lessons, nil
}
