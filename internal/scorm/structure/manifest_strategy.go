package structure

import (
	"github.com/your-org/scormflow/internal/scorm/course"
	"github.com/your-org/scormflow/internal/scorm/manifest"
)

// ManifestStrategy maps depth-1 items to modules, depth-2 items to lessons and
// depth-3 items to blocks. Referenced items below depth 3 are appended to
// their lesson after the depth-3 blocks.
type ManifestStrategy struct {
	Manifest *manifest.Manifest
	Target   Target
}

func (s ManifestStrategy) Name() string { return "manifest" }

func (s ManifestStrategy) Synthesize() (course.Structure, error) {
	modules := make(course.Structure, 0, len(s.Manifest.Items))
	for i, item := range s.Manifest.Items {
		title := titleOr(item.Title, "Untitled Module")
		mod := course.Module{
			ID:      course.NewModuleID(),
			Title:   title,
			Order:   i,
			Lessons: []course.Lesson{},
		}

		switch item.Kind {
		case manifest.KindResource, manifest.KindResourceBranch:
			// one-lesson module: the module's own resource wins over its children
			mod.Lessons = append(mod.Lessons, course.Lesson{
				ID:     course.NewLessonID(),
				Title:  title,
				Order:  0,
				Blocks: []course.Block{s.block(title, item.IdentifierRef, 0)},
			})
		case manifest.KindBranch:
			for j, child := range item.Children {
				mod.Lessons = append(mod.Lessons, s.lesson(child, j))
			}
		}

		modules = append(modules, mod)
	}
	return modules, nil
}

func (s ManifestStrategy) lesson(item manifest.Item, order int) course.Lesson {
	title := titleOr(item.Title, "Untitled Lesson")
	blocks := []course.Block{}
	if item.HasResource() {
		blocks = append(blocks, s.block(title, item.IdentifierRef, 0))
	}

	var deeper []manifest.Item
	for _, child := range item.Children {
		if child.HasResource() {
			blocks = append(blocks, s.block(titleOr(child.Title, "Untitled Part"), child.IdentifierRef, len(blocks)))
		}
		deeper = append(deeper, child.Children...)
	}
	blocks = s.appendDescendants(blocks, deeper)

	return course.Lesson{
		ID:     course.NewLessonID(),
		Title:  title,
		Order:  order,
		Blocks: blocks,
	}
}

func (s ManifestStrategy) appendDescendants(blocks []course.Block, items []manifest.Item) []course.Block {
	for _, item := range items {
		if item.HasResource() {
			blocks = append(blocks, s.block(titleOr(item.Title, "Untitled Part"), item.IdentifierRef, len(blocks)))
		}
		blocks = s.appendDescendants(blocks, item.Children)
	}
	return blocks
}

// block builds a SCORM block. An unresolved reference yields nil launch
// fields instead of a guessed URL.
func (s ManifestStrategy) block(title, ref string, order int) course.Block {
	meta := &course.SCORMMetadata{
		Status:      course.LaunchStatusReady,
		PackageID:   s.Target.PackageID,
		StoragePath: s.Target.StoragePath,
	}
	b := course.Block{
		ID:            course.NewBlockID(),
		Type:          course.BlockSCORM,
		Content:       title,
		Order:         order,
		SCORMMetadata: meta,
	}

	res, ok := s.Manifest.Resource(ref)
	if !ok || res.Href == "" {
		return b
	}
	launchPath, launchURL := s.Target.Launch(res.Href)
	meta.LaunchPath = &launchPath
	meta.LaunchURL = &launchURL
	b.LaunchURL = &launchURL
	return b
}
