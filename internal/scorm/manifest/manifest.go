// Package manifest parses imsmanifest.xml into a resource table and the item
// tree of the package's first organization.
package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the manifest file expected at the package root.
const FileName = "imsmanifest.xml"

var (
	ErrNotFound       = errors.New(FileName + " not found")
	ErrMalformed      = errors.New("malformed manifest")
	ErrNoOrganization = errors.New("no organization found in manifest")
)

// Resource is one <resource> entry.
type Resource struct {
	Identifier string
	Href       string
	Type       string
	ScormType  string
	Files      []string
}

// ItemKind classifies an item by what it carries. It is decided once while
// parsing so synthesis never re-inspects raw children or references.
type ItemKind int

const (
	// KindEmpty has neither a resource reference nor children.
	KindEmpty ItemKind = iota
	// KindResource references a resource and has no children.
	KindResource
	// KindBranch has children and no resource reference.
	KindBranch
	// KindResourceBranch references a resource and has children.
	KindResourceBranch
)

func (k ItemKind) String() string {
	switch k {
	case KindResource:
		return "resource"
	case KindBranch:
		return "branch"
	case KindResourceBranch:
		return "resource-branch"
	default:
		return "empty"
	}
}

// Item is one node of the organization tree.
type Item struct {
	Identifier    string
	Title         string
	IdentifierRef string
	Kind          ItemKind
	Children      []Item
}

// HasResource reports whether the item references a resource.
func (i Item) HasResource() bool {
	return i.Kind == KindResource || i.Kind == KindResourceBranch
}

// Manifest is the parsed form of imsmanifest.xml. Only the first
// organization is kept; additional organizations are ignored.
type Manifest struct {
	Identifier        string
	OrganizationID    string
	OrganizationTitle string
	Resources         map[string]Resource
	Items             []Item
}

// Resource looks a resource up by exact identifier.
func (m *Manifest) Resource(identifier string) (Resource, bool) {
	r, ok := m.Resources[identifier]
	return r, ok
}

// IsFlat reports whether the item tree is a single childless item, the
// shape exported by tools that keep the real structure in folders.
func (m *Manifest) IsFlat() bool {
	return len(m.Items) == 1 && len(m.Items[0].Children) == 0
}

type xmlManifest struct {
	XMLName       xml.Name          `xml:"manifest"`
	Identifier    string            `xml:"identifier,attr"`
	Organizations *xmlOrganizations `xml:"organizations"`
	Resources     *xmlResources     `xml:"resources"`
}

type xmlOrganizations struct {
	Default       string            `xml:"default,attr"`
	Organizations []xmlOrganization `xml:"organization"`
}

type xmlOrganization struct {
	Identifier string    `xml:"identifier,attr"`
	Title      string    `xml:"title"`
	Items      []xmlItem `xml:"item"`
}

type xmlItem struct {
	Identifier    string    `xml:"identifier,attr"`
	IdentifierRef string    `xml:"identifierref,attr"`
	Title         string    `xml:"title"`
	Items         []xmlItem `xml:"item"`
}

type xmlResources struct {
	Resources []xmlResource `xml:"resource"`
}

type xmlResource struct {
	Identifier string    `xml:"identifier,attr"`
	Href       string    `xml:"href,attr"`
	Type       string    `xml:"type,attr"`
	ScormType  string    `xml:"scormType,attr"`
	Files      []xmlFile `xml:"file"`
}

type xmlFile struct {
	Href string `xml:"href,attr"`
}

// Load reads and parses the manifest at the root of dir.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes manifest XML. It has no side effects and keeps no state,
// so parsing the same document twice yields equal results.
func Parse(data []byte) (*Manifest, error) {
	var doc xmlManifest
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Resources == nil {
		return nil, fmt.Errorf("%w: missing <resources>", ErrMalformed)
	}
	if doc.Organizations == nil {
		return nil, fmt.Errorf("%w: missing <organizations>", ErrMalformed)
	}
	if len(doc.Organizations.Organizations) == 0 {
		return nil, ErrNoOrganization
	}

	m := &Manifest{
		Identifier: doc.Identifier,
		Resources:  make(map[string]Resource, len(doc.Resources.Resources)),
	}
	for _, r := range doc.Resources.Resources {
		if r.Identifier == "" {
			continue
		}
		res := Resource{
			Identifier: r.Identifier,
			Href:       strings.TrimSpace(r.Href),
			Type:       r.Type,
			ScormType:  r.ScormType,
		}
		for _, f := range r.Files {
			res.Files = append(res.Files, f.Href)
		}
		m.Resources[r.Identifier] = res
	}

	org := doc.Organizations.Organizations[0]
	m.OrganizationID = org.Identifier
	m.OrganizationTitle = strings.TrimSpace(org.Title)
	m.Items = convertItems(org.Items)
	return m, nil
}

func convertItems(in []xmlItem) []Item {
	if len(in) == 0 {
		return nil
	}
	out := make([]Item, 0, len(in))
	for _, x := range in {
		item := Item{
			Identifier:    x.Identifier,
			Title:         strings.TrimSpace(x.Title),
			IdentifierRef: strings.TrimSpace(x.IdentifierRef),
			Children:      convertItems(x.Items),
		}
		item.Kind = kindOf(item)
		out = append(out, item)
	}
	return out
}

func kindOf(item Item) ItemKind {
	hasRef := item.IdentifierRef != ""
	hasChildren := len(item.Children) > 0
	switch {
	case hasRef && hasChildren:
		return KindResourceBranch
	case hasRef:
		return KindResource
	case hasChildren:
		return KindBranch
	default:
		return KindEmpty
	}
}
