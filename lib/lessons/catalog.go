// Package lessons loads lab exercises and judges whether their tasks are
// done. Built-in lessons are embedded; a lessons directory can add more.
package lessons

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/ghodss/yaml"
	"github.com/onkernel/termlab/lib/entropy"
	"github.com/onkernel/termlab/lib/system"
	"github.com/onkernel/termlab/lib/vfs"
	"github.com/onkernel/termlab/lib/vnet"
)

//go:embed data
var builtin embed.FS

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Catalog is an immutable set of lessons.
type Catalog struct {
	byID  map[string]*Lesson
	order []string
}

// Load returns the built-in lessons plus every *.yaml and *.yml fixture in
// dir. An empty dir loads the built-in set only.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Lesson)}

	data, err := fs.Sub(builtin, "data")
	if err != nil {
		return nil, err
	}
	if err := c.addFrom(data, func(ref string) ([]byte, error) {
		if !fs.ValidPath(ref) {
			return nil, fmt.Errorf("content_from %q escapes the fixture directory", ref)
		}
		return fs.ReadFile(data, ref)
	}); err != nil {
		return nil, fmt.Errorf("built-in lessons: %w", err)
	}

	if dir == "" {
		return c, nil
	}
	if err := c.addFrom(os.DirFS(dir), func(ref string) ([]byte, error) {
		p, err := securejoin.SecureJoin(dir, ref)
		if err != nil {
			return nil, err
		}
		return os.ReadFile(p)
	}); err != nil {
		return nil, fmt.Errorf("lessons dir %s: %w", dir, err)
	}
	return c, nil
}

// addFrom parses every fixture at the top of fsys. read resolves
// content_from references.
func (c *Catalog) addFrom(fsys fs.FS, read func(ref string) ([]byte, error)) error {
	var names []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := fs.Glob(fsys, pattern)
		if err != nil {
			return err
		}
		names = append(names, m...)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		l, err := Parse(raw, read)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, dup := c.byID[l.ID]; dup {
			return fmt.Errorf("%s: %w: %s", name, ErrDuplicate, l.ID)
		}
		c.byID[l.ID] = l
		c.order = append(c.order, l.ID)
	}
	return nil
}

// Parse decodes one fixture, inlines its content_from files and validates
// it. read may be nil when the fixture has no external content.
func Parse(raw []byte, read func(ref string) ([]byte, error)) (*Lesson, error) {
	var l Lesson
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode lesson: %w", err)
	}
	for i := range l.Files {
		f := &l.Files[i]
		if f.ContentFrom == "" {
			continue
		}
		if f.Content != "" {
			return nil, &ValidationError{Lesson: l.ID, Field: "files[" + f.Path + "]", Message: "content and content_from are mutually exclusive"}
		}
		if read == nil {
			return nil, &ValidationError{Lesson: l.ID, Field: "files[" + f.Path + "]", Message: "content_from is not available here"}
		}
		data, err := read(path.Clean(f.ContentFrom))
		if err != nil {
			return nil, fmt.Errorf("%s: content_from: %w", f.Path, err)
		}
		f.Content = string(data)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks the fixture's fields and then applies it to a scratch
// machine, so a lesson that loads is a lesson that can start.
func (l *Lesson) Validate() error {
	if !idPattern.MatchString(l.ID) {
		return &ValidationError{Lesson: l.ID, Field: "id", Message: "id must be lowercase letters, digits and dashes"}
	}
	if l.Title == "" {
		return &ValidationError{Lesson: l.ID, Field: "title", Message: "title is required"}
	}
	for i, t := range l.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if t.Title == "" {
			return &ValidationError{Lesson: l.ID, Field: field, Message: "title is required"}
		}
		if !t.Validation.Type.Valid() {
			return &ValidationError{Lesson: l.ID, Field: field, Message: fmt.Sprintf("unknown validation type %q", t.Validation.Type)}
		}
		if t.Validation.Check == "" {
			return &ValidationError{Lesson: l.ID, Field: field, Message: "validation check is required"}
		}
	}
	for _, f := range l.Files {
		if f.Path == "" {
			return &ValidationError{Lesson: l.ID, Field: "files", Message: "path is required"}
		}
	}
	for _, d := range l.Dirs {
		if d.Path == "" {
			return &ValidationError{Lesson: l.ID, Field: "dirs", Message: "path is required"}
		}
	}

	clock := func() time.Time { return time.Unix(0, 0).UTC() }
	scratch := vfs.New(vfs.Options{Clock: clock})
	n := vnet.New(vnet.Options{Clock: clock, Rand: entropy.New(l.ID)})
	h := system.New(system.Options{Clock: clock, Rand: entropy.New(l.ID)}, scratch, n)
	if err := l.Apply(scratch, n, h); err != nil {
		return &ValidationError{Lesson: l.ID, Field: "setup", Message: err.Error()}
	}
	return nil
}

// Get returns the lesson with the given ID.
func (c *Catalog) Get(id string) (*Lesson, error) {
	l, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l, nil
}

// List returns the lesson summaries in load order.
func (c *Catalog) List() []Summary {
	out := make([]Summary, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id].Summary())
	}
	return out
}

// Len returns the number of lessons.
func (c *Catalog) Len() int { return len(c.order) }

// IsNotFound reports whether err means an unknown lesson ID.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
