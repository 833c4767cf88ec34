package preset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound = errors.New("preset not found")
	ErrInvalid  = errors.New("invalid preset store")
)

// maxSide bounds preset dimensions so a typo cannot allocate a gigapixel canvas.
const maxSide = 10_000

type Category string

const (
	Photo     Category = "photo"
	Signature Category = "signature"
)

// Categories in the order they are offered to the user.
var Categories = []Category{Photo, Signature}

// ParseCategory matches s exactly against the category vocabulary.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Preset is the target geometry and size ceiling for one (exam, category) pair.
type Preset struct {
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	MaxKB  float64 `json:"max_kb" yaml:"max_kb"`
}

// Catalog is read-only after Parse. Safe for concurrent use.
type Catalog struct {
	order []string
	exams map[string]map[Category]Preset
}

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the decoder by file extension; anything but .yaml/.yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
	}
	c, err := Parse(b, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

type entry struct {
	name string
	cats map[string]Preset
}

// Parse decodes {exam: {category: {width, height, max_kb}}} keeping exam order
// as written, then validates every entry.
func Parse(data []byte, f Format) (*Catalog, error) {
	var (
		entries []entry
		err     error
	)
	switch f {
	case FormatYAML:
		entries, err = decodeYAML(data)
	default:
		entries, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no exams defined", ErrInvalid)
	}

	c := &Catalog{
		order: make([]string, 0, len(entries)),
		exams: make(map[string]map[Category]Preset, len(entries)),
	}
	for _, e := range entries {
		presets, err := validate(e)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if _, dup := c.exams[e.name]; dup {
			return nil, fmt.Errorf("%w: exam %q defined twice", ErrInvalid, e.name)
		}
		c.order = append(c.order, e.name)
		c.exams[e.name] = presets
	}
	return c, nil
}

func decodeJSON(data []byte) ([]entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("top level must be an object of exams")
	}
	var out []entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		var cats map[string]Preset
		if err := dec.Decode(&cats); err != nil {
			return nil, fmt.Errorf("exam %q: %v", name, err)
		}
		out = append(out, entry{name: name, cats: cats})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeYAML(data []byte) ([]entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping of exams", root.Line)
	}
	out := make([]entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var cats map[string]Preset
		if err := root.Content[i+1].Decode(&cats); err != nil {
			return nil, fmt.Errorf("exam %q: %v", name, err)
		}
		out = append(out, entry{name: name, cats: cats})
	}
	return out, nil
}

func validate(e entry) (map[Category]Preset, error) {
	if strings.TrimSpace(e.name) == "" {
		return nil, errors.New("empty exam name")
	}
	if _, clash := ParseCategory(e.name); clash {
		return nil, fmt.Errorf("exam name %q collides with a category", e.name)
	}
	for k := range e.cats {
		if _, ok := ParseCategory(k); !ok {
			return nil, fmt.Errorf("exam %q: unknown category %q", e.name, k)
		}
	}
	out := make(map[Category]Preset, len(Categories))
	for _, c := range Categories {
		p, ok := e.cats[string(c)]
		if !ok {
			return nil, fmt.Errorf("exam %q: missing category %q", e.name, c)
		}
		if p.Width <= 0 || p.Height <= 0 || p.Width > maxSide || p.Height > maxSide {
			return nil, fmt.Errorf("exam %q %s: bad dimensions %dx%d", e.name, c, p.Width, p.Height)
		}
		if p.MaxKB <= 0 {
			return nil, fmt.Errorf("exam %q %s: max_kb must be > 0", e.name, c)
		}
		out[c] = p
	}
	return out, nil
}

// Lookup returns the preset for (exam, category) or ErrNotFound.
func (c *Catalog) Lookup(exam string, cat Category) (Preset, error) {
	cats, ok := c.exams[exam]
	if !ok {
		return Preset{}, fmt.Errorf("%w: exam %q", ErrNotFound, exam)
	}
	p, ok := cats[cat]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q/%q", ErrNotFound, exam, cat)
	}
	return p, nil
}

// Has reports whether name is an exam, by exact case-sensitive match.
func (c *Catalog) Has(name string) bool {
	_, ok := c.exams[name]
	return ok
}

// Exams returns exam names in store order.
func (c *Catalog) Exams() []string {
	return append([]string(nil), c.order...)
}
