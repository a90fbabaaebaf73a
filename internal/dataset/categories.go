// Package dataset holds the category description of a segmentation dataset:
// the name and display color of every class index a model can predict.
package dataset

import (
	_ "embed"
	"fmt"
	"image/color"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed ade20k.yml
var ade20kDescription []byte

// Source tells where a resolved category table came from.
type Source string

const (
	SourceFile      Source = "file"
	SourceADE20K    Source = "ade20k"
	SourceGenerated Source = "generated"
)

type Category struct {
	ID    int
	Name  string
	Color color.RGBA
}

// Categories is an immutable table of categories keyed by class index.
type Categories struct {
	byID    map[int]Category
	ordered []Category
}

type categoryEntry struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	Color []int  `yaml:"color"`
}

func NewCategories(cats []Category) (*Categories, error) {
	c := &Categories{byID: make(map[int]Category, len(cats))}
	for _, cat := range cats {
		if _, dup := c.byID[cat.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %d", cat.ID)
		}
		c.byID[cat.ID] = cat
		c.ordered = append(c.ordered, cat)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })
	return c, nil
}

// LoadCategories reads a YAML list of {id, name, color: [r, g, b]} entries.
func LoadCategories(path string) (*Categories, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories: %w", err)
	}
	return parseCategories(raw)
}

// ADE20K returns the built-in 150-class ADE20K description.
func ADE20K() (*Categories, error) {
	return parseCategories(ade20kDescription)
}

// Resolve picks the category table for a model with numClasses classes. An
// explicit path must load. Without one the built-in ADE20K table is used when
// it covers every class, and a generated table otherwise.
func Resolve(path string, numClasses int) (*Categories, Source, error) {
	if path != "" {
		cats, err := LoadCategories(path)
		if err != nil {
			return nil, "", err
		}
		return cats, SourceFile, nil
	}

	ade, err := ADE20K()
	if err != nil {
		return nil, "", err
	}
	if numClasses <= ade.Len() {
		return ade, SourceADE20K, nil
	}
	return DefaultCategories(numClasses), SourceGenerated, nil
}

func parseCategories(raw []byte) (*Categories, error) {
	var entries []categoryEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse categories: %w", err)
	}

	cats := make([]Category, 0, len(entries))
	for _, e := range entries {
		if len(e.Color) != 3 {
			return nil, fmt.Errorf("category %d (%s): color must have 3 components, got %d", e.ID, e.Name, len(e.Color))
		}
		for _, v := range e.Color {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("category %d (%s): color component %d out of range", e.ID, e.Name, v)
			}
		}
		cats = append(cats, Category{
			ID:    e.ID,
			Name:  e.Name,
			Color: color.RGBA{R: uint8(e.Color[0]), G: uint8(e.Color[1]), B: uint8(e.Color[2]), A: 255},
		})
	}
	return NewCategories(cats)
}

// DefaultCategories names classes class_<i> and colors them with the PASCAL
// VOC palette.
func DefaultCategories(n int) *Categories {
	cats := make([]Category, n)
	for i := range cats {
		cats[i] = Category{ID: i, Name: fmt.Sprintf("class_%d", i), Color: PaletteColor(i)}
	}
	c, _ := NewCategories(cats)
	return c
}

// PaletteColor spreads the bits of i over the high bits of the three channels.
func PaletteColor(i int) color.RGBA {
	var r, g, b uint8
	for j := 0; j < 8; j++ {
		r |= uint8((i>>0)&1) << (7 - j)
		g |= uint8((i>>1)&1) << (7 - j)
		b |= uint8((i>>2)&1) << (7 - j)
		i >>= 3
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func (c *Categories) Lookup(id int) (Category, bool) {
	cat, ok := c.byID[id]
	return cat, ok
}

func (c *Categories) Len() int {
	return len(c.ordered)
}

// All returns the categories in ascending id order.
func (c *Categories) All() []Category {
	out := make([]Category, len(c.ordered))
	copy(out, c.ordered)
	return out
}
