package sensor

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

//go:embed pinouts.yaml
var defaultFiles embed.FS

var ErrUnknownVariant = errors.New("unknown board variant")

// LEDPins is the wiring of the indicator light shift register chain.
type LEDPins struct {
	Data         int `yaml:"data"`
	Clock        int `yaml:"clock"`
	Latch        int `yaml:"latch"`
	OutputEnable int `yaml:"output_enable"`
	Reset        int `yaml:"reset"`
}

// Pinout describes one controller board: two 3-bit multiplexer address buses,
// the shared analog sense input and the default occupancy threshold.
type Pinout struct {
	Name        string        `yaml:"-"`
	Description string        `yaml:"description"`
	RowSelect   [3]int        `yaml:"row_select"`
	ColSelect   [3]int        `yaml:"col_select"`
	Sense       int           `yaml:"sense"`
	Threshold   int           `yaml:"threshold"`
	RowSettle   time.Duration `yaml:"row_settle"`
	ColSettle   time.Duration `yaml:"col_settle"`
	LED         LEDPins       `yaml:"led"`
}

type catalogFile struct {
	Variants map[string]Pinout `yaml:"variants"`
}

// Catalog holds the known board variants: embedded defaults plus optional overrides.
type Catalog struct {
	variants map[string]Pinout
}

// LoadCatalog loads the embedded variants and then applies *.yaml overrides from dir if provided.
func LoadCatalog(overrideDir string) (*Catalog, error) {
	c := &Catalog{variants: make(map[string]Pinout)}
	raw, err := fs.ReadFile(defaultFiles, "pinouts.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded pinouts: %w", err)
	}
	flat, err := parseVariants(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded pinouts: %w", err)
	}
	for k, v := range flat {
		c.variants[k] = v
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read pinout dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	seen := make(map[string]string) // variant -> filename
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := parseVariants(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate variant %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		for k, v := range flat {
			c.variants[k] = v
		}
	}
	return nil
}

func parseVariants(b []byte) (map[string]Pinout, error) {
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	out := make(map[string]Pinout, len(f.Variants))
	for name, p := range f.Variants {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, errors.New("variant without name")
		}
		p.Name = key
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("variant %s: %w", key, err)
		}
		out[key] = p
	}
	return out, nil
}

// Lookup returns the named variant.
func (c *Catalog) Lookup(name string) (Pinout, error) {
	p, ok := c.variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Pinout{}, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	return p, nil
}

// Names lists the known variants, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.variants))
	for k := range c.variants {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate rejects wiring where one pin serves two roles.
func (p Pinout) Validate() error {
	if p.Threshold <= 0 {
		return fmt.Errorf("threshold must be > 0: %d", p.Threshold)
	}
	used := map[int]string{}
	claim := func(pin int, role string) error {
		if prev, ok := used[pin]; ok {
			return fmt.Errorf("pin %d used by %s and %s", pin, prev, role)
		}
		used[pin] = role
		return nil
	}
	for i, pin := range p.RowSelect {
		if err := claim(pin, fmt.Sprintf("row_select[%d]", i)); err != nil {
			return err
		}
	}
	for i, pin := range p.ColSelect {
		if err := claim(pin, fmt.Sprintf("col_select[%d]", i)); err != nil {
			return err
		}
	}
	if err := claim(p.Sense, "sense"); err != nil {
		return err
	}
	led := []struct {
		role string
		pin  int
	}{
		{"led.data", p.LED.Data},
		{"led.clock", p.LED.Clock},
		{"led.latch", p.LED.Latch},
		{"led.output_enable", p.LED.OutputEnable},
		{"led.reset", p.LED.Reset},
	}
	for _, l := range led {
		if err := claim(l.pin, l.role); err != nil {
			return err
		}
	}
	if p.RowSettle < 0 || p.ColSettle < 0 {
		return errors.New("settle times must not be negative")
	}
	return nil
}
