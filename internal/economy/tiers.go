package economy

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

//go:embed tiers.yaml
var defaultFiles embed.FS

var (
	ErrUnknownTier = errors.New("unknown tier")
)

// Tier bundles the economics of one matchmaking pool. All amounts are
// integer credits.
type Tier struct {
	Name              string `yaml:"name"`
	EntryFee          int64  `yaml:"entry_fee"`
	WinnerPrize       int64  `yaml:"winner_prize"`
	PlatformRetention int64  `yaml:"platform_retention"`
}

// Validate rejects misconfigured tiers before they can reach settlement.
// The pot of a battle is two entry fees; prize plus retention must
// account for it exactly.
func (t Tier) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("tier has empty name")
	}
	if t.EntryFee <= 0 {
		return fmt.Errorf("tier %s: entry_fee must be positive", t.Name)
	}
	if t.WinnerPrize <= 0 || t.WinnerPrize > 2*t.EntryFee {
		return fmt.Errorf("tier %s: winner_prize must be in (0, 2*entry_fee]", t.Name)
	}
	if t.PlatformRetention < 0 {
		return fmt.Errorf("tier %s: platform_retention must not be negative", t.Name)
	}
	if 2*t.EntryFee != t.WinnerPrize+t.PlatformRetention {
		return fmt.Errorf("tier %s: entry_fee*2 (%d) != winner_prize+platform_retention (%d)",
			t.Name, 2*t.EntryFee, t.WinnerPrize+t.PlatformRetention)
	}
	return nil
}

// Catalog loads tier definitions from the embedded defaults and an
// optional override directory. Overrides replace tiers by name.
type Catalog struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

type tierFile struct {
	Tiers []Tier `yaml:"tiers"`
}

// NewCatalog loads the embedded default tiers and then applies overrides
// from dir if provided. Every tier is validated before it is accepted.
func NewCatalog(overrideDir string) (*Catalog, error) {
	c := &Catalog{tiers: make(map[string]Tier)}

	raw, err := fs.ReadFile(defaultFiles, "tiers.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded tiers: %w", err)
	}
	if err := c.applyYAML(raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	if len(c.tiers) == 0 {
		return nil, errors.New("tier catalog is empty")
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read tier dir: %w", err)
	}
	// sort for deterministic order
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
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := c.applyYAML(b); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) applyYAML(b []byte) error {
	var f tierFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}
	for _, t := range f.Tiers {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	for _, t := range f.Tiers {
		c.tiers[t.Name] = t
	}
	c.mu.Unlock()
	return nil
}

// Lookup returns the tier by name.
func (c *Catalog) Lookup(name string) (Tier, error) {
	c.mu.RLock()
	t, ok := c.tiers[strings.TrimSpace(name)]
	c.mu.RUnlock()
	if !ok {
		return Tier{}, fmt.Errorf("%w: %s", ErrUnknownTier, name)
	}
	return t, nil
}

// Names returns all tier names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.tiers))
	for n := range c.tiers {
		names = append(names, n)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}
