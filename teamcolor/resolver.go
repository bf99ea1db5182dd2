package teamcolor

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/aweist/lab-booking/models"
)

// HueRange bounds derived hues to [0, HueRange). The red band above it is
// kept for the in-use highlight.
const HueRange = 280

// DefaultPalette holds the colours of the lab's long-standing teams.
var DefaultPalette = map[string]models.Color{
	"第一研究班":   {Fill: "#4F46E5", Border: "#4338CA"},
	"第二研究班":   {Fill: "#0EA5E9", Border: "#0284C7"},
	"第三研究班":   {Fill: "#10B981", Border: "#059669"},
	"環境分析チーム": {Fill: "#8B5CF6", Border: "#7C3AED"},
	"材料研究班":   {Fill: "#F59E0B", Border: "#D97706"},
}

// Resolver maps team names to display colours. It is a cache over the team
// records and can be rebuilt from them at any time.
type Resolver struct {
	mu      sync.RWMutex
	palette map[string]models.Color
	cache   map[string]models.Color
}

func NewResolver(palette map[string]models.Color) *Resolver {
	p := make(map[string]models.Color, len(palette))
	for name, c := range palette {
		p[name] = c
	}
	return &Resolver{
		palette: p,
		cache:   make(map[string]models.Color),
	}
}

// Resolve returns the colour for name. An explicit colour replaces whatever
// was cached for the name.
func (r *Resolver) Resolve(name string, explicit *models.Color) models.Color {
	if explicit != nil {
		r.mu.Lock()
		r.cache[name] = *explicit
		r.mu.Unlock()
		return *explicit
	}

	r.mu.RLock()
	c, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	c, ok = r.palette[name]
	if !ok {
		c = Derive(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have stored an explicit colour meanwhile.
	if existing, ok := r.cache[name]; ok {
		return existing
	}
	r.cache[name] = c
	return c
}

func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]models.Color)
	r.mu.Unlock()
}

// Rebuild resets the cache and resolves every team with its stored colour.
func (r *Resolver) Rebuild(teams []models.Team) {
	r.Reset()
	for _, t := range teams {
		r.Resolve(t.Name, t.Color)
	}
}

// Rename makes the new name resolve to the team's colour while the old name
// keeps its entry, so reservations made under it still display the same way.
func (r *Resolver) Rename(oldName, newName string, color *models.Color) models.Color {
	c := r.Resolve(oldName, color)
	return r.Resolve(newName, &c)
}

// Snapshot returns a copy of the cached colours.
func (r *Resolver) Snapshot() map[string]models.Color {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.Color, len(r.cache))
	for name, c := range r.cache {
		out[name] = c
	}
	return out
}

// Derive computes the hash-based colour for a name without touching any cache.
func Derive(name string) models.Color {
	sum := md5.Sum([]byte(name))
	hue := binary.BigEndian.Uint32(sum[:4]) % HueRange
	return models.Color{
		Fill:   fmt.Sprintf("hsl(%d, 70%%, 60%%)", hue),
		Border: fmt.Sprintf("hsl(%d, 70%%, 50%%)", hue),
	}
}
