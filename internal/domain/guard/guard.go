// Package guard decides which profiles may reach which areas of the portal.
package guard

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"evalportal/internal/domain/session"
)

type Tier []session.Profile

var (
	TierGeneral   = Tier{session.ProfileColaborador, session.ProfileEvaluador, session.ProfileAdmin}
	TierEvaluator = Tier{session.ProfileEvaluador, session.ProfileAdmin}
	TierAdmin     = Tier{session.ProfileAdmin}
)

func (t Tier) Allows(p session.Profile) bool {
	for _, allowed := range t {
		if allowed == p {
			return true
		}
	}
	return false
}

const (
	LoginPath   = "/login"
	DefaultPage = "/inicio"
)

// Rule grants a path prefix to a set of profiles.
type Rule struct {
	Prefix   string `yaml:"prefix"`
	Profiles []int  `yaml:"profiles"`
}

func (r Rule) tier() Tier {
	out := make(Tier, 0, len(r.Profiles))
	for _, p := range r.Profiles {
		out = append(out, session.Profile(p))
	}
	return out
}

// Policy maps SPA routes to tiers. The longest matching prefix wins; paths
// matching no rule are open to every authenticated profile.
type Policy struct {
	DefaultPage string `yaml:"defaultPage"`
	Rules       []Rule `yaml:"rules"`
}

func DefaultPolicy() Policy {
	p := Policy{
		DefaultPage: DefaultPage,
		Rules: []Rule{
			{Prefix: "/inicio", Profiles: profiles(TierGeneral)},
			{Prefix: "/evaluacion", Profiles: profiles(TierGeneral)},
			{Prefix: "/autoevaluacion", Profiles: profiles(TierGeneral)},
			{Prefix: "/seguimiento", Profiles: profiles(TierGeneral)},
			{Prefix: "/mis-resultados", Profiles: profiles(TierGeneral)},
			{Prefix: "/colaboradores", Profiles: profiles(TierEvaluator)},
			{Prefix: "/reportes", Profiles: profiles(TierEvaluator)},
			{Prefix: "/resultados", Profiles: profiles(TierEvaluator)},
			{Prefix: "/usuarios", Profiles: profiles(TierAdmin)},
			{Prefix: "/empresas", Profiles: profiles(TierAdmin)},
			{Prefix: "/descriptores", Profiles: profiles(TierAdmin)},
			{Prefix: "/adm-evaluacion", Profiles: profiles(TierAdmin)},
			{Prefix: "/asignaciones", Profiles: profiles(TierAdmin)},
		},
	}
	p.normalize()
	return p
}

func profiles(t Tier) []int {
	out := make([]int, len(t))
	for i, p := range t {
		out[i] = int(p)
	}
	return out
}

// LoadPolicy reads a YAML policy file; an empty path returns DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read access policy: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse access policy: %w", err)
	}
	for i, r := range p.Rules {
		if !strings.HasPrefix(r.Prefix, "/") {
			return Policy{}, fmt.Errorf("access policy rule %d: prefix must start with /", i)
		}
		if len(r.Profiles) == 0 {
			return Policy{}, fmt.Errorf("access policy rule %d: no profiles", i)
		}
		for _, profile := range r.Profiles {
			if !session.Profile(profile).Valid() {
				return Policy{}, fmt.Errorf("access policy rule %d: unknown profile %d", i, profile)
			}
		}
	}
	if p.DefaultPage == "" {
		p.DefaultPage = DefaultPage
	}
	p.normalize()
	return p, nil
}

func (p *Policy) normalize() {
	sort.SliceStable(p.Rules, func(i, j int) bool {
		return len(p.Rules[i].Prefix) > len(p.Rules[j].Prefix)
	})
}

// Decision answers whether a profile may navigate to a path, and where to go
// instead when not.
type Decision struct {
	Path     string `json:"path"`
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

func (p Policy) TierFor(path string) (Tier, bool) {
	for _, r := range p.Rules {
		if matchPrefix(path, r.Prefix) {
			return r.tier(), true
		}
	}
	return nil, false
}

func (p Policy) Decide(profile session.Profile, path string) Decision {
	d := Decision{Path: path, Allowed: true}
	if !profile.Valid() {
		d.Allowed = false
		d.Redirect = LoginPath
		return d
	}
	if tier, ok := p.TierFor(path); ok && !tier.Allows(profile) {
		d.Allowed = false
		d.Redirect = p.DefaultPage
	}
	return d
}

func matchPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, strings.TrimRight(prefix, "/")+"/")
}
