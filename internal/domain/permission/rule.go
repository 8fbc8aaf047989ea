// Package permission stores which target hosts each caller origin may reach.
//
// A rule either covers every host (scope all) or a fixed host set (scope
// specific). Rules granted through a consent prompt are marked as coming
// from the website and are always specific; rules the user creates directly
// may cover all hosts. Each rule carries a numeric id shared with its
// filter rule.
package permission

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
)

// ScopeKind distinguishes all-host rules from host-list rules.
type ScopeKind string

const (
	ScopeAll      ScopeKind = types.ScopeAll
	ScopeSpecific ScopeKind = types.ScopeSpecific
)

// Scope is the set of hosts a rule covers.
type Scope struct {
	Kind  ScopeKind
	Hosts []string
}

// AllHosts covers every host.
func AllHosts() Scope {
	return Scope{Kind: ScopeAll}
}

// SpecificHosts covers exactly hosts, deduplicated in first-seen order.
func SpecificHosts(hosts ...string) Scope {
	return Scope{Kind: ScopeSpecific, Hosts: uniqueHosts(nil, hosts)}
}

// Provenance records who created a rule.
type Provenance string

const (
	FromUser    Provenance = "user"
	FromWebsite Provenance = "website"
)

// Rule grants an origin access to a scope of hosts.
type Rule struct {
	ID        int
	Origin    string
	Scope     Scope
	From      Provenance
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Permits reports whether the rule allows requests to host.
func (r *Rule) Permits(host string) bool {
	if r == nil {
		return false
	}
	if r.Scope.Kind == ScopeAll {
		return true
	}
	return slices.Contains(r.Scope.Hosts, strings.ToLower(host))
}

// MergeHosts adds hosts to a specific rule and reports whether it changed.
// All-host rules already cover everything and are left alone.
func (r *Rule) MergeHosts(hosts []string) bool {
	if r.Scope.Kind == ScopeAll {
		return false
	}
	merged := uniqueHosts(r.Scope.Hosts, hosts)
	if len(merged) == len(r.Scope.Hosts) {
		return false
	}
	r.Scope.Hosts = merged
	return true
}

// Validate checks the rule invariants.
func (r *Rule) Validate() error {
	if r.Origin == "" {
		return fmt.Errorf("%w: rule without origin", types.ErrInvalidRequest)
	}
	switch r.From {
	case FromUser, FromWebsite:
	default:
		return fmt.Errorf("%w: unknown provenance %q", types.ErrInvalidRequest, r.From)
	}
	switch r.Scope.Kind {
	case ScopeAll:
		if r.From == FromWebsite {
			return fmt.Errorf("%w: website rules must list hosts", types.ErrInvalidRequest)
		}
	case ScopeSpecific:
	default:
		return fmt.Errorf("%w: unknown scope %q", types.ErrInvalidRequest, r.Scope.Kind)
	}
	return nil
}

// Info summarizes the rule for getAllowedInfo. A nil rule is disabled.
func (r *Rule) Info() types.AllowedInfo {
	if r == nil {
		return types.AllowedInfo{Enabled: false, Type: types.ScopeSpecific, Hosts: []string{}}
	}
	hosts := r.Scope.Hosts
	if hosts == nil {
		hosts = []string{}
	}
	return types.AllowedInfo{Enabled: true, Type: string(r.Scope.Kind), Hosts: hosts}
}

type ruleJSON struct {
	ID        int        `json:"id"`
	Origin    string     `json:"origin"`
	Type      ScopeKind  `json:"type"`
	Hosts     []string   `json:"hosts"`
	From      Provenance `json:"from"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	hosts := r.Scope.Hosts
	if hosts == nil {
		hosts = []string{}
	}
	return json.Marshal(ruleJSON{
		ID:        r.ID,
		Origin:    r.Origin,
		Type:      r.Scope.Kind,
		Hosts:     hosts,
		From:      r.From,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Rule{
		ID:        raw.ID,
		Origin:    raw.Origin,
		Scope:     Scope{Kind: raw.Type, Hosts: raw.Hosts},
		From:      raw.From,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
	}
	return nil
}

// NormalizeOrigin reduces rawOrigin to scheme://host[:port] in lowercase.
func NormalizeOrigin(rawOrigin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawOrigin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: invalid origin %q", types.ErrInvalidRequest, rawOrigin)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// OriginHostname returns the hostname part of an origin.
func OriginHostname(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// TargetHost returns the lowercase hostname of a request URL.
func TargetHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: invalid target url %q", types.ErrInvalidRequest, rawURL)
	}
	return strings.ToLower(u.Hostname()), nil
}

func uniqueHosts(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, h := range list {
			h = strings.ToLower(strings.TrimSpace(h))
			if h == "" {
				continue
			}
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}
