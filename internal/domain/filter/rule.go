// Package filter keeps the host-level traffic filter in step with the
// permission store.
//
// Every permission rule is projected onto one filter rule with the same id.
// The filter rules are derived state: the permission store is the source of
// truth and a full Resync rebuilds them from scratch.
package filter

import (
	"net/url"
	"slices"
	"strings"

	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
)

type ResourceType string

const (
	ResourceXHR   ResourceType = "xmlhttprequest"
	ResourceImage ResourceType = "image"
)

type DomainType string

const (
	FirstParty DomainType = "firstParty"
	ThirdParty DomainType = "thirdParty"
)

const (
	OpSet    = "set"
	OpRemove = "remove"

	ActionModifyHeaders = "modifyHeaders"

	// AllowedMethods is the method list advertised to permitted origins.
	AllowedMethods = "PUT, GET, HEAD, POST, DELETE, OPTIONS, PATCH"
)

// HeaderOp sets or removes one header.
type HeaderOp struct {
	Header    string `json:"header"`
	Operation string `json:"operation"`
	Value     string `json:"value,omitempty"`
}

type Action struct {
	Type            string     `json:"type"`
	RequestHeaders  []HeaderOp `json:"requestHeaders,omitempty"`
	ResponseHeaders []HeaderOp `json:"responseHeaders,omitempty"`
}

type Condition struct {
	InitiatorDomains []string       `json:"initiatorDomains"`
	DomainType       DomainType     `json:"domainType"`
	ResourceTypes    []ResourceType `json:"resourceTypes"`
	RequestDomains   []string       `json:"requestDomains,omitempty"`
	URLFilter        string         `json:"urlFilter,omitempty"`
}

// Rule is one filter rule.
type Rule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	Action    Action    `json:"action"`
	Condition Condition `json:"condition"`
}

// Project derives the filter rule for a permission rule.
func Project(r *permission.Rule) Rule {
	cond := Condition{
		InitiatorDomains: []string{permission.OriginHostname(r.Origin)},
		DomainType:       ThirdParty,
		ResourceTypes:    []ResourceType{ResourceXHR, ResourceImage},
	}
	if r.Scope.Kind == permission.ScopeAll {
		cond.URLFilter = "*"
	} else {
		cond.RequestDomains = slices.Clone(r.Scope.Hosts)
	}

	return Rule{
		ID:       r.ID,
		Priority: 1,
		Action: Action{
			Type: ActionModifyHeaders,
			ResponseHeaders: []HeaderOp{
				{Header: "Access-Control-Allow-Origin", Operation: OpSet, Value: r.Origin},
				{Header: "Access-Control-Allow-Methods", Operation: OpSet, Value: AllowedMethods},
				{Header: "Access-Control-Allow-Headers", Operation: OpSet, Value: "*"},
				{Header: "Access-Control-Allow-Credentials", Operation: OpSet, Value: "true"},
				{Header: "Vary", Operation: OpSet, Value: "Origin"},
			},
			RequestHeaders: []HeaderOp{
				{Header: "Origin", Operation: OpRemove},
				{Header: "Referer", Operation: OpRemove},
				{Header: "Host", Operation: OpRemove},
				{Header: "Content-Length", Operation: OpRemove},
			},
		},
		Condition: cond,
	}
}

// Matches reports whether the rule applies to a request of kind rt sent by
// initiatorHost to target.
func (r *Rule) Matches(initiatorHost string, target *url.URL, rt ResourceType) bool {
	if target == nil || initiatorHost == "" {
		return false
	}
	host := strings.ToLower(target.Hostname())
	c := r.Condition

	if len(c.InitiatorDomains) > 0 && !anyDomainMatches(initiatorHost, c.InitiatorDomains) {
		return false
	}
	if len(c.ResourceTypes) > 0 && !slices.Contains(c.ResourceTypes, rt) {
		return false
	}
	thirdParty := host != initiatorHost
	switch c.DomainType {
	case ThirdParty:
		if !thirdParty {
			return false
		}
	case FirstParty:
		if thirdParty {
			return false
		}
	}
	if len(c.RequestDomains) > 0 {
		return anyDomainMatches(host, c.RequestDomains)
	}
	return c.URLFilter != ""
}

// anyDomainMatches reports whether host equals or is a subdomain of one of
// domains.
func anyDomainMatches(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
