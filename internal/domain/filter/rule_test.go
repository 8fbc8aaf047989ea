package filter

import (
	"net/url"
	"testing"

	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestProjectSpecific(t *testing.T) {
	r := Project(&permission.Rule{
		ID:     7,
		Origin: "https://app.example:8443",
		Scope:  permission.SpecificHosts("api.example.com"),
		From:   permission.FromWebsite,
	})

	assert.Equal(t, 7, r.ID)
	assert.Equal(t, 1, r.Priority)
	assert.Equal(t, []string{"app.example"}, r.Condition.InitiatorDomains)
	assert.Equal(t, ThirdParty, r.Condition.DomainType)
	assert.Equal(t, []ResourceType{ResourceXHR, ResourceImage}, r.Condition.ResourceTypes)
	assert.Equal(t, []string{"api.example.com"}, r.Condition.RequestDomains)
	assert.Empty(t, r.Condition.URLFilter)
	assert.Equal(t, ActionModifyHeaders, r.Action.Type)
	assert.Contains(t, r.Action.ResponseHeaders,
		HeaderOp{Header: "Access-Control-Allow-Origin", Operation: OpSet, Value: "https://app.example:8443"})
	assert.Contains(t, r.Action.RequestHeaders, HeaderOp{Header: "Referer", Operation: OpRemove})
}

func TestProjectAll(t *testing.T) {
	r := Project(&permission.Rule{ID: 1, Origin: "https://app.example", Scope: permission.AllHosts(), From: permission.FromUser})
	assert.Equal(t, "*", r.Condition.URLFilter)
	assert.Empty(t, r.Condition.RequestDomains)
}

func TestMatches(t *testing.T) {
	specific := Project(&permission.Rule{ID: 1, Origin: "https://app.example", Scope: permission.SpecificHosts("example.com"), From: permission.FromWebsite})
	all := Project(&permission.Rule{ID: 2, Origin: "https://app.example", Scope: permission.AllHosts(), From: permission.FromUser})

	tests := []struct {
		name      string
		rule      Rule
		initiator string
		target    string
		rt        ResourceType
		want      bool
	}{
		{"exact host", specific, "app.example", "https://example.com/x", ResourceXHR, true},
		{"subdomain", specific, "app.example", "https://api.example.com/x", ResourceImage, true},
		{"other host", specific, "app.example", "https://evil.test/x", ResourceXHR, false},
		{"suffix trick", specific, "app.example", "https://notexample.com/x", ResourceXHR, false},
		{"other initiator", specific, "other.example", "https://example.com/x", ResourceXHR, false},
		{"first party", all, "app.example", "https://app.example/x", ResourceXHR, false},
		{"all hosts", all, "app.example", "https://anything.test/x", ResourceXHR, true},
		{"resource type", all, "app.example", "https://anything.test/x", "script", false},
		{"no initiator", all, "", "https://anything.test/x", ResourceXHR, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(tt.initiator, mustURL(t, tt.target), tt.rt))
		})
	}
}
