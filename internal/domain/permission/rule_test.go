package permission

import (
	"encoding/json"
	"testing"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulePermits(t *testing.T) {
	all := &Rule{Origin: "https://a.test", Scope: AllHosts(), From: FromUser}
	assert.True(t, all.Permits("anything.example"))

	specific := &Rule{Origin: "https://a.test", Scope: SpecificHosts("API.example.com"), From: FromWebsite}
	assert.True(t, specific.Permits("api.example.com"))
	assert.True(t, specific.Permits("API.EXAMPLE.COM"))
	assert.False(t, specific.Permits("other.example.com"))

	var none *Rule
	assert.False(t, none.Permits("api.example.com"))
}

func TestMergeHosts(t *testing.T) {
	r := &Rule{Scope: SpecificHosts("a.test"), From: FromWebsite}
	assert.True(t, r.MergeHosts([]string{"b.test", "a.test"}))
	assert.Equal(t, []string{"a.test", "b.test"}, r.Scope.Hosts)
	assert.False(t, r.MergeHosts([]string{"b.test"}))

	all := &Rule{Scope: AllHosts(), From: FromUser}
	assert.False(t, all.MergeHosts([]string{"c.test"}))
	assert.Equal(t, ScopeAll, all.Scope.Kind)
	assert.Empty(t, all.Scope.Hosts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		ok   bool
	}{
		{"user all", Rule{Origin: "https://a.test", Scope: AllHosts(), From: FromUser}, true},
		{"user specific", Rule{Origin: "https://a.test", Scope: SpecificHosts("x.test"), From: FromUser}, true},
		{"website specific", Rule{Origin: "https://a.test", Scope: SpecificHosts("x.test"), From: FromWebsite}, true},
		{"website all", Rule{Origin: "https://a.test", Scope: AllHosts(), From: FromWebsite}, false},
		{"no origin", Rule{Scope: AllHosts(), From: FromUser}, false},
		{"bad provenance", Rule{Origin: "https://a.test", Scope: AllHosts(), From: "robot"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, types.ErrInvalidRequest)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	var none *Rule
	assert.Equal(t, types.AllowedInfo{Enabled: false, Type: "specific", Hosts: []string{}}, none.Info())

	r := &Rule{Scope: SpecificHosts("x.test"), From: FromWebsite}
	assert.Equal(t, types.AllowedInfo{Enabled: true, Type: "specific", Hosts: []string{"x.test"}}, r.Info())

	all := &Rule{Scope: AllHosts(), From: FromUser}
	assert.Equal(t, types.AllowedInfo{Enabled: true, Type: "all", Hosts: []string{}}, all.Info())
}

func TestRuleJSON(t *testing.T) {
	r := Rule{ID: 3, Origin: "https://a.test", Scope: SpecificHosts("x.test"), From: FromWebsite}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"specific"`)
	assert.Contains(t, string(data), `"hosts":["x.test"]`)
	assert.Contains(t, string(data), `"from":"website"`)

	var back Rule
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.ID, back.ID)
	assert.Equal(t, r.Scope, back.Scope)
}

func TestNormalizeOrigin(t *testing.T) {
	got, err := NormalizeOrigin("HTTPS://App.Example:8443/some/path?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example:8443", got)

	_, err = NormalizeOrigin("not an origin")
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	assert.Equal(t, "app.example", OriginHostname("https://app.example:8443"))
}

func TestTargetHost(t *testing.T) {
	h, err := TargetHost("https://API.example.com:444/x")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", h)

	_, err = TargetHost("/relative")
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}
