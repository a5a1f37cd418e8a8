package policy

import "time"

// Package and rule every host policy must define.
const (
	PackagePath = "data.pageflow.auth"
	RuleName    = "interactive"
)

// domainAllowListRego requires interactive login for hosts equal to, or
// subdomains of, data.pageflow.config.interactive_domains. An empty list
// requires it everywhere.
const domainAllowListRego = `package pageflow.auth

import rego.v1

default interactive := true

domains := data.pageflow.config.interactive_domains

host := trim_suffix(lower(input.host), ".")

normalized contains d if {
	some raw in domains
	d := trim_prefix(lower(trim_space(raw)), ".")
	d != ""
}

matched contains d if {
	some d in normalized
	host == d
}

matched contains d if {
	some d in normalized
	endswith(host, concat("", [".", d]))
}

interactive := false if {
	count(domains) > 0
	count(matched) == 0
}

reasons contains "no interactive domains configured" if {
	count(domains) == 0
}

reasons contains msg if {
	some d in matched
	msg := sprintf("host matches interactive domain %s", [d])
}

reasons contains "host is outside the interactive domains" if {
	count(domains) > 0
	count(matched) == 0
}
`

// BuiltinPolicies returns the policies used when none are loaded from disk.
func BuiltinPolicies() []Policy {
	return []Policy{{
		Name:        "domain-allow-list",
		Description: "Interactive login for hosts within the configured interactive domains",
		Rego:        domainAllowListRego,
		Enabled:     true,
		LoadedAt:    time.Now(),
	}}
}
