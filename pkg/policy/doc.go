// Package policy decides with Open Policy Agent whether a host requires
// interactive login.
//
// Policies are Rego modules in package pageflow.auth that define a boolean
// rule "interactive" and, optionally, a set of strings "reasons". The input
// document is HostInput; the configured interactive domains are available
// as data.pageflow.config.interactive_domains:
//
//	package pageflow.auth
//
//	import rego.v1
//
//	default interactive := true
//
//	interactive := false if endswith(input.host, ".internal.example")
//
// With no policies loaded the built-in domain-allow-list policy applies; it
// matches auth.DomainAllowList exactly. Engine satisfies auth.HostPolicy, and
// Engine.Watch reloads policies from disk when they change.
package policy
