// Package config loads login profiles written in CUE.
//
// A profile file declares a top-level "profile" field:
//
//	profile: {
//		name:   "crm-prod"
//		target: "https://org.crm.dynamics.com/main.aspx"
//		interactive_domains: ["dynamics.com"]
//		otc_attempts: 3
//		timeouts: {
//			wait:    "30s"
//			barrier: "1m"
//		}
//		selectors: username: {strategy: "css", query: "#i0116"}
//		browser: headless: true
//		store: path: "pageflow.db"
//	}
//
// Several sources may be given; they are unified, so an override file can
// narrow a shared base profile. The unified value is checked against the
// built-in #Profile schema, decoded, and validated with struct tags. Every
// problem found is reported with its file position where CUE provides one.
//
// Credentials never appear in profiles; see package secrets.
package config
