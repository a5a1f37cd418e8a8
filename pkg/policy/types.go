package policy

import "time"

// Policy is a Rego module contributing to package pageflow.auth.
type Policy struct {
	// Name is the unique name of the policy, the file name without extension
	// for policies loaded from disk.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Rego contains the module source.
	Rego string `json:"rego"`

	Enabled bool `json:"enabled"`

	// Source is the file the policy was read from, empty for built-ins.
	Source string `json:"source,omitempty"`

	LoadedAt time.Time `json:"loaded_at"`
}

// HostInput is the input document for a host decision.
type HostInput struct {
	Host    string `json:"host"`
	Scheme  string `json:"scheme,omitempty"`
	Path    string `json:"path,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// Decision is the evaluated outcome for one host.
type Decision struct {
	Host        string    `json:"host"`
	Interactive bool      `json:"interactive"`
	Reasons     []string  `json:"reasons,omitempty"`
	Policies    []string  `json:"policies"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
