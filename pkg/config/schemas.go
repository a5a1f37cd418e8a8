package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// profileSchema constrains the "profile" field. Definitions are closed, so
// unknown keys are rejected.
const profileSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"

#Locator: {
	name?:     string
	strategy?: "xpath" | "css" | "id"
	query:     string & !=""
	scope?:    #Locator
}

#Selectors: {
	use_another_account?:    #Locator
	username?:               #Locator
	work_or_school_account?: #Locator
	password?:               #Locator
	one_time_code?:          #Locator
	stay_signed_in?:         #Locator
	main_page?:              #Locator
	account_manager?:        #Locator
	sign_out?:               #Locator
}

#Tunnel: {
	host:              string & !=""
	port?:             int & >0 & <=65535
	user:              string & !=""
	private_key_path?: string
	known_hosts_path?: string
	remote_port:       int & >0 & <=65535
}

#Profile: {
	name:   string & =~"^[a-zA-Z0-9_.-]+$"
	target: string & =~"^https?://"

	interactive_domains?: [...string]
	otc_attempts?:        int & >=1 & <=10
	poll_interval?:       #Duration

	timeouts?: {
		wait?:            #Duration
		probe?:           #Duration
		verify?:          #Duration
		verify_attempts?: int & >=1
		barrier?:         #Duration
		username?:        #Duration
		main_page?:       #Duration
	}

	selectors?:      #Selectors
	busy_indicator?: #Locator

	browser?: {
		remote_url?:  string
		headless?:    bool
		exec_path?:   string
		busy_script?: string
		tunnel?:      #Tunnel
	}

	store?: path?: string

	policy?: {
		paths?: [...string]
		watch?: bool
	}

	redirect?: script?: string

	telemetry?: {
		log_level?:         "trace" | "debug" | "info" | "warn" | "error"
		log_format?:        "console" | "json"
		metrics_listen?:    string
		trace_exporter?:    "otlp" | "stdout" | "none"
		trace_endpoint?:    string
		trace_sample_rate?: number & >=0 & <=1
	}
}
`

// compileSchema compiles the profile schema in ctx and returns #Profile.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(profileSchema, cue.Filename("profile_schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile profile schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Profile"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to look up #Profile: %w", err)
	}
	return def, nil
}
