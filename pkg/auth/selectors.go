package auth

import (
	"time"

	"github.com/pageflow/pageflow/pkg/engine"
)

// Selectors locate the elements of the login pages and the application shell.
type Selectors struct {
	UseAnotherAccount   engine.Locator `json:"use_another_account"`
	Username            engine.Locator `json:"username"`
	WorkOrSchoolAccount engine.Locator `json:"work_or_school_account"`
	Password            engine.Locator `json:"password"`
	OneTimeCode         engine.Locator `json:"one_time_code"`
	StaySignedIn        engine.Locator `json:"stay_signed_in"`
	MainPage            engine.Locator `json:"main_page"`
	AccountManager      engine.Locator `json:"account_manager"`
	SignOut             engine.Locator `json:"sign_out"`
}

// DefaultSelectors returns locators for an Azure AD style sign-in page.
func DefaultSelectors() Selectors {
	return Selectors{
		UseAnotherAccount:   engine.XPath("use another account tile", "//div[@id='otherTile']"),
		Username:            engine.XPath("username input", "//input[@type='email']"),
		WorkOrSchoolAccount: engine.XPath("work or school account tile", "//div[@id='aadTile']"),
		Password:            engine.XPath("password input", "//input[@type='password']"),
		OneTimeCode:         engine.XPath("one-time code input", "//input[@name='otc']"),
		StaySignedIn:        engine.XPath("stay signed in button", "//input[@id='idSIButton9']"),
		MainPage:            engine.XPath("main page", "//*[@data-id='topBar']"),
		AccountManager:      engine.XPath("account manager", "//button[@id='mectrl_main_trigger']"),
		SignOut:             engine.XPath("sign out button", "//button[@id='mectrl_body_signOut']"),
	}
}

// merge fills empty locators from d.
func (s Selectors) merge(d Selectors) Selectors {
	pick := func(v, def engine.Locator) engine.Locator {
		if v.IsZero() {
			return def
		}
		return v
	}
	return Selectors{
		UseAnotherAccount:   pick(s.UseAnotherAccount, d.UseAnotherAccount),
		Username:            pick(s.Username, d.Username),
		WorkOrSchoolAccount: pick(s.WorkOrSchoolAccount, d.WorkOrSchoolAccount),
		Password:            pick(s.Password, d.Password),
		OneTimeCode:         pick(s.OneTimeCode, d.OneTimeCode),
		StaySignedIn:        pick(s.StaySignedIn, d.StaySignedIn),
		MainPage:            pick(s.MainPage, d.MainPage),
		AccountManager:      pick(s.AccountManager, d.AccountManager),
		SignOut:             pick(s.SignOut, d.SignOut),
	}
}

// Config tunes a Flow.
type Config struct {
	Selectors Selectors

	// OneTimeCodeAttempts is the number of code submissions before giving up.
	OneTimeCodeAttempts int

	// UsernameTimeout bounds the wait for the username input.
	UsernameTimeout time.Duration

	// ProbeTimeout bounds the short checks for optional prompts.
	ProbeTimeout time.Duration

	// MainPageTimeout bounds PassThrough's wait for the application shell.
	MainPageTimeout time.Duration
}

// Defaults for Config.
const (
	DefaultOneTimeCodeAttempts = 3
	DefaultUsernameTimeout     = 30 * time.Second
	DefaultMainPageTimeout     = 60 * time.Second
)

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Selectors:           DefaultSelectors(),
		OneTimeCodeAttempts: DefaultOneTimeCodeAttempts,
		UsernameTimeout:     DefaultUsernameTimeout,
		ProbeTimeout:        engine.DefaultProbeTimeout,
		MainPageTimeout:     DefaultMainPageTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	c.Selectors = c.Selectors.merge(d.Selectors)
	if c.OneTimeCodeAttempts <= 0 {
		c.OneTimeCodeAttempts = d.OneTimeCodeAttempts
	}
	if c.UsernameTimeout <= 0 {
		c.UsernameTimeout = d.UsernameTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.MainPageTimeout <= 0 {
		c.MainPageTimeout = d.MainPageTimeout
	}
	return c
}
