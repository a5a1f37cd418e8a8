// Package engine provides the UI synchronization primitives pageflow is built on.
//
// # Overview
//
// Single-page applications render asynchronously and give an automation
// actor no reliable "done" signal. The engine replaces that signal with
// bounded polling against a Driver:
//
//  1. Poll - re-resolve a Locator every tick until a Condition holds (Poller)
//  2. Act - click, type or submit through the freshly resolved Element
//  3. Verify - repeat the whole action until its effect is observable (RepeatUntil)
//  4. Settle - wait for the application's busy indicator to clear (Barrier)
//
// Interactor composes the four steps into the operations page objects use.
//
// # Locators and Conditions
//
// A Locator is an immutable query (XPath, CSS or id, optionally scoped to
// another Locator). It is resolved on every tick; element handles are never
// cached across ticks, so a re-rendered element is picked up transparently.
//
//   - Exists: the locator resolves
//   - Visible: the element is displayed
//   - Clickable: the element is displayed and enabled
//
// # Wait Policies
//
// Every wait has a timeout and a Policy. Soft waits report absence as a
// normal (nil, nil) result and are used for optional elements. Hard waits
// fail with an element_not_found error carrying the locator:
//
//	el, err := poller.Clickable(ctx, engine.XPath("sign in", "//input[@type='submit']"), 30*time.Second)
//	if engine.IsElementNotFound(err) {
//	    // the page never rendered the button
//	}
//
// A wait never blocks longer than its timeout plus one poll interval.
//
// # Error Classification
//
//   - Transient: driver hiccups that may clear on the next tick
//   - Configuration: caller mistakes, never retried
//   - ElementNotFound: a hard wait timed out
//   - VerificationTimeout: a retried action never took effect
//   - AuthenticationFailure: the login protocol reached a negative outcome
//
// # Concurrency
//
// The engine is a single-actor, synchronous design. A Poller and an
// Interactor hold no per-call state and may be reused sequentially, but a
// Driver is never driven from more than one goroutine at a time.
package engine
