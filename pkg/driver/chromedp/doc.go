// Package chromedp implements engine.Driver on top of the Chrome DevTools
// Protocol using github.com/chromedp/chromedp.
//
// Locators are resolved in page JavaScript against the current document, or
// against the element of the locator's scope, so XPath, CSS and id lookups
// all honour frames and scopes the same way. Frames are entered with
// SwitchFrame and re-resolved on every Find.
//
// A Driver either launches a local browser or attaches to a DevTools
// endpoint, which may be the local end of an SSH tunnel:
//
//	tunnel, _ := ssh.NewTunnel(cfg, logger)
//	_ = tunnel.Open(ctx)
//	drv, err := chromedp.New(ctx, chromedp.Options{RemoteURL: tunnel.Endpoint()})
package chromedp
