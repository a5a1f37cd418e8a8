// Package redirect implements scripted SSO redirects. A Starlark script
// takes over from the password step when an identity provider other than the
// default one must be driven, for example an ADFS form:
//
//	user = id("userNameInput", name="adfs username")
//	type_username(user)
//	type_password(id("passwordInput"))
//	submit(id("passwordInput"))
//	if not wait_visible(css("#mainContent"), timeout=30):
//	    fail("ADFS did not return to the application")
//
// Builtins act through the same engine.Interactor as the login flow, so every
// step polls, verifies and waits at the transaction barrier. Credential fields
// are only ever typed by type_username, type_password and type_otp and are
// never visible to the script.
package redirect
