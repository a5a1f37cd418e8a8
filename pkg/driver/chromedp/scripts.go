package chromedp

import (
	"encoding/json"
	"strings"
)

// Functions below are invoked with runtime.CallFunctionOn, so "this" is the
// remote object the call targets.
const (
	// resolveFn runs against a Document or Element and returns the first
	// match for the strategy, or null.
	resolveFn = `function(strategy, query) {
	const doc = this.nodeType === 9 ? this : this.ownerDocument;
	switch (strategy) {
	case "css":
		return this.querySelector(query);
	case "id":
		if (this.nodeType === 9) return this.getElementById(query);
		return this.querySelector("#" + CSS.escape(query));
	default:
		return doc.evaluate(query, this, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	}
}`

	contentDocumentFn = `function() {
	return this.contentDocument || null;
}`

	frameByIndexFn = `function(index) {
	const frame = this.querySelectorAll("iframe, frame")[index];
	return frame ? (frame.contentDocument || null) : null;
}`

	visibleFn = `function() {
	if (!this.isConnected) return false;
	const view = this.ownerDocument.defaultView;
	const style = view.getComputedStyle(this);
	if (style.display === "none" || style.visibility === "hidden" || style.visibility === "collapse") return false;
	if (parseFloat(style.opacity) === 0) return false;
	const rect = this.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
}`

	enabledFn = `function() {
	if (this.disabled) return false;
	if (this.getAttribute("aria-disabled") === "true") return false;
	const fieldset = this.closest("fieldset[disabled]");
	return !fieldset;
}`

	clickFallbackFn = `function() {
	this.click();
}`

	clearFn = `function() {
	this.focus();
	if ("value" in this) {
		this.value = "";
	} else if (this.isContentEditable) {
		this.textContent = "";
	}
	this.dispatchEvent(new Event("input", { bubbles: true }));
	this.dispatchEvent(new Event("change", { bubbles: true }));
}`

	valueFn = `function() {
	if ("value" in this) return String(this.value);
	return this.textContent || "";
}`

	// submitFn returns false when the element has no owning form.
	submitFn = `function() {
	const form = this.form || this.closest("form");
	if (!form) return false;
	if (typeof form.requestSubmit === "function") {
		form.requestSubmit();
	} else {
		form.submit();
	}
	return true;
}`
)

// DefaultBusyScript is true while the model-driven app's work-block tracker
// reports outstanding work. Pages without the tracker are never busy.
const DefaultBusyScript = `(function() {
	const t = window.UCWorkBlockTracker;
	return !!(t && typeof t.isAppIdle === "function" && !t.isAppIdle());
})()`

// bind wraps fn in a zero-argument function that calls it with args as
// string literals. Arguments are JSON encoded, which is valid JavaScript.
func bind(fn string, args ...interface{}) string {
	lits := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			b = []byte("null")
		}
		lits = append(lits, string(b))
	}

	var sb strings.Builder
	sb.WriteString("function() { return (")
	sb.WriteString(fn)
	sb.WriteString(").call(this")
	for _, l := range lits {
		sb.WriteString(", ")
		sb.WriteString(l)
	}
	sb.WriteString("); }")
	return sb.String()
}
