package redirect

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/pageflow/pageflow/pkg/engine"
)

// locatorValue wraps an engine.Locator for scripts. Its attributes are
// read-only.
type locatorValue struct {
	loc engine.Locator
}

var _ starlark.HasAttrs = (*locatorValue)(nil)

func (l *locatorValue) String() string        { return l.loc.String() }
func (l *locatorValue) Type() string          { return "locator" }
func (l *locatorValue) Freeze()               {}
func (l *locatorValue) Truth() starlark.Bool  { return starlark.True }
func (l *locatorValue) Hash() (uint32, error) { return starlark.String(l.loc.String()).Hash() }

func (l *locatorValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "query":
		return starlark.String(l.loc.Query), nil
	case "strategy":
		return starlark.String(l.loc.StrategyOrDefault()), nil
	case "name":
		return starlark.String(l.loc.Name), nil
	}
	return nil, nil
}

func (l *locatorValue) AttrNames() []string {
	return []string{"name", "query", "strategy"}
}

// toLocator accepts a locator value or a bare string, which is read as XPath.
func toLocator(fn string, v starlark.Value) (engine.Locator, error) {
	switch x := v.(type) {
	case *locatorValue:
		return x.loc, nil
	case starlark.String:
		if x == "" {
			return engine.Locator{}, fmt.Errorf("%s: empty locator", fn)
		}
		return engine.XPath("", string(x)), nil
	default:
		return engine.Locator{}, fmt.Errorf("%s: want locator or string, got %s", fn, v.Type())
	}
}
