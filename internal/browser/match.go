package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Vayra-9/uiprobe/internal/models"
)

// MatchURL reports whether url matches pattern. Patterns prefixed with "re:"
// are regular expressions; anything else is a glob where "**" matches any
// characters and "*" matches anything but "/".
func MatchURL(pattern, url string) (bool, error) {
	if expr, ok := strings.CutPrefix(pattern, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return false, fmt.Errorf("invalid url pattern %q: %w", pattern, err)
		}
		return re.MatchString(url), nil
	}
	re, err := regexp.Compile(globToRegexp(pattern))
	if err != nil {
		return false, fmt.Errorf("invalid url pattern %q: %w", pattern, err)
	}
	return re.MatchString(url), nil
}

func globToRegexp(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch {
		case strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i++
		case glob[i] == '*':
			b.WriteString("[^/]*")
		default:
			b.WriteString(regexp.QuoteMeta(glob[i : i+1]))
		}
	}
	b.WriteString("$")
	return b.String()
}

// selectorKind classifies a selector string
type selectorKind int

const (
	selectorCSS selectorKind = iota
	selectorXPath
	selectorText
)

// parseSelector splits an engine-neutral selector into its kind and body.
// Supported forms are plain CSS, "css=", "xpath=", "//..." and "text=".
func parseSelector(selector string) (selectorKind, string) {
	switch {
	case strings.HasPrefix(selector, "css="):
		return selectorCSS, strings.TrimPrefix(selector, "css=")
	case strings.HasPrefix(selector, "xpath="):
		return selectorXPath, strings.TrimPrefix(selector, "xpath=")
	case strings.HasPrefix(selector, "//"), strings.HasPrefix(selector, "(//"):
		return selectorXPath, selector
	case strings.HasPrefix(selector, "text="):
		return selectorText, strings.Trim(strings.TrimPrefix(selector, "text="), `"'`)
	default:
		return selectorCSS, selector
	}
}

// textXPath returns an XPath matching the innermost elements containing text
func textXPath(text string) string {
	lit := xpathLiteral(text)
	return fmt.Sprintf(`//*[contains(normalize-space(.), %s)][not(*[contains(normalize-space(.), %s)])]`, lit, lit)
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(quoted, `, '"', `) + ")"
}

// QueryAllJS returns a JS expression evaluating to an array of the elements
// matching selector, in any of the forms parseSelector accepts
func QueryAllJS(selector string) string {
	kind, body := parseSelector(selector)
	if kind == selectorCSS {
		return fmt.Sprintf("Array.from(document.querySelectorAll(%s))", jsString(body))
	}
	if kind == selectorText {
		body = textXPath(body)
	}
	return fmt.Sprintf(`(() => {
  const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
  const out = [];
  for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
  return out;
})()`, jsString(body))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// timeoutError marks err as a timeout so callers can classify it
func timeoutError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, models.ErrTimeout, err)
}

// contextError maps a finished context to the engine-neutral error
func contextError(op string, ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
