package assertions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/Vayra-9/uiprobe/internal/browser"
	"github.com/Vayra-9/uiprobe/internal/models"
)

type checkFunc func(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult)

var registry map[models.AssertionKind]checkFunc

func init() {
	registry = map[models.AssertionKind]checkFunc{
		models.AssertTitleEquals:    checkTitleEquals,
		models.AssertTitleContains:  checkTitleContains,
		models.AssertURLMatches:     checkURLMatches,
		models.AssertVisible:        checkVisible,
		models.AssertHidden:         checkHidden,
		models.AssertTextEquals:     checkTextEquals,
		models.AssertTextContains:   checkTextContains,
		models.AssertNotPresent:     checkNotPresent,
		models.AssertTextAbsent:     checkTextAbsent,
		models.AssertCount:          checkCount,
		models.AssertResponseStatus: checkResponseStatus,
		models.AssertResponseMIME:   checkResponseMIME,
		models.AssertFetchStatus:    checkFetchStatus,
		models.AssertManifestIcons:  checkManifestIcons,
		models.AssertStorageValue:   checkStorageValue,
		models.AssertComputedStyle:  checkComputedStyle,
		models.AssertEvaluate:       checkEvaluate,
		models.AssertDocumentHas:    checkDocumentHas,
		models.AssertImgAlt:         checkImgAlt,
		models.AssertNoConsoleError: checkNoConsoleErrors,
	}
}

func checkTitleEquals(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	title, err := s.Page().Title(ctx)
	if err != nil {
		res.Message = fmt.Sprintf("could not read title: %v", err)
		return
	}
	compareText(res, strings.TrimSpace(title), false)
}

func checkTitleContains(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	title, err := s.Page().Title(ctx)
	if err != nil {
		res.Message = fmt.Sprintf("could not read title: %v", err)
		return
	}
	compareText(res, strings.TrimSpace(title), true)
}

func checkURLMatches(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	res.Actual = s.Page().URL()
	ok, err := browser.MatchURL(res.Expected, res.Actual)
	if err != nil {
		res.Message = err.Error()
		return
	}
	res.Passed = ok
	if !ok {
		res.Message = fmt.Sprintf("url %q does not match %q", res.Actual, res.Expected)
	}
}

func checkVisible(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	sel := e.resolver.Expand(a.Selector)
	if err := s.Page().WaitFor(ctx, sel, models.ElementVisible, e.opts.Timeout); err != nil {
		res.Message = fmt.Sprintf("%s not visible: %v", sel, err)
		return
	}
	res.Passed = true
}

func checkHidden(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	sel := e.resolver.Expand(a.Selector)
	if err := s.Page().WaitFor(ctx, sel, models.ElementHidden, e.opts.Timeout); err != nil {
		res.Message = fmt.Sprintf("%s still visible: %v", sel, err)
		return
	}
	res.Passed = true
}

func checkTextEquals(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	sel := e.resolver.Expand(a.Selector)
	text, err := s.Page().TextContent(ctx, sel, e.opts.Timeout)
	if err != nil {
		res.Message = fmt.Sprintf("could not read text of %s: %v", sel, err)
		return
	}
	compareText(res, strings.TrimSpace(text), false)
}

func checkTextContains(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	sel := e.resolver.Expand(a.Selector)
	text, err := s.Page().TextContent(ctx, sel, e.opts.Timeout)
	if err != nil {
		res.Message = fmt.Sprintf("could not read text of %s: %v", sel, err)
		return
	}
	compareText(res, strings.TrimSpace(text), true)
}

// compareText sets the verdict for a text comparison, with a diff on mismatch
func compareText(res *models.AssertionResult, actual string, contains bool) {
	res.Actual = actual
	if contains {
		res.Passed = strings.Contains(actual, res.Expected)
		if !res.Passed {
			res.Message = fmt.Sprintf("%q does not contain %q", actual, res.Expected)
		}
		return
	}
	res.Passed = actual == res.Expected
	if !res.Passed {
		res.Diff = textDiff(res.Expected, actual)
		res.Message = fmt.Sprintf("expected %q, got %q", res.Expected, actual)
	}
}

func textDiff(expected, actual string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return diff
}

// presence classifies selector into absent, present, present-but-empty or
// unknown. Only a successful query that matched nothing is absent.
func (e *Evaluator) presence(ctx context.Context, page browser.Page, selector string) (models.Presence, int, string, error) {
	n, err := page.Count(ctx, selector)
	if err != nil {
		return models.PresenceQueryFailed, 0, "", err
	}
	if n == 0 {
		return models.PresenceAbsent, 0, "", nil
	}
	text, err := page.TextContent(ctx, selector, e.opts.Timeout)
	if err != nil {
		return models.PresencePresent, n, "", nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.PresenceEmpty, n, "", nil
	}
	return models.PresencePresent, n, text, nil
}

func checkNotPresent(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	sel := e.resolver.Expand(a.Selector)
	presence, n, text, err := e.presence(ctx, s.Page(), sel)
	res.Presence = presence
	res.Actual = text
	switch presence {
	case models.PresenceAbsent:
		res.Passed = true
	case models.PresenceEmpty:
		res.Message = fmt.Sprintf("%s matched %d element(s) with empty text", sel, n)
	case models.PresencePresent:
		res.Message = fmt.Sprintf("%s matched %d element(s)", sel, n)
	default:
		res.Message = fmt.Sprintf("could not determine whether %s is present: %v", sel, err)
	}
}

func checkTextAbsent(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	page := s.Page()
	if a.Selector == "" {
		sel := "text=" + res.Expected
		presence, n, _, err := e.presence(ctx, page, sel)
		res.Presence = presence
		switch presence {
		case models.PresenceAbsent:
			res.Passed = true
		case models.PresenceQueryFailed:
			res.Message = fmt.Sprintf("could not determine whether %q is shown: %v", res.Expected, err)
		default:
			res.Actual = res.Expected
			res.Message = fmt.Sprintf("%q is shown in %d element(s)", res.Expected, n)
		}
		return
	}

	sel := e.resolver.Expand(a.Selector)
	presence, _, text, err := e.presence(ctx, page, sel)
	res.Actual = text
	switch {
	case presence == models.PresenceQueryFailed:
		res.Presence = presence
		res.Message = fmt.Sprintf("could not determine whether %q is shown in %s: %v", res.Expected, sel, err)
	case strings.Contains(text, res.Expected):
		res.Presence = models.PresencePresent
		res.Message = fmt.Sprintf("%s shows %q", sel, res.Expected)
	default:
		res.Presence = models.PresenceAbsent
		res.Passed = true
	}
}

func checkCount(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	sel := e.resolver.Expand(a.Selector)
	n, err := s.Page().Count(ctx, sel)
	if err != nil {
		res.Message = fmt.Sprintf("could not count %s: %v", sel, err)
		return
	}
	res.Actual = strconv.Itoa(n)
	res.Expected = boundsLabel(a.Min, a.Max)
	res.Passed = (a.Min == nil || n >= *a.Min) && (a.Max == nil || n <= *a.Max)
	if !res.Passed {
		res.Message = fmt.Sprintf("%s matched %d element(s), want %s", sel, n, res.Expected)
	}
}

func boundsLabel(lo, hi *int) string {
	switch {
	case lo != nil && hi != nil && *lo == *hi:
		return strconv.Itoa(*lo)
	case lo != nil && hi != nil:
		return fmt.Sprintf("%d..%d", *lo, *hi)
	case lo != nil:
		return fmt.Sprintf(">= %d", *lo)
	case hi != nil:
		return fmt.Sprintf("<= %d", *hi)
	}
	return "any"
}

func checkResponseStatus(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	resp, err := e.response(ctx, s, a)
	if err != nil {
		res.Message = err.Error()
		return
	}
	res.Actual = strconv.Itoa(resp.Status)
	ok, err := matchStatus(res.Expected, resp.Status)
	if err != nil {
		res.Message = err.Error()
		return
	}
	res.Passed = ok
	if !ok {
		res.Message = fmt.Sprintf("%s answered %d, want %s", resp.URL, resp.Status, res.Expected)
	}
}

func checkResponseMIME(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	resp, err := e.response(ctx, s, a)
	if err != nil {
		res.Message = err.Error()
		return
	}
	res.Actual = resp.ContentType()
	res.Passed = strings.EqualFold(res.Actual, res.Expected)
	if !res.Passed {
		res.Message = fmt.Sprintf("%s served %q, want %q", resp.URL, res.Actual, res.Expected)
	}
}

// response fetches a.URL when set, otherwise returns the last navigation
func (e *Evaluator) response(ctx context.Context, s *browser.Session, a models.Assertion) (*browser.Response, error) {
	if a.URL == "" {
		resp := s.LastResponse()
		if resp == nil {
			return nil, fmt.Errorf("no navigation response recorded")
		}
		return resp, nil
	}
	target, err := e.resolver.ResolveURL(a.URL)
	if err != nil {
		return nil, err
	}
	resp, err := s.Page().Fetch(ctx, target, e.opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("could not fetch %s: %w", target, err)
	}
	return resp, nil
}

func checkFetchStatus(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	if res.Expected == "" {
		res.Expected = "2xx"
	}
	checkResponseStatus(ctx, e, s, a, res)
}

// matchStatus accepts "200", "2xx" or a comma separated list of either
func matchStatus(expected string, status int) (bool, error) {
	for _, part := range strings.Split(expected, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 3 && strings.HasSuffix(strings.ToLower(part), "xx") {
			class, err := strconv.Atoi(part[:1])
			if err != nil {
				return false, fmt.Errorf("invalid status class %q", part)
			}
			if status/100 == class {
				return true, nil
			}
			continue
		}
		want, err := strconv.Atoi(part)
		if err != nil {
			return false, fmt.Errorf("invalid status %q", part)
		}
		if status == want {
			return true, nil
		}
	}
	return false, nil
}

type webManifest struct {
	Name  string         `json:"name"`
	Icons []manifestIcon `json:"icons"`
}

type manifestIcon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes"`
	Type    string `json:"type"`
	Purpose string `json:"purpose"`
}

// checkManifestIcons verifies the web app manifest lists icons that resolve.
// Expected names a purpose at least one icon must carry (for example
// "maskable"); Property lists comma separated sizes that must be offered.
func checkManifestIcons(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	resp, err := e.response(ctx, s, a)
	if err != nil {
		res.Message = err.Error()
		return
	}
	if !resp.OK() {
		res.Message = fmt.Sprintf("manifest %s answered %d", resp.URL, resp.Status)
		return
	}
	body, err := resp.Body()
	if err != nil {
		res.Message = fmt.Sprintf("could not read manifest: %v", err)
		return
	}
	var manifest webManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		res.Message = fmt.Sprintf("manifest is not valid JSON: %v", err)
		return
	}
	res.Actual = fmt.Sprintf("%d icon(s)", len(manifest.Icons))
	if len(manifest.Icons) == 0 {
		res.Message = "manifest has no icons"
		return
	}

	base, err := url.Parse(resp.URL)
	if err != nil {
		res.Message = fmt.Sprintf("invalid manifest url: %v", err)
		return
	}

	var problems []string
	sizes := map[string]bool{}
	purposeFound := res.Expected == ""
	for i, icon := range manifest.Icons {
		if icon.Src == "" || icon.Sizes == "" {
			problems = append(problems, fmt.Sprintf("icon %d is missing src or sizes", i))
			continue
		}
		for _, size := range strings.Fields(icon.Sizes) {
			sizes[size] = true
		}
		if res.Expected != "" && strings.Contains(icon.Purpose, res.Expected) {
			purposeFound = true
		}
		ref, err := url.Parse(icon.Src)
		if err != nil {
			problems = append(problems, fmt.Sprintf("icon %s has an invalid src", icon.Src))
			continue
		}
		iconURL := base.ResolveReference(ref).String()
		iconResp, err := s.Page().Fetch(ctx, iconURL, e.opts.Timeout)
		if err != nil {
			problems = append(problems, fmt.Sprintf("icon %s: %v", icon.Src, err))
			continue
		}
		if !iconResp.OK() {
			problems = append(problems, fmt.Sprintf("icon %s answered %d", icon.Src, iconResp.Status))
		}
	}
	if a.Property != "" {
		for _, want := range strings.Split(a.Property, ",") {
			if want = strings.TrimSpace(want); want != "" && !sizes[want] {
				problems = append(problems, fmt.Sprintf("no %s icon", want))
			}
		}
	}
	if !purposeFound {
		problems = append(problems, fmt.Sprintf("no icon with purpose %q", res.Expected))
	}
	if len(problems) > 0 {
		res.Message = strings.Join(problems, "; ")
		return
	}
	res.Passed = true
}

func checkStorageValue(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	store := "localStorage"
	if a.Property == "session" {
		store = "sessionStorage"
	}
	key, _ := json.Marshal(e.resolver.Expand(a.Key))
	value, err := s.Page().Evaluate(ctx, fmt.Sprintf("window.%s.getItem(%s)", store, key), e.opts.Timeout)
	if err != nil {
		res.Message = fmt.Sprintf("could not read %s: %v", store, err)
		return
	}
	if value == nil {
		res.Message = fmt.Sprintf("%s has no %s", store, a.Key)
		return
	}
	res.Actual = fmt.Sprint(value)
	if res.Expected == "" {
		res.Passed = true
		return
	}
	compareText(res, res.Actual, false)
}

func checkComputedStyle(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	prop, _ := json.Marshal(a.Property)
	expr := fmt.Sprintf(`(() => { const el = (%s)[0]; return el ? getComputedStyle(el).getPropertyValue(%s) : null; })()`,
		browser.QueryAllJS(e.resolver.Expand(a.Selector)), prop)
	value, err := s.Page().Evaluate(ctx, expr, e.opts.Timeout)
	if err != nil {
		res.Message = fmt.Sprintf("could not compute style: %v", err)
		return
	}
	if value == nil {
		res.Message = fmt.Sprintf("%s not found", a.Selector)
		return
	}
	actual := strings.TrimSpace(fmt.Sprint(value))
	if res.Expected == "" {
		res.Actual = actual
		res.Passed = actual != ""
		if !res.Passed {
			res.Message = fmt.Sprintf("%s has no %s", a.Selector, a.Property)
		}
		return
	}
	compareText(res, actual, false)
}

func checkEvaluate(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	value, err := s.Page().Evaluate(ctx, e.resolver.Expand(a.Script), e.opts.Timeout)
	if err != nil {
		res.Message = fmt.Sprintf("script failed: %v", err)
		return
	}
	if value != nil {
		res.Actual = fmt.Sprint(value)
	}
	if res.Expected == "" {
		res.Passed = truthy(value)
		if !res.Passed {
			res.Message = fmt.Sprintf("script returned %v", value)
		}
		return
	}
	compareText(res, res.Actual, false)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

func (e *Evaluator) document(ctx context.Context, s *browser.Session) (*goquery.Document, error) {
	html, err := s.Page().Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read page content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("could not parse page content: %w", err)
	}
	return doc, nil
}

// checkDocumentHas looks for a CSS selector in the serialized DOM. Property
// names an attribute whose value must contain Expected; without it the
// element text must.
func checkDocumentHas(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	doc, err := e.document(ctx, s)
	if err != nil {
		res.Message = err.Error()
		return
	}
	sel := e.resolver.Expand(a.Selector)
	found := doc.Find(sel)
	if found.Length() == 0 {
		res.Message = fmt.Sprintf("document has no %s", sel)
		return
	}
	first := found.First()
	switch {
	case a.Property != "":
		value, ok := first.Attr(a.Property)
		res.Actual = value
		if !ok {
			res.Message = fmt.Sprintf("%s has no %s attribute", sel, a.Property)
			return
		}
		res.Passed = strings.Contains(value, res.Expected)
	case res.Expected != "":
		res.Actual = strings.TrimSpace(first.Text())
		res.Passed = strings.Contains(res.Actual, res.Expected)
	default:
		res.Actual = strconv.Itoa(found.Length())
		res.Passed = true
	}
	if !res.Passed {
		res.Message = fmt.Sprintf("%s: %q does not contain %q", sel, res.Actual, res.Expected)
	}
}

func checkImgAlt(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	doc, err := e.document(ctx, s)
	if err != nil {
		res.Message = err.Error()
		return
	}
	scope := "img"
	if a.Selector != "" {
		scope = e.resolver.Expand(a.Selector)
	}
	var missing []string
	doc.Find(scope).Each(func(_ int, img *goquery.Selection) {
		if _, ok := img.Attr("alt"); !ok {
			src, _ := img.Attr("src")
			missing = append(missing, src)
		}
	})
	res.Actual = fmt.Sprintf("%d without alt", len(missing))
	if len(missing) > 0 {
		res.Message = fmt.Sprintf("%d image(s) without alt text: %s", len(missing), strings.Join(missing, ", "))
		return
	}
	res.Passed = true
}

func checkNoConsoleErrors(ctx context.Context, e *Evaluator, s *browser.Session, a models.Assertion, res *models.AssertionResult) {
	diags := s.Page().Diagnostics()
	res.Actual = fmt.Sprintf("%d console error(s), %d failed request(s)", len(diags.ConsoleErrors), len(diags.FailedRequests))
	if diags.Empty() {
		res.Passed = true
		return
	}
	var lines []string
	lines = append(lines, firstN(diags.ConsoleErrors, 5)...)
	lines = append(lines, firstN(diags.FailedRequests, 5)...)
	res.Message = strings.Join(lines, "; ")
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return append(append([]string(nil), items[:n]...), fmt.Sprintf("and %d more", len(items)-n))
}
