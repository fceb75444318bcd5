package sandbox

import (
	"fmt"
	"regexp"
)

// UnsafePatternError reports a dangerous construct found by the static
// pre-screen. The source is rejected before a Lua state ever sees it.
type UnsafePatternError struct {
	Pattern string
	Line    int
}

func (e *UnsafePatternError) Error() string {
	return fmt.Sprintf("unsafe code pattern %q at line %d", e.Pattern, e.Line)
}

type screenRule struct {
	re   *regexp.Regexp
	name string
}

// The screen is a denylist of constructs that defeat sandboxing: dynamic
// code loading, process execution, debug introspection, native library
// loading and direct global-table manipulation. The sandboxed state removes
// these at runtime too; screening rejects them up front with a clear error
// instead of a nil-call failure mid-execution.
var screenRules = []screenRule{
	{regexp.MustCompile(`\bload\s*\(`), "load"},
	{regexp.MustCompile(`\bloadstring\s*\(`), "loadstring"},
	{regexp.MustCompile(`\bloadfile\s*\(`), "loadfile"},
	{regexp.MustCompile(`\bdofile\s*\(`), "dofile"},
	{regexp.MustCompile(`\bos\s*\.\s*execute\b`), "os.execute"},
	{regexp.MustCompile(`\bos\s*\.\s*exit\b`), "os.exit"},
	{regexp.MustCompile(`\bos\s*\.\s*remove\b`), "os.remove"},
	{regexp.MustCompile(`\bos\s*\.\s*rename\b`), "os.rename"},
	{regexp.MustCompile(`\bio\s*\.\s*popen\b`), "io.popen"},
	{regexp.MustCompile(`\bio\s*\.\s*open\b`), "io.open"},
	{regexp.MustCompile(`\bdebug\s*\.`), "debug library"},
	{regexp.MustCompile(`\bpackage\s*\.\s*loadlib\b`), "package.loadlib"},
	{regexp.MustCompile(`\brequire\s*\(`), "require"},
	{regexp.MustCompile(`\brawset\s*\(\s*_G\b`), "rawset on _G"},
	{regexp.MustCompile(`\bsetmetatable\s*\(\s*_G\b`), "setmetatable on _G"},
	{regexp.MustCompile(`\bgetfenv\s*\(`), "getfenv"},
	{regexp.MustCompile(`\bsetfenv\s*\(`), "setfenv"},
	{regexp.MustCompile(`\bcollectgarbage\s*\(`), "collectgarbage"},
}

// Prescreen scans plugin source for denylisted constructs and returns an
// UnsafePatternError for the first match. It is a cheap textual screen, not
// a parser; comments containing a pattern are rejected too, which is an
// accepted false positive.
func Prescreen(source string) error {
	for _, rule := range screenRules {
		loc := rule.re.FindStringIndex(source)
		if loc == nil {
			continue
		}
		line := 1
		for _, ch := range source[:loc[0]] {
			if ch == '\n' {
				line++
			}
		}
		return &UnsafePatternError{Pattern: rule.name, Line: line}
	}
	return nil
}
