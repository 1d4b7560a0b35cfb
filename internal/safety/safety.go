// Package safety classifies shell command strings before execution.
//
// The classifier is fail-closed: a command runs only when every segment of
// it matches a known-safe verb and touches nothing outside the sandbox
// root. Anything unrecognized is rejected. A denylist of destructive verbs
// is layered on top as a hard exclusion, so a configuration mistake can
// never re-admit them.
package safety

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jkaninda/sanduku/internal/confine"
)

// Verdict is the classification result for one command string.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Category groups allowlisted verbs for exec_safe_commands.
type Category string

const (
	CategoryFiles  Category = "files"
	CategoryText   Category = "text"
	CategorySystem Category = "system"
	CategoryDev    Category = "dev"
	CategoryVCS    Category = "vcs"
)

// allowedVerbs is the fail-closed allowlist, keyed by category.
var allowedVerbs = map[Category][]string{
	CategoryFiles:  {"ls", "pwd", "find", "stat", "file", "du", "df", "tree", "basename", "dirname", "realpath"},
	CategoryText:   {"cat", "head", "tail", "grep", "egrep", "fgrep", "wc", "sort", "uniq", "cut", "tr", "diff", "comm", "strings", "echo"},
	CategorySystem: {"date", "uptime", "whoami", "id", "uname", "hostname", "env", "printenv", "ps", "free", "sleep", "true", "false"},
	CategoryDev:    {"go", "node", "python3", "java", "cargo"},
	CategoryVCS:    {"git"},
}

// gitReadSubcommands restricts the vcs category further: only read-only
// git subcommands pass.
var gitReadSubcommands = map[string]bool{
	"log": true, "show": true, "diff": true, "blame": true,
	"branch": true, "tag": true, "status": true, "remote": true,
	"rev-parse": true, "ls-files": true, "describe": true,
}

// deniedVerbs is a seed of destructive verbs from the historic fail-open
// policy, kept as hard exclusions. The allowlist already rejects them; this
// list guards against additional verbs configured at runtime.
var deniedVerbs = map[string]bool{
	"rm": true, "rmdir": true, "mv": true, "dd": true, "mkfs": true,
	"format": true, "chmod": true, "chown": true, "shutdown": true,
	"reboot": true, "halt": true, "reg": true, "regedit": true,
	"del": true, "rd": true, "kill": true, "killall": true,
	"sudo": true, "su": true, "shred": true, "truncate": true,
}

// protectedPaths are operating-system-critical directories no command
// argument may reference, canonicalized at comparison time.
var protectedPaths = []string{
	"/", "/etc", "/usr", "/bin", "/sbin", "/boot", "/var", "/dev",
	"/proc", "/sys", "/lib", "/lib64", "/root",
}

// protectedWindowsPrefixes are matched textually (lowercase, forward
// slashes) so Windows-style arguments are caught on any build platform.
var protectedWindowsPrefixes = []string{
	"c:/windows", "c:/program files", "c:/program files (x86)", "c:/",
}

// Config tunes the classifier.
type Config struct {
	// ExtraVerbs admits additional verbs under the dev category.
	// Verbs on the denied seed list are ignored even when listed here.
	ExtraVerbs []string
}

// Classifier decides whether a command string may be executed.
type Classifier struct {
	resolver *confine.Resolver
	extra    map[string]bool
	logger   *slog.Logger
}

// NewClassifier creates a Classifier bound to the given resolver.
func NewClassifier(cfg Config, resolver *confine.Resolver, logger *slog.Logger) *Classifier {
	extra := make(map[string]bool, len(cfg.ExtraVerbs))
	for _, v := range cfg.ExtraVerbs {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && !deniedVerbs[v] {
			extra[v] = true
		}
	}
	return &Classifier{resolver: resolver, extra: extra, logger: logger}
}

// Classify evaluates one command string. Compound commands (pipes, &&, ||,
// ;) are split and every segment must pass on its own. workingDir is the
// sandbox-relative directory the command will run in; relative path
// arguments are checked against it.
func (c *Classifier) Classify(command, workingDir string) Verdict {
	command = strings.TrimSpace(command)
	if command == "" {
		return Verdict{Allowed: false, Reason: "empty command"}
	}

	// Command substitution can hide an arbitrary inner command from
	// verb-level analysis, so it is rejected outright.
	if strings.ContainsAny(command, "`") || strings.Contains(command, "$(") {
		return Verdict{Allowed: false, Reason: "command substitution is not allowed"}
	}

	for _, segment := range splitSegments(command) {
		if v := c.classifySegment(segment, workingDir); !v.Allowed {
			if c.logger != nil {
				c.logger.Warn("command blocked",
					slog.String("command", command),
					slog.String("reason", v.Reason),
				)
			}
			return v
		}
	}
	return Verdict{Allowed: true, Reason: "all segments match the safe-command allowlist"}
}

func (c *Classifier) classifySegment(segment, workingDir string) Verdict {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return Verdict{Allowed: true}
	}

	// Output redirection writes files outside the tool surface's audit;
	// fail closed.
	if strings.ContainsAny(segment, "<>") {
		return Verdict{Allowed: false, Reason: "redirection is not allowed"}
	}

	tokens := strings.Fields(segment)

	// Skip leading KEY=VALUE environment assignments.
	i := 0
	for i < len(tokens) && isEnvAssignment(tokens[i]) {
		i++
	}
	if i == len(tokens) {
		return Verdict{Allowed: false, Reason: "no command verb found"}
	}

	verb := strings.ToLower(filepath.Base(tokens[i]))
	if deniedVerbs[verb] {
		return Verdict{Allowed: false, Reason: fmt.Sprintf("verb %q is explicitly denied", verb)}
	}
	if !c.verbAllowed(verb) {
		return Verdict{Allowed: false, Reason: fmt.Sprintf("verb %q is not on the safe-command allowlist", verb)}
	}

	if verb == "git" {
		if i+1 >= len(tokens) || !gitReadSubcommands[strings.ToLower(tokens[i+1])] {
			return Verdict{Allowed: false, Reason: "only read-only git subcommands are allowed"}
		}
	}

	// Every path-like argument must stay inside the sandbox and away from
	// protected system directories.
	for _, arg := range tokens[i+1:] {
		if v := c.checkPathArgument(arg, workingDir); !v.Allowed {
			return v
		}
	}
	return Verdict{Allowed: true}
}

func (c *Classifier) verbAllowed(verb string) bool {
	if c.extra[verb] {
		return true
	}
	for _, verbs := range allowedVerbs {
		for _, v := range verbs {
			if v == verb {
				return true
			}
		}
	}
	return false
}

// checkPathArgument rejects arguments that reference protected system
// directories or resolve outside the sandbox root. Relative arguments
// are resolved against workingDir before the containment check.
func (c *Classifier) checkPathArgument(arg, workingDir string) Verdict {
	arg = strings.Trim(arg, `"'`)
	if arg == "" || strings.HasPrefix(arg, "-") {
		return Verdict{Allowed: true}
	}

	// Backslashes are normalized by hand; filepath.ToSlash is a no-op for
	// them on non-Windows builds.
	normalized := strings.ToLower(strings.ReplaceAll(arg, `\`, "/"))
	for _, prefix := range protectedWindowsPrefixes {
		if normalized == prefix || strings.HasPrefix(normalized, prefix+"/") || normalized == strings.TrimSuffix(prefix, "/") {
			return Verdict{Allowed: false, Reason: fmt.Sprintf("argument %q references a protected system path", arg)}
		}
	}

	if strings.HasPrefix(arg, "~") {
		return Verdict{Allowed: false, Reason: fmt.Sprintf("argument %q references the home directory outside the sandbox", arg)}
	}
	if !strings.HasPrefix(arg, "/") {
		// Relative arguments resolve under the runner's confined working
		// directory; the resolver decides whether the result escapes.
		if _, err := c.resolver.Resolve(filepath.Join(workingDir, arg)); err != nil {
			return Verdict{Allowed: false, Reason: fmt.Sprintf("argument %q is outside the sandbox root", arg)}
		}
		return Verdict{Allowed: true}
	}

	clean := filepath.Clean(arg)
	for _, p := range protectedPaths {
		if clean == p || strings.HasPrefix(clean, p+"/") {
			// The sandbox root may itself live under /var, /home etc.;
			// containment wins when the resolver accepts the path.
			if _, err := c.resolver.Resolve(clean); err == nil {
				return Verdict{Allowed: true}
			}
			return Verdict{Allowed: false, Reason: fmt.Sprintf("argument %q references a protected system path", arg)}
		}
	}
	if _, err := c.resolver.Resolve(clean); err != nil {
		return Verdict{Allowed: false, Reason: fmt.Sprintf("argument %q is outside the sandbox root", arg)}
	}
	return Verdict{Allowed: true}
}

// SafeCommands returns example invocations per category, optionally
// filtered to one category. Used by the exec_safe_commands tool.
func SafeCommands(category string) map[string][]string {
	examples := map[Category][]string{
		CategoryFiles:  {"ls -la", "find . -name '*.go'", "stat README.md", "du -sh .", "tree -L 2"},
		CategoryText:   {"cat main.go", "head -n 20 log.txt", "grep -rn TODO .", "wc -l *.go", "diff a.txt b.txt"},
		CategorySystem: {"date", "uname -a", "whoami", "env", "uptime"},
		CategoryDev:    {"go version", "go vet ./...", "node --version", "python3 --version"},
		CategoryVCS:    {"git status", "git log --oneline -n 10", "git diff", "git blame main.go"},
	}

	out := make(map[string][]string)
	for cat, list := range examples {
		if category != "" && category != string(cat) {
			continue
		}
		out[string(cat)] = list
	}
	return out
}

// splitSegments breaks a command on the shell operators |, &&, || and ;
// so each piece can be classified independently.
func splitSegments(command string) []string {
	var segments []string
	var current strings.Builder
	runes := []rune(command)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '&':
			if i+1 < len(runes) && runes[i+1] == '&' {
				flush()
				i++
				continue
			}
			current.WriteRune(runes[i])
		case '|':
			flush()
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			}
		case ';':
			flush()
		default:
			current.WriteRune(runes[i])
		}
	}
	flush()
	return segments
}

func isEnvAssignment(token string) bool {
	eq := strings.Index(token, "=")
	if eq <= 0 {
		return false
	}
	for _, r := range token[:eq] {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
