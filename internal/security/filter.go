package security

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrCommandRejected is returned by Check for a command the policy forbids.
var ErrCommandRejected = errors.New("command rejected")

// CommandFilter decides which commands ssh_exec may run. The blocklist wins;
// a non-empty allowlist admits only matching commands.
type CommandFilter struct {
	blocklist []*regexp.Regexp
	allowlist []*regexp.Regexp
}

// NewCommandFilter compiles the given patterns.
func NewCommandFilter(blocklist, allowlist []string) (*CommandFilter, error) {
	cf := &CommandFilter{}
	var err error
	if cf.blocklist, err = compileAll("blocklist", blocklist); err != nil {
		return nil, err
	}
	if cf.allowlist, err = compileAll("allowlist", allowlist); err != nil {
		return nil, err
	}
	return cf, nil
}

func compileAll(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Check returns nil when command may run, otherwise an error wrapping
// ErrCommandRejected. A nil filter allows everything.
func (cf *CommandFilter) Check(command string) error {
	if cf == nil {
		return nil
	}
	for _, re := range cf.blocklist {
		if re.MatchString(command) {
			return fmt.Errorf("%w: matches blocked pattern %s", ErrCommandRejected, re)
		}
	}
	if len(cf.allowlist) == 0 {
		return nil
	}
	for _, re := range cf.allowlist {
		if re.MatchString(command) {
			return nil
		}
	}
	return fmt.Errorf("%w: not in allowlist", ErrCommandRejected)
}

// DefaultBlocklist returns a set of commonly destructive patterns.
func DefaultBlocklist() []string {
	return []string{
		`rm\s+-rf\s+/\s*$`,          // rm -rf /
		`rm\s+-rf\s+/\*`,            // rm -rf /*
		`mkfs\.`,                    // mkfs commands
		`dd\s+.*of=/dev/[sh]d`,      // dd to raw devices
		`:\s*\(\s*\)\s*\{\s*:\s*\|`, // fork bomb
		`>\s*/dev/[sh]d`,            // redirect to raw devices
	}
}
