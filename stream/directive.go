package stream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/kernelkit/errors"
)

// directivePrefix marks an in-code output configuration line.
const directivePrefix = "%output"

// Rewrite scans submitted code for line-leading %output directives,
// strips them, and returns the cleaned code together with the policy the
// last directive selects. A nil policy means no directive was present
// and the session keeps its current configuration.
func Rewrite(code string) (string, *Policy, error) {
	if !strings.Contains(code, directivePrefix) {
		return code, nil, nil
	}

	var policy *Policy
	lines := strings.Split(code, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != directivePrefix && !strings.HasPrefix(trimmed, directivePrefix+" ") {
			kept = append(kept, line)
			continue
		}
		p, err := ParseDirective(trimmed)
		if err != nil {
			return "", nil, err
		}
		policy = &p
	}
	return strings.Join(kept, "\n"), policy, nil
}

// ParseDirective parses one %output directive line. Supported forms:
//
//	%output --max-buffer=<chars> --max-time=<ms>
//	%output --reset
//
// A bare %output or --reset restores the immediate policy.
func ParseDirective(line string) (Policy, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != directivePrefix {
		return Policy{}, errors.WrapInvalid(
			fmt.Errorf("not an output directive: %q", line),
			"stream", "ParseDirective", "prefix check")
	}

	var p Policy
	for _, arg := range fields[1:] {
		switch {
		case arg == "--reset":
			p = Policy{}
		case strings.HasPrefix(arg, "--max-buffer="):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--max-buffer="))
			if err != nil || n < 0 {
				return Policy{}, errors.WrapInvalid(
					fmt.Errorf("bad --max-buffer value in %q", arg),
					"stream", "ParseDirective", "max-buffer parse")
			}
			p.MaxBuffer = n
		case strings.HasPrefix(arg, "--max-time="):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--max-time="))
			if err != nil || n < 0 {
				return Policy{}, errors.WrapInvalid(
					fmt.Errorf("bad --max-time value in %q", arg),
					"stream", "ParseDirective", "max-time parse")
			}
			p.MaxTime = time.Duration(n) * time.Millisecond
		default:
			return Policy{}, errors.WrapInvalid(
				fmt.Errorf("unknown argument %q", arg),
				"stream", "ParseDirective", "argument parse")
		}
	}
	return p, nil
}
