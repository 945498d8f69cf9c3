package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Macmod/outparser/model"
)

// Options captures the record filtering configuration.
type Options struct {
	IncludeAddr []string
	IncludeBody []string
	ExcludeAddr []string
	ExcludeBody []string
}

// Filter holds compiled regex patterns for filtering converted records.
type Filter struct {
	includeMode  bool
	excludeMode  bool
	includeAddr  []*regexp.Regexp
	includeBody  []*regexp.Regexp
	excludeAddr  []*regexp.Regexp
	excludeBody  []*regexp.Regexp
	needAddrText bool
	needBodyText bool
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeAddr, err := compilePatterns(opts.IncludeAddr)
	if err != nil {
		return nil, fmt.Errorf("compile include-addr pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeAddr, err := compilePatterns(opts.ExcludeAddr)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-addr pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeAddr) > 0 || len(includeBody) > 0
	excludeActive := len(excludeAddr) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:  includeActive,
		excludeMode:  excludeActive,
		includeAddr:  includeAddr,
		includeBody:  includeBody,
		excludeAddr:  excludeAddr,
		excludeBody:  excludeBody,
		needAddrText: len(includeAddr) > 0 || len(excludeAddr) > 0,
		needBodyText: len(includeBody) > 0 || len(excludeBody) > 0,
	}, nil
}

// Allows returns true if the record passes the filter criteria.
func (f *Filter) Allows(rec model.Record) bool {
	var addrText, bodyText string
	if f.needAddrText {
		addrText = rec.From + "\n" + rec.To
	}
	if f.needBodyText {
		bodyText = rec.Message
	}

	if f.includeMode {
		matched := matchAny(f.includeAddr, addrText) || matchAny(f.includeBody, bodyText)
		return matched
	}

	if f.excludeMode {
		if matchAny(f.excludeAddr, addrText) || matchAny(f.excludeBody, bodyText) {
			return false
		}
	}

	return true
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
