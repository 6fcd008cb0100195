package policy

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Filter decides whether a given (account, spaceId) pair should be
// considered by the producer, based on line-delimited "account[/spaceId]"
// patterns loaded from inclusion and exclusion lists. A pattern with no
// "/spaceId" suffix matches every space in that account.
//
// Semantics: if an inclusion list is present, only entries it matches are
// allowed; the exclusion list, if present, is then applied on top and
// always wins.
type Filter struct {
	inclusion map[string]struct{} // "" spaceId key means "whole account"
	exclusion map[string]struct{}
}

// NewFilter loads Filter from the given file paths. Either path may be
// empty, meaning "no such list".
func NewFilter(inclusionPath, exclusionPath string) (*Filter, error) {
	inclusion, err := loadPatterns(inclusionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load inclusion list: %w", err)
	}
	exclusion, err := loadPatterns(exclusionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load exclusion list: %w", err)
	}
	return &Filter{inclusion: inclusion, exclusion: exclusion}, nil
}

func loadPatterns(path string) (map[string]struct{}, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	patterns := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// Allowed reports whether (account, spaceId) passes the filter.
func (f *Filter) Allowed(account, spaceID string) bool {
	if f == nil {
		return true
	}
	if matches(f.exclusion, account, spaceID) {
		return false
	}
	if len(f.inclusion) == 0 {
		return true
	}
	return matches(f.inclusion, account, spaceID)
}

func matches(patterns map[string]struct{}, account, spaceID string) bool {
	if patterns == nil {
		return false
	}
	if _, ok := patterns[account]; ok {
		return true
	}
	if _, ok := patterns[account+"/"+spaceID]; ok {
		return true
	}
	return false
}
