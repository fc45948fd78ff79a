package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/docker/image-sorter/pkg/classify"
)

var errNoRules = errors.New("no rules defined: pass --rule folder=prompt or --rules-file")

// ruleEntry is one rule as written on the command line or in a rules file.
type ruleEntry struct {
	Folder string `toml:"folder"`
	Prompt string `toml:"prompt"`
}

type rulesFile struct {
	Rules []ruleEntry `toml:"rule"`
}

// parseRuleFlag splits "folder=prompt". The folder may be left empty.
func parseRuleFlag(s string) (ruleEntry, error) {
	folder, prompt, ok := strings.Cut(s, "=")
	if !ok {
		return ruleEntry{}, fmt.Errorf("invalid rule %q: expected folder=prompt", s)
	}
	return ruleEntry{Folder: folder, Prompt: prompt}, nil
}

func loadRulesFile(path string) ([]ruleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read rules file: %w", err)
	}
	var doc rulesFile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to parse rules file %s: %w", path, err)
	}
	return doc.Rules, nil
}

// buildRules numbers the entries from 1. Entries without a prompt are
// dropped but still take a number, and a missing folder name becomes
// Folder_<n>.
func buildRules(entries []ruleEntry) ([]classify.Rule, error) {
	var rules []classify.Rule
	for i, e := range entries {
		prompt := strings.TrimSpace(e.Prompt)
		if prompt == "" {
			continue
		}
		id := strconv.Itoa(i + 1)
		folder := strings.TrimSpace(e.Folder)
		if folder == "" {
			folder = "Folder_" + id
		}
		rules = append(rules, classify.Rule{ID: id, FolderName: folder, Prompt: prompt})
	}
	if len(rules) == 0 {
		return nil, errNoRules
	}
	return rules, nil
}
