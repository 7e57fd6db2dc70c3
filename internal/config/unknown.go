package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// suggestDistance is the largest edit distance still offered as a "did you
// mean" suggestion for an unknown key.
const suggestDistance = 3

// configKeys lists every key the file accepts, sorted so that ties between
// equally close suggestions resolve the same way on every run. The list is
// read from the toml tags of Config, so adding a field adds its key.
var configKeys = tomlKeys(reflect.TypeFor[Config]())

func tomlKeys(t reflect.Type) []string {
	var keys []string

	for i := range t.NumField() {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			keys = append(keys, tomlKeys(f.Type)...)

			continue
		}

		if name, _, _ := strings.Cut(f.Tag.Get("toml"), ","); name != "" && name != "-" {
			keys = append(keys, name)
		}
	}

	slices.Sort(keys)

	return keys
}

// checkUnknownKeys reports every key the decoder did not consume. A table
// such as [sync] is reported once under its own name.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		name := key[0]
		if reported[name] {
			continue
		}

		reported[name] = true

		msg := fmt.Sprintf("unknown config key %q", name)
		if hint := closestMatch(name, configKeys); hint != "" {
			msg += fmt.Sprintf(": did you mean %q?", hint)
		}

		errs = append(errs, errors.New(msg))
	}

	return errors.Join(errs...)
}

// closestMatch returns the candidate nearest to name, or "" when none is
// within suggestDistance edits.
func closestMatch(name string, candidates []string) string {
	best, bestDist := "", suggestDistance+1

	for _, c := range candidates {
		if d := levenshtein(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}

	return best
}

// levenshtein is the edit distance between a and b, counted in runes.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)

	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}

	for i, ca := range ra {
		diag := row[0]
		row[0] = i + 1

		for j, cb := range rb {
			sub := diag
			if ca != cb {
				sub++
			}

			diag = row[j+1]
			row[j+1] = min(row[j]+1, row[j+1]+1, sub)
		}
	}

	return row[len(rb)]
}
