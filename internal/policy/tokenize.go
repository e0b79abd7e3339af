// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package policy

import (
	"path"
	"strings"
	"unicode"

	"github.com/google/shlex"
)

// commandSeparators start a new command in shell syntax. "$" only does so
// when it opens a command substitution, and "&" not when it follows a
// redirection as in 2>&1.
const commandSeparators = ";|&()`\n"

// wordSeparators split words without starting a new command.
const wordSeparators = "<>'\"\\{}$"

// trustedProgramDirs are the only directories a program may be named by path
// from while the allowlist is active. A copy of a shell named ./ls elsewhere
// must not pass as ls.
var trustedProgramDirs = map[string]struct{}{
	"/bin":      {},
	"/sbin":     {},
	"/usr/bin":  {},
	"/usr/sbin": {},
}

// view is one reading of the command text: its commands, each a list of
// raw words.
type view [][]string

// parseViews reads command text the two ways it can reach a process.
//
// The first view splits on every shell metacharacter, quotes included, so
// commands nested in quoted arguments (sh -c "rm x") and chained with ; | &&
// or $( ) are each visible. The second is the shlex argument vector the argv
// executor runs, with quotes removed, so "r"m is seen as rm. It is nil when
// the text does not parse.
func parseViews(command string) (split, argv view) {
	split = rawSegments(command)
	if words, err := shlex.Split(command); err == nil && len(words) > 0 {
		argv = view{words}
	}
	return split, argv
}

// rawSegments splits command text into commands and each command into
// unnormalized words. Empty commands are dropped.
func rawSegments(command string) view {
	var (
		out     view
		current []string
		word    strings.Builder
	)
	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		current = append(current, word.String())
		word.Reset()
	}
	flushSegment := func() {
		flushWord()
		if len(current) > 0 {
			out = append(out, current)
			current = nil
		}
	}

	runes := []rune(command)
	for i, r := range runes {
		switch {
		case r == '$' && i+1 < len(runes) && runes[i+1] == '(':
			flushSegment()
		case r == '&' && i > 0 && (runes[i-1] == '>' || runes[i-1] == '<'):
			flushWord()
		case strings.ContainsRune(commandSeparators, r):
			flushSegment()
		case unicode.IsSpace(r), strings.ContainsRune(wordSeparators, r):
			flushWord()
		default:
			word.WriteRune(r)
		}
	}
	flushSegment()
	return out
}

// segments is rawSegments with every word normalized.
func segments(command string) [][]string {
	var out [][]string
	for _, seg := range rawSegments(command) {
		var words []string
		for _, w := range seg {
			if n := normalize(w); n != "" {
				words = append(words, n)
			}
		}
		if len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

// tokens returns every normalized word of command under both views.
func tokens(command string) []string {
	split, argv := parseViews(command)
	var out []string
	for _, v := range []view{split, argv} {
		for _, seg := range v {
			for _, w := range seg {
				if n := normalize(w); n != "" {
					out = append(out, n)
				}
			}
		}
	}
	return out
}

// normalize lowercases a word and strips any directory prefix.
func normalize(word string) string {
	word = strings.ToLower(word)
	if i := strings.LastIndexByte(word, '/'); i >= 0 {
		word = word[i+1:]
	}
	return word
}

// programWord returns the raw executable word of one command: the first word
// after any root-escalation prefix, its flags and environment assignments.
func programWord(words []string, escalation map[string]struct{}) string {
	escalated := false
	for _, w := range words {
		n := normalize(w)
		if n == "" {
			continue
		}
		if _, ok := escalation[n]; ok {
			escalated = true
			continue
		}
		if escalated && strings.HasPrefix(n, "-") {
			continue
		}
		if strings.Contains(w, "=") && !strings.HasPrefix(w, "=") {
			continue
		}
		return w
	}
	return ""
}

// program returns the normalized executable of one command.
func program(words []string, escalation map[string]struct{}) string {
	return normalize(programWord(words, escalation))
}

// programs returns the raw executable word of every command under both
// views. An argv program containing a command separator is skipped: the argv
// executor cannot find such a program and a shell splits it the way the
// first view already did.
func programs(command string, escalation map[string]struct{}) []string {
	split, argv := parseViews(command)
	var out []string
	for _, seg := range split {
		out = append(out, programWord(seg, escalation))
	}
	for _, seg := range argv {
		if w := programWord(seg, escalation); !strings.ContainsAny(w, commandSeparators) {
			out = append(out, w)
		}
	}
	return out
}

// trustedLocation reports whether a program word is a bare name resolved
// through PATH or a path inside trustedProgramDirs.
func trustedLocation(word string) bool {
	if !strings.Contains(word, "/") {
		return true
	}
	_, ok := trustedProgramDirs[path.Dir(path.Clean(word))]
	return ok
}

// optionName returns the lowercased option part of a word, without any
// "=value" suffix.
func optionName(word string) string {
	word = strings.ToLower(word)
	if i := strings.IndexByte(word, '='); i > 0 {
		word = word[:i]
	}
	return word
}
