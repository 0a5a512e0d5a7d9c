package extract

import (
	"strings"
	"unicode"

	"github.com/vthunder/memento/internal/types"
)

// canonicalName normalizes one person name: trimmed, single-spaced, each
// word capitalized, possessives stripped. "dan's" becomes "Dan".
func canonicalName(name string) string {
	name = strings.Trim(name, " .,!?;:'\"()[]{}")
	name = strings.TrimSuffix(name, "'s")
	words := strings.Fields(name)
	for i, w := range words {
		runes := []rune(w)
		if len(runes) > 0 && unicode.IsLower(runes[0]) {
			runes[0] = unicode.ToUpper(runes[0])
			words[i] = string(runes)
		}
	}
	return strings.Join(words, " ")
}

// BuildAliases maps lowercased names and nicknames to their canonical
// relationship name. Nicknames only collapse when a relationship exists.
func BuildAliases(relationships []types.Relationship) map[string]string {
	aliases := make(map[string]string)
	for _, r := range relationships {
		aliases[strings.ToLower(r.Name)] = r.Name
		for _, nick := range r.Nicknames {
			aliases[strings.ToLower(nick)] = r.Name
		}
	}
	return aliases
}

// Canonicalize normalizes every person reference in the features and
// collapses known nicknames to their canonical names
func Canonicalize(f types.Features, aliases map[string]string) types.Features {
	resolve := func(name string) string {
		c := canonicalName(name)
		if c == "" {
			return ""
		}
		if canonical, ok := aliases[strings.ToLower(c)]; ok {
			return canonical
		}
		return c
	}

	var people []string
	for _, p := range f.People {
		if r := resolve(p); r != "" {
			people = append(people, r)
		}
	}
	f.People = dedupeFold(people)

	for i := range f.Commitments {
		if f.Commitments[i].OtherParty != "" {
			f.Commitments[i].OtherParty = resolve(f.Commitments[i].OtherParty)
		}
		if f.Commitments[i].Owner != "" && f.Commitments[i].Owner != "self" {
			f.Commitments[i].Owner = resolve(f.Commitments[i].Owner)
		}
	}
	for i := range f.Events {
		if f.Events[i].Person != "" {
			f.Events[i].Person = resolve(f.Events[i].Person)
		}
	}
	return f
}

// NormalizeText lowercases and collapses whitespace for similarity checks
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
