package registry

import (
	"regexp"
	"strings"
	"unicode"
)

// acronyms stay uppercase in display names.
var acronyms = map[string]bool{
	"glm": true,
	"gpt": true,
	"llm": true,
	"ai":  true,
	"ml":  true,
}

var digitPair = regexp.MustCompile(`(\d) (\d)`)

// NormalizeModelName turns a provider model id into a display name:
// "opencode/glm-4-7-free" becomes "GLM 4.7". The same model offered by
// several providers normalizes to one name, which is what groups the
// /v1/models/grouped listing.
func NormalizeModelName(id string) string {
	name := strings.TrimSuffix(id, "-free")
	name = strings.TrimPrefix(name, "opencode/")
	name = strings.TrimPrefix(name, "openrouter/")

	parts := strings.Split(name, "-")
	for i, part := range parts {
		if acronyms[strings.ToLower(part)] {
			parts[i] = strings.ToUpper(part)
			continue
		}
		parts[i] = titleCase(part)
	}
	name = strings.Join(parts, " ")

	// Adjacent version digits read as one number: "4 7" is really 4.7.
	for {
		joined := digitPair.ReplaceAllString(name, "$1.$2")
		if joined == name {
			return name
		}
		name = joined
	}
}

func titleCase(s string) string {
	runes := []rune(s)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}
