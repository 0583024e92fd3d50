package serializer

import (
	"encoding/xml"
	"strings"
	"sync"

	"github.com/jinzhu/inflection"
)

const fallbackEntryTag = "item"

// nameRune records where a non-ASCII rune may appear in an element name.
type nameRune struct {
	start, char bool
}

// nonASCIINames caches nameRune by rune. encoding/xml checks names against the
// XML 1.0 character tables, so its decoder is the reference for anything past ASCII.
var nonASCIINames sync.Map

func classify(r rune) nameRune {
	if v, ok := nonASCIINames.Load(r); ok {
		return v.(nameRune)
	}
	s := string(r)
	nr := nameRune{start: decodesAsName(s), char: decodesAsName("_" + s)}
	nonASCIINames.Store(r, nr)
	return nr
}

func decodesAsName(name string) bool {
	tok, err := xml.NewDecoder(strings.NewReader("<" + name + "/>")).Token()
	if err != nil {
		return false
	}
	start, ok := tok.(xml.StartElement)
	return ok && start.Name.Space == "" && start.Name.Local == name
}

func isNameStart(r rune) bool {
	if r < 0x80 {
		return r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
	}
	return classify(r).start
}

func isNameChar(r rune) bool {
	if r < 0x80 {
		return isNameStart(r) || ('0' <= r && r <= '9') || r == '-' || r == '.'
	}
	return classify(r).char
}

// ValidName reports whether s can be used verbatim as an element name.
// Colons are excluded so keys never introduce namespace prefixes.
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isNameStart(r) {
			return false
		}
		if !isNameChar(r) {
			return false
		}
	}
	return true
}

// elementName maps an arbitrary field name onto a valid XML element name.
// Valid names pass through unchanged.
func elementName(key string) string {
	if ValidName(key) {
		return key
	}
	if key == "" {
		return "_"
	}

	var b strings.Builder
	for i, r := range key {
		if i == 0 && !isNameStart(r) {
			b.WriteByte('_')
		}
		if isNameChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// entryName returns the tag used for each entry of a sequence rendered under
// the element named parent: the singular of parent, or "item" when the word
// has no distinct singular form.
func entryName(parent string) string {
	singular := inflection.Singular(parent)
	if singular == "" || singular == parent || !ValidName(singular) {
		return fallbackEntryTag
	}
	return singular
}
