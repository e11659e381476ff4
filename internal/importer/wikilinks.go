// Package importer ingests a folder of Markdown notes, such as an Obsidian
// vault, into one memory scope.
package importer

import (
	"regexp"
	"strings"
)

// wikilinkRe matches [[link]] and [[link|alias]] patterns.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// StripWikiLinks replaces [[wiki-links]] in content with plain text.
// If the link has an alias, the alias is used; otherwise the target name is used.
func StripWikiLinks(content string) string {
	return wikilinkRe.ReplaceAllStringFunc(content, func(match string) string {
		parts := wikilinkRe.FindStringSubmatch(match)
		if alias := strings.TrimSpace(parts[2]); alias != "" {
			return alias
		}
		return strings.TrimSpace(parts[1])
	})
}
