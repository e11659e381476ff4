package importer

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Note is a Markdown file reduced to the text that becomes a memory.
type Note struct {
	// RelativePath is the path relative to the import root directory.
	RelativePath string

	// Title comes from the frontmatter title, the first H1 heading or the
	// file name, in that order.
	Title string

	// Text is the title heading followed by the body, with frontmatter
	// removed and wiki links flattened to plain text.
	Text string
}

// ParseNote parses a Markdown file's content. relativePath names the note
// in errors and supplies the fallback title.
func ParseNote(content []byte, relativePath string) (Note, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return Note{}, fmt.Errorf("frontmatter parse error in %s: %w", relativePath, err)
	}

	title := extractString(fm, "title")
	if title == "" {
		title = extractH1(body)
	}
	if title == "" {
		title = titleFromPath(relativePath)
	}

	return Note{
		RelativePath: relativePath,
		Title:        title,
		Text:         buildText(title, StripWikiLinks(body)),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters) from
// the Markdown body. Returns an empty map and the full text when there is
// no frontmatter.
func splitFrontmatter(text string) (map[string]any, string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, "", err
	}

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return map[string]any{}, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		// No closing delimiter; the whole file is body.
		return map[string]any{}, text, nil
	}

	fm := make(map[string]any)
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:closeIdx], "\n")), &fm); err != nil {
		return nil, "", fmt.Errorf("invalid YAML: %w", err)
	}
	return fm, strings.Join(lines[closeIdx+1:], "\n"), nil
}

// titleFromPath derives a human-readable title from the file name.
func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.TrimSpace(name)
}

// extractH1 returns the text of the first ATX heading (# ...) in body.
func extractH1(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func extractString(fm map[string]any, key string) string {
	if s, ok := fm[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// buildText prepends a title heading unless the body already opens with one.
func buildText(title, body string) string {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "# ") || title == "" {
		return body
	}
	if body == "" {
		return "# " + title
	}
	return "# " + title + "\n\n" + body
}
