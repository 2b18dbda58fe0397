package export

import (
	"html"
	"strings"
)

// TextToHTML turns generated plain text into HTML. Blank lines separate
// blocks; "#" prefixes become headings and "-" or "*" prefixed lines become
// list items.
func TextToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out strings.Builder

	for _, block := range strings.Split(text, "\n\n") {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		lines := strings.Split(block, "\n")

		if level, heading, ok := headingLine(lines[0]); ok && len(lines) == 1 {
			out.WriteString("<h" + level + ">" + html.EscapeString(heading) + "</h" + level + ">\n")
			continue
		}

		if allListItems(lines) {
			out.WriteString("<ul>")
			for _, line := range lines {
				item := strings.TrimSpace(line)[2:]
				out.WriteString("<li>" + html.EscapeString(strings.TrimSpace(item)) + "</li>")
			}
			out.WriteString("</ul>\n")
			continue
		}

		escaped := make([]string, len(lines))
		for i, line := range lines {
			escaped[i] = html.EscapeString(strings.TrimSpace(line))
		}
		out.WriteString("<p>" + strings.Join(escaped, "<br>") + "</p>\n")
	}
	return out.String()
}

func headingLine(line string) (level, text string, ok bool) {
	trimmed := strings.TrimSpace(line)
	hashes := 0
	for hashes < len(trimmed) && hashes < 6 && trimmed[hashes] == '#' {
		hashes++
	}
	if hashes == 0 || hashes >= len(trimmed) || trimmed[hashes] != ' ' {
		return "", "", false
	}
	return string(rune('0' + hashes)), strings.TrimSpace(trimmed[hashes:]), true
}

func allListItems(lines []string) bool {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "- ") && !strings.HasPrefix(trimmed, "* ") {
			return false
		}
	}
	return true
}
