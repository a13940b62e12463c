package usecase

import (
	"strings"

	"FeedSentry/internal/domain"
)

// Template variables understood by stream prompts.
const (
	varContent = "content"
	varTitle   = "title"
	varURL     = "url"
	varSource  = "source"
	varCount   = "count"
)

// renderTemplate replaces every {{name}} with vars[name]. Unknown placeholders stay as written.
func renderTemplate(tpl string, vars map[string]string) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	pairs := make([]string, 0, len(vars)*4)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value, "{{ "+name+" }}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

// contentVars exposes a content item to prompt templates.
func contentVars(c domain.Content) map[string]string {
	return map[string]string{
		varContent: c.RawText,
		varTitle:   c.Metadata[domain.MetaTitle],
		varURL:     c.Metadata[domain.MetaURL],
		varSource:  c.Metadata[domain.MetaSource],
	}
}

// isTriggered keeps the substring heuristic: any "true" or "yes" in the reply counts.
func isTriggered(response string) bool {
	lower := strings.ToLower(response)
	return strings.Contains(lower, "true") || strings.Contains(lower, "yes")
}
