// Package prompt turns a product description into a Veo prompt.
package prompt

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// strictPolicy strips all markup from user supplied text.
var strictPolicy = bluemonday.StrictPolicy()

// Result is a rendered prompt and the template that produced it.
type Result struct {
	Text       string
	Category   Category
	TemplateID string
}

type Brand struct {
	Name   string
	Slogan string
}

type Output struct {
	AspectRatio string
	Resolution  string
}

// Build classifies the description and hint and renders the matching template.
func Build(description, hint string) Result {
	description = cleanText(description)
	hint = cleanText(hint)

	category := Classify(description + " " + hint)
	tmpl := TemplateFor(category)

	var b strings.Builder
	b.WriteString(fmt.Sprintf(tmpl.Scene, description))
	b.WriteString(". Camera: ")
	b.WriteString(tmpl.Camera)
	b.WriteString(". Lighting: ")
	b.WriteString(tmpl.Lighting)
	b.WriteString(".")
	if hint != "" {
		b.WriteString(" Creative direction: ")
		b.WriteString(strings.TrimRight(hint, ". "))
		b.WriteString(".")
	}

	return Result{
		Text:       collapseSpaces(b.String()),
		Category:   category,
		TemplateID: tmpl.ID,
	}
}

// Classify picks the category with the most keyword hits. Ties keep the
// earlier category and no hits yields DefaultCategory.
func Classify(text string) Category {
	normalized := normalize(text)
	best := DefaultCategory
	bestCount := 0
	for _, entry := range catalog {
		count := 0
		for _, keyword := range entry.keywords {
			count += strings.Count(normalized, keyword)
		}
		if count > bestCount {
			best, bestCount = entry.category, count
		}
	}
	return best
}

// Compose appends brand and output metadata to a built prompt.
func Compose(result Result, brand Brand, output Output) string {
	parts := []string{result.Text}
	if name := cleanText(brand.Name); name != "" {
		parts = append(parts, fmt.Sprintf("Feature the brand name %q subtly in the final frame.", name))
	}
	if slogan := cleanText(brand.Slogan); slogan != "" {
		parts = append(parts, fmt.Sprintf("Close on the tagline %q.", slogan))
	}

	var format []string
	if ratio := strings.TrimSpace(output.AspectRatio); ratio != "" {
		format = append(format, "aspect ratio "+ratio)
	}
	if resolution := strings.TrimSpace(output.Resolution); resolution != "" {
		format = append(format, "resolution "+resolution)
	}
	if len(format) > 0 {
		parts = append(parts, "Format: "+strings.Join(format, ", ")+".")
	}
	parts = append(parts, "No on-screen text other than the brand elements above.")
	return collapseSpaces(strings.Join(parts, " "))
}

func cleanText(value string) string {
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	return collapseSpaces(stripped)
}

func normalize(value string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(value))
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
