package service

import (
	"regexp"

	"github.com/mailkite/mailkite-backend/internal/model"
)

var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

// RenderTemplate substitutes {placeholder} variables into template. Unknown
// or empty variables render as empty string; a missing field is not a
// failure.
func RenderTemplate(template string, data map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		return data[m[1:len(m)-1]]
	})
}

// ContactVars builds the substitution set for one recipient.
func ContactVars(c *model.Contact) map[string]string {
	full := c.FirstName
	if c.LastName != "" {
		if full != "" {
			full += " "
		}
		full += c.LastName
	}
	return map[string]string{
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"email":      c.Email,
		"full_name":  full,
	}
}
