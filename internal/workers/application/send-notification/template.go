// internal/workers/application/send-notification/template.go
package sendnotification

import (
	"fmt"
	"strings"

	"notification-workers/internal/models"
)

// applyTemplateData substitutes {{key}} placeholders in the subject and bodies
// from content.templateData. Jobs without template data are left untouched.
func applyTemplateData(c *models.Content) {
	if len(c.TemplateData) == 0 {
		return
	}
	c.Subject = renderTemplate(c.Subject, c.TemplateData)
	c.Body = renderTemplate(c.Body, c.TemplateData)
	c.HTMLBody = renderTemplate(c.HTMLBody, c.TemplateData)
}

// renderTemplate replaces known placeholders and removes the rest.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		value := ""
		switch t := v.(type) {
		case string:
			value = t
		case nil:
		default:
			value = fmt.Sprintf("%v", t)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}
