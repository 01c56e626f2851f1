package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template defines a reusable message with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "appointment-reminder",
			Subject: "Appointment Reminder - {{date}}",
			Body:    "Hi {{patient}}, you have an appointment with {{doctor}} on {{date}} at {{time}}. Please arrive 10 minutes before your scheduled time.",
		},
		{
			ID:      "status-changed",
			Subject: "Appointment #{{appointment_id}} {{status}}",
			Body:    "Your appointment #{{appointment_id}} is now {{status}}.",
		},
		{
			ID:      "monthly-report",
			Subject: "Monthly Report for {{doctor}} - {{month}}",
			Body:    "{{total}} appointments: {{booked}} booked, {{completed}} completed, {{cancelled}} cancelled. Revenue from successful payments: {{revenue}}.",
		},
		{
			ID:      "history-export",
			Subject: "Treatment History Export Ready",
			Body:    "Your treatment history has been exported ({{rows}} appointments). The CSV file is ready for download.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
