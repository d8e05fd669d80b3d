package communicator

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/russross/blackfriday/v2"
	"gopkg.in/yaml.v3"

	"github.com/remitmatch/cashapp-agent/cashapperr"
)

// Format selects how a rendered body is handed to the transport.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// TemplateSpec is one entry of the YAML-seeded registry.
type TemplateSpec struct {
	Name           string   `yaml:"name"`
	Subject        string   `yaml:"subject"`
	Body           string   `yaml:"body"`
	Format         Format   `yaml:"format"`
	RequiredFields []string `yaml:"required_fields"`
}

type compiledTemplate struct {
	spec    TemplateSpec
	subject *template.Template
	body    *template.Template
}

// TemplateRegistry is an in-memory map of name -> compiled template, seeded
// at startup from YAML, matching the teacher's convention of small
// YAML/JSON-configured registries rather than a database-backed one.
type TemplateRegistry struct {
	templates map[string]*compiledTemplate
}

func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: make(map[string]*compiledTemplate)}
}

// LoadFile reads a YAML file of template specs and compiles each one.
func (r *TemplateRegistry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("communicator: read template file: %w", err)
	}
	return r.LoadYAML(raw)
}

func (r *TemplateRegistry) LoadYAML(raw []byte) error {
	var specs []TemplateSpec
	if err := yaml.Unmarshal(raw, &specs); err != nil {
		return fmt.Errorf("communicator: parse template yaml: %w", err)
	}
	for _, spec := range specs {
		if err := r.Add(spec); err != nil {
			return err
		}
	}
	return nil
}

// Add compiles and registers one template spec, overwriting any existing
// entry with the same name.
func (r *TemplateRegistry) Add(spec TemplateSpec) error {
	if spec.Format == "" {
		spec.Format = FormatText
	}
	subjTpl, err := template.New(spec.Name + ".subject").Parse(spec.Subject)
	if err != nil {
		return fmt.Errorf("communicator: compile subject template %q: %w", spec.Name, err)
	}
	bodyTpl, err := template.New(spec.Name + ".body").Parse(spec.Body)
	if err != nil {
		return fmt.Errorf("communicator: compile body template %q: %w", spec.Name, err)
	}
	r.templates[spec.Name] = &compiledTemplate{spec: spec, subject: subjTpl, body: bodyTpl}
	return nil
}

// Render produces a rendered subject and body for the named template.
// Markdown-formatted templates are rendered to HTML via blackfriday before
// being handed to the email transport; other formats pass through as-is.
func (r *TemplateRegistry) Render(name string, data map[string]interface{}) (subject, body string, contentType string, err error) {
	ct, ok := r.templates[name]
	if !ok {
		return "", "", "", cashapperr.New(cashapperr.KindTemplateNotFound, fmt.Sprintf("template %q not registered", name))
	}
	for _, field := range ct.spec.RequiredFields {
		if _, present := data[field]; !present {
			return "", "", "", cashapperr.New(cashapperr.KindValidation, fmt.Sprintf("template %q missing required field %q", name, field))
		}
	}

	var subjBuf, bodyBuf bytes.Buffer
	if err := ct.subject.Execute(&subjBuf, data); err != nil {
		return "", "", "", cashapperr.Wrap(cashapperr.KindValidation, fmt.Sprintf("render subject for template %q", name), err)
	}
	if err := ct.body.Execute(&bodyBuf, data); err != nil {
		return "", "", "", cashapperr.Wrap(cashapperr.KindValidation, fmt.Sprintf("render body for template %q", name), err)
	}

	switch ct.spec.Format {
	case FormatMarkdown:
		html := blackfriday.Run(bodyBuf.Bytes())
		return subjBuf.String(), string(html), "text/html", nil
	default:
		return subjBuf.String(), bodyBuf.String(), "text/plain", nil
	}
}

func (r *TemplateRegistry) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}
