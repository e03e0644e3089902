// Package email renders outcome and alert emails and processes provider
// delivery feedback.
package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"adoptnotify/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

const (
	brandSuffix = " | Homeless Hounds"

	// AlertSubjectPrefix is prepended to operator alert subjects.
	AlertSubjectPrefix = "[Homeless Hounds] "
)

// RenderedEmail holds pre-rendered content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// OutcomeInput is what the dispatcher knows about an outcome email.
type OutcomeInput struct {
	AnimalID          string
	AnimalName        string
	Species           string
	AdoptionDate      time.Time
	PhotoURL          string
	TestMode          bool
	OriginalRecipient string
}

// AlertField is one labelled line in an operator alert.
type AlertField struct {
	Label string
	Value string
}

// Alert is an operator-facing message, e.g. a bounce report.
type Alert struct {
	Subject string
	Heading string
	Fields  []AlertField
	Note    string
}

type templateData struct {
	Preheader         string
	SiteURL           string
	TestMode          bool
	OriginalRecipient string

	AnimalName        string
	Species           string
	AnimalPhoto       string
	AdoptionDate      string
	SimilarAnimalsURL string
	SimilarLabel      string
	SimilarTitle      string

	Heading string
	Fields  []AlertField
	Note    string
}

type templatePair struct {
	html *template.Template
	text *texttemplate.Template
}

// Renderer renders the embedded templates.
type Renderer struct {
	siteURL   string
	templates map[string]templatePair
}

// RendererConfig holds the parameters needed to construct a Renderer.
type RendererConfig struct {
	// SiteBaseURL prefixes links in email bodies.
	SiteBaseURL string
}

// NewRenderer parses the embedded templates.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	base, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}

	r := &Renderer{
		siteURL:   strings.TrimSuffix(cfg.SiteBaseURL, "/"),
		templates: make(map[string]templatePair),
	}
	for _, name := range []string{string(types.KindCongrats), string(types.KindSorry), "alert"} {
		body, err := templateFS.ReadFile("templates/" + name + ".html")
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.html: %w", name, err)
		}
		h, err := template.New("base").Parse(string(base))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
		}
		if _, err := h.Parse(string(body)); err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", name, err)
		}

		txt, err := templateFS.ReadFile("templates/" + name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.txt: %w", name, err)
		}
		tt, err := texttemplate.New(name).Parse(string(txt))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.txt: %w", name, err)
		}
		r.templates[name] = templatePair{html: h, text: tt}
	}
	return r, nil
}

// RenderOutcome renders the congrats or sorry email for in. The subject
// carries no test prefix; the dispatcher adds it.
func (r *Renderer) RenderOutcome(kind types.NotificationKind, in OutcomeInput) (*RenderedEmail, error) {
	data := templateData{
		SiteURL:           r.siteURL,
		TestMode:          in.TestMode,
		OriginalRecipient: in.OriginalRecipient,
		Species:           defaultString(in.Species, "Pet"),
	}

	var subject string
	switch kind {
	case types.KindCongrats:
		data.AnimalName = defaultString(in.AnimalName, "your new pet")
		data.AnimalPhoto = in.PhotoURL
		data.AdoptionDate = formatAdoptionDate(in.AdoptionDate)
		data.Preheader = "Your adoption application has been approved! Welcome to the Homeless Hounds family."
		subject = fmt.Sprintf("🎉 Adoption Approved - Welcome %s Home!", defaultString(in.AnimalName, "Your New Pet"))
	case types.KindSorry:
		data.AnimalName = defaultString(in.AnimalName, "the pet")
		data.SimilarAnimalsURL = SimilarAnimalsPath(in.Species)
		data.SimilarLabel = strings.TrimPrefix(data.SimilarAnimalsURL, "/adopt/")
		data.SimilarTitle = strings.ToUpper(data.SimilarLabel[:1]) + data.SimilarLabel[1:]
		data.Preheader = fmt.Sprintf("Thank you for your application. While %s found another home, many others are waiting for you!", data.AnimalName)
		subject = fmt.Sprintf("Thank You for Your Application - %s Update", defaultString(in.AnimalName, "Pet"))
	default:
		return nil, types.NewAppError(types.ErrCodeInternalRender,
			fmt.Sprintf("no template for notification kind %q", kind), nil)
	}

	return r.render(string(kind), subject+brandSuffix, data)
}

// RenderAlert renders an operator alert. The subject is prefixed with
// AlertSubjectPrefix.
func (r *Renderer) RenderAlert(a Alert) (*RenderedEmail, error) {
	return r.render("alert", AlertSubjectPrefix+a.Subject, templateData{
		SiteURL: r.siteURL,
		Heading: a.Heading,
		Fields:  a.Fields,
		Note:    a.Note,
	})
}

func (r *Renderer) render(name, subject string, data templateData) (*RenderedEmail, error) {
	pair, ok := r.templates[name]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalRender,
			fmt.Sprintf("no template %q", name), nil)
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := pair.html.Execute(&htmlBuf, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender,
			fmt.Sprintf("failed to render %s.html", name), err)
	}
	if err := pair.text.Execute(&textBuf, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalRender,
			fmt.Sprintf("failed to render %s.txt", name), err)
	}
	return &RenderedEmail{
		Subject:  subject,
		BodyHTML: htmlBuf.String(),
		BodyText: textBuf.String(),
	}, nil
}

// SimilarAnimalsPath points unsuccessful applicants at animals like the one
// they missed out on: cats for any species mentioning "cat", dogs otherwise.
func SimilarAnimalsPath(species string) string {
	if strings.Contains(strings.ToLower(species), "cat") {
		return "/adopt/cats"
	}
	return "/adopt/dogs"
}

func formatAdoptionDate(t time.Time) string {
	if t.IsZero() {
		return "Today"
	}
	return t.Format("2 January 2006")
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
