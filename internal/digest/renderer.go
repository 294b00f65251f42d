// Package digest renders the weekly events digest email.
//
// Rendering is a pure transformation: the same events, window and site URL
// always produce the same document. All feed-supplied text passes through
// html/template's contextual escaping.
package digest

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"eventdigest/internal/calendar"
	"eventdigest/internal/types"
)

//go:embed templates/digest.html
var templateFS embed.FS

// MaxEventsPerDay caps the events listed under one day header. The rest are
// summarized in an overflow note.
const MaxEventsPerDay = 25

// metaSeparator joins the time, place and price of an event.
const metaSeparator = " · "

const (
	heading = "Resumen semanal — Eventos en Lima"
	intro   = "Eventos de la semana (Eventis / EnLima, Eventbrite, Teleticket)."
)

// RendererConfig holds the parameters needed to construct a Renderer.
type RendererConfig struct {
	// Locale defaults to calendar.Spanish.
	Locale *calendar.Locale
}

// Renderer turns a week of events into the digest HTML document. The
// template is parsed once; a Renderer is safe for concurrent use.
type Renderer struct {
	tmpl   *template.Template
	locale calendar.Locale
}

type pageData struct {
	Heading string
	Intro   string
	Days    []dayBlock
	SiteURL string
}

type dayBlock struct {
	Label    string
	Items    []eventItem
	Overflow int
}

type eventItem struct {
	Title string
	Href  string
	Meta  string
}

// NewRenderer parses the embedded template and returns a Renderer.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	src, err := templateFS.ReadFile("templates/digest.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read digest.html: %w", err)
	}
	tmpl, err := template.New("digest").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse digest.html: %w", err)
	}

	locale := calendar.Spanish
	if cfg.Locale != nil {
		locale = *cfg.Locale
	}

	return &Renderer{
		tmpl:   tmpl,
		locale: locale,
	}, nil
}

// Render produces the digest document for window. Days missing from days
// are treated as empty, and empty days get no block at all. Event links
// fall back to siteURL, which is also the footer link.
func (r *Renderer) Render(days types.EventsByDay, window calendar.Window, siteURL string) (string, error) {
	data := pageData{
		Heading: heading,
		Intro:   intro,
		SiteURL: siteURL,
	}

	for _, key := range window {
		events := days[key]
		if len(events) == 0 {
			continue
		}
		data.Days = append(data.Days, r.buildDay(key, events, siteURL))
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("renderer: failed to render digest: %w", err)
	}
	return buf.String(), nil
}

// Subject returns the subject line naming the first and last day of window.
func (r *Renderer) Subject(window calendar.Window) string {
	return fmt.Sprintf("%s (%s – %s)", heading, r.locale.DayLabel(window.Start()), r.locale.DayLabel(window.End()))
}

func (r *Renderer) buildDay(key string, events []types.Event, siteURL string) dayBlock {
	visible := events
	overflow := 0
	if len(events) > MaxEventsPerDay {
		visible = events[:MaxEventsPerDay]
		overflow = len(events) - MaxEventsPerDay
	}

	block := dayBlock{
		Label:    r.locale.DayLabel(key),
		Items:    make([]eventItem, 0, len(visible)),
		Overflow: overflow,
	}
	for _, ev := range visible {
		block.Items = append(block.Items, eventItem{
			Title: ev.DisplayTitle(),
			Href:  ev.URL.Or(siteURL),
			Meta:  metaLine(ev),
		})
	}
	return block
}

// metaLine joins whichever of time, place and price are present. It returns
// "" when none are.
func metaLine(ev types.Event) string {
	parts := make([]string, 0, 3)
	if v, ok := ev.Time.Get(); ok {
		parts = append(parts, v)
	}
	if v, ok := ev.Place(); ok {
		parts = append(parts, v)
	}
	if v, ok := ev.Price.Get(); ok {
		parts = append(parts, v)
	}
	return strings.Join(parts, metaSeparator)
}

// ForWindow restricts a full feed to the window's keys. Every key is present
// in the result; days without events map to an empty slice.
func ForWindow(all types.EventsByDay, window calendar.Window) types.EventsByDay {
	out := make(types.EventsByDay, len(window))
	for _, key := range window {
		events := all[key]
		if events == nil {
			events = []types.Event{}
		}
		out[key] = events
	}
	return out
}
