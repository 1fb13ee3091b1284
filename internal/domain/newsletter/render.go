package newsletter

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// FooterText closes every rendered issue.
const FooterText = "You are receiving this newsletter from AI Newsletters. Unsubscribe anytime."

var htmlTemplate = template.Must(template.New("newsletter").Funcs(template.FuncMap{
	"footer": func() string { return FooterText },
	"ctaHref": func(c *CTA) string {
		if c == nil || c.ButtonURL == nil || strings.TrimSpace(*c.ButtonURL) == "" {
			return "#"
		}
		return *c.ButtonURL
	},
}).Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>{{.Title}}</title>
    <style>
      body { background-color: #f8fafc; color: #0f172a; font-family: 'Inter', -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; margin: 0; padding: 0; }
      a { color: #2563eb; }
    </style>
  </head>
  <body>
    <center style="width:100%;padding:24px 0;">
      <table width="640" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:16px;overflow:hidden;">
        <tr>
          <td style="padding:24px 32px 0;">
            <h1 style="margin:0;font-size:28px;color:#0f172a;">{{.Title}}</h1>
            <p style="margin:12px 0;color:#475569;font-size:15px;">{{.Preheader}}</p>
          </td>
        </tr>
        <tr>
          <td style="padding:0 32px 24px;color:#475569;font-size:15px;line-height:24px;">{{.Intro}}</td>
        </tr>
{{- range .Sections}}
        <tr>
          <td style="padding:16px;border-bottom:1px solid #e2e8f0;">
            <h3 style="margin:0;color:#0f172a;font-size:18px;">{{.Title}}</h3>
            <p style="margin:12px 0;color:#475569;font-size:15px;line-height:24px;">{{.Summary}}</p>
{{- if .PullQuote}}
            <blockquote style="margin:12px 0;padding-left:16px;border-left:3px solid #2563eb;color:#1e293b;font-style:italic;">{{.PullQuote}}</blockquote>
{{- end}}
{{- if .LinkSuggestions}}
            <ul>{{range .LinkSuggestions}}<li style="margin-bottom:8px;"><a href="{{.}}" style="color:#2563eb;">{{.}}</a></li>{{end}}</ul>
{{- end}}
          </td>
        </tr>
{{- end}}
{{- if and .CTA .CTA.Headline}}
        <tr>
          <td style="padding:24px 32px;border-top:1px solid #e2e8f0;text-align:center;">
            <h3 style="margin:0;color:#0f172a;font-size:20px;">{{.CTA.Headline}}</h3>
{{- if .CTA.ButtonLabel}}
            <a href="{{ctaHref .CTA}}" style="display:inline-block;margin-top:12px;padding:12px 28px;background:#2563eb;color:#ffffff;border-radius:9999px;font-weight:600;text-decoration:none;">{{.CTA.ButtonLabel}}</a>
{{- end}}
          </td>
        </tr>
{{- end}}
{{- if .Outro}}
        <tr><td style="padding:24px 32px;color:#475569;font-size:14px;">{{.Outro}}</td></tr>
{{- end}}
        <tr>
          <td style="padding:16px 32px;font-size:12px;color:#94a3b8;background:#f1f5f9;">{{footer}}</td>
        </tr>
      </table>
    </center>
  </body>
</html>
`))

// RenderHTML renders content into the static HTML stored on issues and sent
// to recipients. All text is escaped.
func RenderHTML(c *Content) (string, error) {
	if c == nil {
		return "", fmt.Errorf("render newsletter: nil content")
	}
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("render newsletter: %w", err)
	}
	return buf.String(), nil
}

// RenderText renders a plain-text alternative body.
func RenderText(c *Content) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(c.Title)
	b.WriteString("\n\n")
	if c.Preheader != "" {
		b.WriteString(c.Preheader)
		b.WriteString("\n\n")
	}
	if c.Intro != "" {
		b.WriteString(c.Intro)
		b.WriteString("\n\n")
	}
	for _, s := range c.Sections {
		b.WriteString(s.Title)
		b.WriteString("\n")
		b.WriteString(s.Summary)
		b.WriteString("\n")
		if s.PullQuote != "" {
			fmt.Fprintf(&b, "\"%s\"\n", s.PullQuote)
		}
		for _, l := range s.LinkSuggestions {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		b.WriteString("\n")
	}
	if c.CTA != nil && c.CTA.Headline != "" {
		b.WriteString(c.CTA.Headline)
		if c.CTA.ButtonURL != nil && *c.CTA.ButtonURL != "" {
			fmt.Fprintf(&b, ": %s", *c.CTA.ButtonURL)
		}
		b.WriteString("\n\n")
	}
	if c.Outro != "" {
		b.WriteString(c.Outro)
		b.WriteString("\n\n")
	}
	b.WriteString(FooterText)
	b.WriteString("\n")
	return b.String()
}
