package subscription

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/osteele/liquid"
)

const confirmationSubject = "Welcome!"

const confirmationText = `Welcome to our newsletter{% if name != "" %}, {{ name }}{% endif %}!
Visit {{ link }} to confirm your subscription.
`

const confirmationHTML = `<p>Welcome to our newsletter{% if name != "" %}, {{ name | escape }}{% endif %}!</p>
<p>Click <a href="{{ link | escape }}">here</a> to confirm your subscription.</p>
`

// messageRenderer renders the fixed confirmation bodies. The templates are
// compiled once; subscribers cannot supply their own.
type messageRenderer struct {
	text *liquid.Template
	html *liquid.Template
}

func newMessageRenderer() (*messageRenderer, error) {
	engine := liquid.NewEngine()
	engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	text, err := engine.ParseString(confirmationText)
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}
	htmlTpl, err := engine.ParseString(confirmationHTML)
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}
	return &messageRenderer{text: text, html: htmlTpl}, nil
}

func (r *messageRenderer) render(to, name, link string) (Message, error) {
	bindings := map[string]any{"name": name, "link": link}

	text, err := r.text.RenderString(bindings)
	if err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	htmlBody, err := r.html.RenderString(bindings)
	if err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{
		To:       to,
		Subject:  confirmationSubject,
		TextBody: text,
		HTMLBody: htmlBody,
	}, nil
}

// ConfirmationLink builds {baseURL}/subscriptions/confirm?token={token}.
func ConfirmationLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/subscriptions/confirm?token=" + url.QueryEscape(token)
}
