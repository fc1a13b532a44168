package models

// PayloadType discriminates the message payload variants.
type PayloadType string

const (
	PayloadText     PayloadType = "text"
	PayloadTemplate PayloadType = "template"
	PayloadMedia    PayloadType = "media"
)

// TextPayload is a plain text message body.
type TextPayload struct {
	Body string `json:"body"`
}

// TemplatePayload references a pre-approved message template by name.
type TemplatePayload struct {
	Name     string            `json:"name"`
	Language string            `json:"language,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// MediaPayload carries a media reference with an optional caption.
type MediaPayload struct {
	Kind    string `json:"kind"` // image, video, document, voice
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// MessagePayload is a tagged variant: exactly one of Text, Template or Media
// is set, matching Type.
type MessagePayload struct {
	Type     PayloadType      `json:"type"`
	Text     *TextPayload     `json:"text,omitempty"`
	Template *TemplatePayload `json:"template,omitempty"`
	Media    *MediaPayload    `json:"media,omitempty"`
}

// NewTextPayload builds a text message payload.
func NewTextPayload(body string) MessagePayload {
	return MessagePayload{Type: PayloadText, Text: &TextPayload{Body: body}}
}

// NewTemplatePayload builds a template message payload.
func NewTemplatePayload(name, language string, params map[string]string) MessagePayload {
	return MessagePayload{Type: PayloadTemplate, Template: &TemplatePayload{Name: name, Language: language, Params: params}}
}

// NewMediaPayload builds a media message payload.
func NewMediaPayload(kind, url, caption string) MessagePayload {
	return MessagePayload{Type: PayloadMedia, Media: &MediaPayload{Kind: kind, URL: url, Caption: caption}}
}
