// Package card renders alerts as Microsoft Teams Adaptive Card documents.
package card

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/t77yq/apm-notifier/internal/mention"
)

const (
	cardVersion = "1.2"
	cardSchema  = "http://adaptivecards.io/schemas/adaptive-card.json"

	// mentionPrefix is the localized "Notify:" label in front of the
	// at-mention tokens.
	mentionPrefix = "알림: "
)

type textBlock struct {
	Type   string `json:"type"`
	Weight string `json:"weight,omitempty"`
	Size   string `json:"size,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
	Text   string `json:"text"`
}

type mentioned struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type entity struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Mentioned mentioned `json:"mentioned"`
}

type msTeams struct {
	Entities []entity `json:"entities"`
}

type cardContent struct {
	Schema  string      `json:"$schema"`
	Type    string      `json:"type"`
	Version string      `json:"version"`
	Body    []textBlock `json:"body"`
	MSTeams *msTeams    `json:"msteams,omitempty"`
}

type attachment struct {
	ContentType string      `json:"contentType"`
	Content     cardContent `json:"content"`
}

type message struct {
	Type        string       `json:"type"`
	Attachments []attachment `json:"attachments"`
}

// Compose renders the card payload for an alert. The document carries three
// blocks in fixed order: a bold "[TYPE] TITLE" header, an optional mention
// block, and a detail block with the server name and message body. Each
// mention entity's text is byte-for-byte identical to the inline <at> token
// in the mention block; Teams resolves mentions by matching entity text to
// body text, so the two must never diverge.
func Compose(serverName, typeTag, title, msg string, mentions []mention.Mention) ([]byte, error) {
	body := []textBlock{{
		Type:   "TextBlock",
		Weight: "Bolder",
		Size:   "Medium",
		Text:   "[" + strings.ToUpper(typeTag) + "] " + title,
	}}

	var teams *msTeams
	if line, entities := mentionBlock(mentions); len(entities) > 0 {
		body = append(body, textBlock{Type: "TextBlock", Wrap: true, Text: line})
		teams = &msTeams{Entities: entities}
	}

	body = append(body, textBlock{
		Type: "TextBlock",
		Wrap: true,
		Text: "[SERVER] : " + serverName + "\n\n[MESSAGE] : \n\n" + msg,
	})

	doc := message{
		Type: "message",
		Attachments: []attachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: cardContent{
				Schema:  cardSchema,
				Type:    "AdaptiveCard",
				Version: cardVersion,
				Body:    body,
				MSTeams: teams,
			},
		}},
	}

	// Teams expects the <at> tokens verbatim, so HTML escaping is off.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// mentionBlock builds the visible mention line and the matching entity list.
// Mentions with an empty id are skipped in both.
func mentionBlock(mentions []mention.Mention) (string, []entity) {
	var line strings.Builder
	var entities []entity

	line.WriteString(mentionPrefix)
	for _, m := range mentions {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		if len(entities) > 0 {
			line.WriteString(", ")
		}
		token := "<at>" + m.Display + "</at>"
		line.WriteString(token)
		entities = append(entities, entity{
			Type: "mention",
			Text: token,
			Mentioned: mentioned{
				ID:   strings.TrimSpace(m.ID),
				Name: m.Display,
			},
		})
	}
	if len(entities) == 0 {
		return "", nil
	}
	return line.String(), entities
}
