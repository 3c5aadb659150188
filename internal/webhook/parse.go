package webhook

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/JKgeneral1/IT-tgBot/internal/bridge"
	"github.com/JKgeneral1/IT-tgBot/internal/helpdesk"
)

// Key aliases seen across helpdesk webhook versions. The first present
// and non-empty one wins.
var (
	ticketIDKeys = []string{"ticket_id", "TicketId", "taskId", "TaskId", "Id", "id"}
	eventIDKeys  = []string{"event_id", "EventId", "eventId"}
)

// parseEvent extracts a lifecycle event from a webhook body. Only the
// ticket id is mandatory; status and comments are carried when present.
func parseEvent(body []byte) (bridge.LifecycleEvent, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return bridge.LifecycleEvent{}, fmt.Errorf("webhook: decode body: %w", err)
	}

	ev := bridge.LifecycleEvent{
		TicketID: firstString(raw, ticketIDKeys),
		EventID:  firstString(raw, eventIDKeys),
	}
	if ev.TicketID == "" {
		return bridge.LifecycleEvent{}, fmt.Errorf("webhook: body has no ticket id")
	}

	if fields, ok := raw["Fields"]; ok {
		if id, ok := helpdesk.StatusFromFields(fields); ok {
			ev.StatusID = id
		}
		ev.Comments = commentsFromFields(fields)
	}
	if ev.StatusID == 0 {
		if id, ok := helpdesk.StatusFromFields(body); ok {
			ev.StatusID = id
		}
	}
	if len(ev.Comments) == 0 {
		if c := cleanText(firstString(raw, []string{"comment", "Comment", "text"})); c != "" {
			ev.Comments = []string{c}
		}
	}
	return ev, nil
}

// firstString returns the first of the candidate keys that decodes to a
// non-empty string or number.
func firstString(raw map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil && n.String() != "" {
			return n.String()
		}
	}
	return ""
}

// commentsFromFields pulls engineer comment texts out of the Fields
// block. Helpdesk versions differ on the array key and the per-entry
// text key, so several are probed.
func commentsFromFields(fields json.RawMessage) []string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(fields, &obj); err != nil {
		return nil
	}
	var out []string
	for _, arrayKey := range []string{"Comments", "comments", "Events", "events", "Lifetime", "lifetime"} {
		v, ok := obj[arrayKey]
		if !ok {
			continue
		}
		var entries []map[string]json.RawMessage
		if err := json.Unmarshal(v, &entries); err != nil {
			continue
		}
		for _, entry := range entries {
			if c := cleanText(firstString(entry, []string{"Comment", "comment", "Text", "text", "Body", "body"})); c != "" {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if c := cleanText(firstString(obj, []string{"Comment", "comment"})); c != "" {
		out = append(out, c)
	}
	return out
}

var (
	brRe  = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe = regexp.MustCompile(`<[^>]*>`)
)

// cleanText strips the HTML markup helpdesk comments arrive wrapped in.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	s = brRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}
