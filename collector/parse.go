package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Shape is the inbound payload format a notification was recognized as.
type Shape string

const (
	// ShapeMarkdown is the Apprise relay form: {"title": ..., "message": "<markdown text>"}.
	ShapeMarkdown Shape = "markdown"
	// ShapeNative is the Planka native webhook form: {"event": ..., "data": {"item": {...}}}.
	ShapeNative  Shape = "native"
	ShapeUnknown Shape = "unknown"
)

const (
	defaultTitle       = "Notification"
	defaultNativeEvent = "unknown"
)

// DetectShape reports which payload format applies. "message" wins over "event".
func DetectShape(payload map[string]any) Shape {
	if _, ok := payload["message"]; ok {
		return ShapeMarkdown
	}
	if _, ok := payload["event"]; ok {
		return ShapeNative
	}
	return ShapeUnknown
}

// Parse decodes a webhook body and normalizes it. It fails only when the body
// is empty or not a JSON object; unrecognized content falls back to defaults.
func Parse(body []byte) (*Event, error) {
	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, &ValidationError{Reason: "no JSON payload"}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("body is not a JSON object: %v", err)}
	}
	if dec.More() {
		return nil, &ValidationError{Reason: "trailing data after JSON object"}
	}
	if payload == nil {
		return nil, &ValidationError{Reason: "no JSON payload"}
	}
	ev := ParsePayload(payload)
	ev.RawPayload = string(raw)
	return ev, nil
}

// ParsePayload normalizes an already decoded payload. RawPayload is left empty.
func ParsePayload(payload map[string]any) *Event {
	ev := newDefaultEvent()
	ev.Shape = DetectShape(payload)
	switch ev.Shape {
	case ShapeMarkdown:
		parseMarkdown(ev, payload)
	case ShapeNative:
		parseNative(ev, payload)
	}
	return ev
}

func parseMarkdown(ev *Event, payload map[string]any) {
	ev.EventType = stringOr(payload["title"], defaultTitle)
	msg, _ := payload["message"].(string)

	if user := firstToken(msg); user != "" {
		ev.UserName = user
	}
	if board, ok := boardSuffix(msg); ok {
		ev.BoardName = board
	}
	if label, id, ok := findCardLink(msg); ok {
		ev.ItemName = label
		ev.CardID = strPtr(id)
	} else if label, ok := findBracketLabel(msg); ok {
		ev.ItemName = label
	}
	if from, to, ok := findMove(msg); ok {
		ev.FromList = strPtr(from)
		ev.ToList = strPtr(to)
	}
}

func parseNative(ev *Event, payload map[string]any) {
	ev.EventType = stringOr(payload["event"], defaultNativeEvent)
	data, _ := payload["data"].(map[string]any)
	item, _ := data["item"].(map[string]any)
	ev.ItemName = scalarString(item["name"])
	ev.CardID = strPtr(scalarString(item["id"]))
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

// scalarString renders JSON scalars; objects, arrays and null become "".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func firstToken(s string) string {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i]
	}
	return s
}

// boardSuffix returns the text after the last " on ", up to end of string.
// The suffix must sit on the final line; one trailing line break is tolerated.
func boardSuffix(msg string) (string, bool) {
	s := strings.TrimSuffix(msg, "\n")
	i := strings.LastIndex(s, " on ")
	if i < 0 {
		return "", false
	}
	rest := s[i+len(" on "):]
	if strings.ContainsRune(rest, '\n') {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// findCardLink finds the first "[label](<url>/cards/<id>)" where label stops at
// the first "]" and id is a run of ASCII letters, digits and '-'.
func findCardLink(msg string) (label, id string, ok bool) {
	for start := 0; start < len(msg); start++ {
		if msg[start] != '[' {
			continue
		}
		end, found := closingBracket(msg, start+1)
		if !found {
			continue
		}
		if end+1 >= len(msg) || msg[end+1] != '(' {
			continue
		}
		if cardID, matched := cardURL(msg[end+2:]); matched {
			return msg[start+1 : end], cardID, true
		}
	}
	return "", "", false
}

// cardURL matches `<anything>/cards/<id>)` at the head of s, taking the
// earliest "/cards/" that is directly followed by an id and ")".
func cardURL(s string) (string, bool) {
	const marker = "/cards/"
	offset := 0
	for {
		i := strings.Index(s[offset:], marker)
		if i < 0 {
			return "", false
		}
		pos := offset + i
		if strings.ContainsRune(s[:pos], '\n') {
			return "", false
		}
		idStart := pos + len(marker)
		idEnd := idStart
		for idEnd < len(s) && isCardIDByte(s[idEnd]) {
			idEnd++
		}
		if idEnd > idStart && idEnd < len(s) && s[idEnd] == ')' {
			return s[idStart:idEnd], true
		}
		offset = pos + 1
	}
}

func isCardIDByte(b byte) bool {
	return b == '-' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// findBracketLabel finds the first "[label]" on a single line.
func findBracketLabel(msg string) (string, bool) {
	for start := 0; start < len(msg); start++ {
		if msg[start] != '[' {
			continue
		}
		if end, found := closingBracket(msg, start+1); found {
			return msg[start+1 : end], true
		}
	}
	return "", false
}

// closingBracket returns the index of the first ']' at or after from, unless a
// line break comes first.
func closingBracket(s string, from int) (int, bool) {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ']':
			return i, true
		case '\n':
			return 0, false
		}
	}
	return 0, false
}

// findMove extracts the list names of "from **A** to **B**". Each name ends at
// the first closing "**" that lets the whole phrase match, and neither may span
// a line break.
func findMove(msg string) (from, to string, ok bool) {
	const (
		open = "from **"
		mid  = "** to **"
		stop = "**"
	)
	offset := 0
	for {
		i := strings.Index(msg[offset:], open)
		if i < 0 {
			return "", "", false
		}
		aStart := offset + i + len(open)
		for aEnd := aStart; ; {
			j := strings.Index(msg[aEnd:], mid)
			if j < 0 {
				break
			}
			aEnd += j
			if strings.ContainsRune(msg[aStart:aEnd], '\n') {
				break
			}
			bStart := aEnd + len(mid)
			if k := strings.Index(msg[bStart:], stop); k >= 0 {
				if b := msg[bStart : bStart+k]; !strings.ContainsRune(b, '\n') {
					return msg[aStart:aEnd], b, true
				}
			}
			aEnd++
		}
		offset = offset + i + 1
	}
}

// firstParenURL returns the first "(http://...)" or "(https://...)" target.
func firstParenURL(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '(' {
			continue
		}
		rest := s[i+1:]
		var scheme string
		switch {
		case strings.HasPrefix(rest, "http://"):
			scheme = "http://"
		case strings.HasPrefix(rest, "https://"):
			scheme = "https://"
		default:
			continue
		}
		end := strings.IndexByte(rest, ')')
		if end > len(scheme) {
			return rest[:end], true
		}
	}
	return "", false
}
