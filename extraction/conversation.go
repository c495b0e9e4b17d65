package extraction

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultPageChars is the pseudo-page length, in characters, for conversation and document text.
const DefaultPageChars = 2500

// RoleFilter restricts which messages contribute to conversation text.
type RoleFilter string

const (
	RolesBoth      RoleFilter = "both"
	RolesUser      RoleFilter = "user"
	RolesAssistant RoleFilter = "assistant"
)

// ParseRoleFilter maps a config value to a RoleFilter. Empty means both.
func ParseRoleFilter(s string) (RoleFilter, error) {
	switch RoleFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", RolesBoth, "all":
		return RolesBoth, nil
	case RolesUser:
		return RolesUser, nil
	case RolesAssistant:
		return RolesAssistant, nil
	}
	return "", eris.Errorf("ParseRoleFilter: unknown role filter %q (want both|user|assistant)", s)
}

func (f RoleFilter) allows(role string) bool {
	switch f {
	case RolesUser, RolesAssistant:
		return strings.EqualFold(role, string(f))
	}
	return true
}

// ConversationOptions controls how a conversations export is flattened.
type ConversationOptions struct {
	// ArrayField names the field holding the conversations array when the export's
	// top-level value is an object. Empty means the first array-valued field.
	ArrayField string

	// Roles filters messages before they are joined.
	Roles RoleFilter
}

// streamConversations walks a conversations export and calls fn once per element of
// the conversations array. The export is either a top-level array or an object holding one.
func streamConversations(ctx context.Context, r io.Reader, opts ConversationOptions, fn func(raw json.RawMessage) error) error {
	// Exports are usually one very long line.
	dec := json.NewDecoder(bufio.NewReaderSize(r, 1<<20))

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "streamConversations: read first token")
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return eris.Errorf("streamConversations: expected JSON array/object, got %T", tok)
	}

	switch delim {
	case '[':
		if err := eachArrayElement(ctx, dec, fn); err != nil {
			return err
		}
		return expectDelim(dec, ']')
	case '{':
		foundArray := false
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keyTok, err := dec.Token()
			if err != nil {
				return eris.Wrap(err, "streamConversations: read object key")
			}
			key, ok := keyTok.(string)
			if !ok {
				return eris.Errorf("streamConversations: expected string key, got %T", keyTok)
			}
			valTok, err := dec.Token()
			if err != nil {
				return eris.Wrapf(err, "streamConversations: read value for key %q", key)
			}

			d, isArray := valTok.(json.Delim)
			isArray = isArray && d == '['
			isTarget := isArray && !foundArray && (opts.ArrayField == "" || key == opts.ArrayField)
			if isTarget {
				foundArray = true
				if err := eachArrayElement(ctx, dec, fn); err != nil {
					return err
				}
				if err := expectDelim(dec, ']'); err != nil {
					return err
				}
				continue
			}
			if err := skipValue(dec, valTok); err != nil {
				return eris.Wrapf(err, "streamConversations: skip key %q", key)
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		if !foundArray {
			return eris.New("streamConversations: no conversations array found in top-level object")
		}
		return nil
	}
	return eris.Errorf("streamConversations: unsupported top-level delimiter %q", delim)
}

func eachArrayElement(ctx context.Context, dec *json.Decoder, fn func(raw json.RawMessage) error) error {
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return eris.Wrap(err, "streamConversations: decode conversation element")
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrapf(err, "streamConversations: read closing %q", want)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return eris.Errorf("streamConversations: expected closing %q, got %v", want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder, first json.Token) error {
	d, ok := first.(json.Delim)
	if !ok {
		// Primitive: already consumed.
		return nil
	}
	if d != '{' && d != '[' {
		return eris.Errorf("skipValue: unexpected delimiter %q", d)
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if dd, ok := tok.(json.Delim); ok {
			switch dd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// ConversationText flattens one conversation into "[CONV: title]\n" followed by
// "ROLE: text" blocks separated by blank lines. position is the 1-based position of the
// conversation in its export and names untitled conversations. ok is false when no
// message contributed text. Malformed fields are treated as absent.
func ConversationText(raw json.RawMessage, position int, roles RoleFilter) (text string, title string, ok bool) {
	var conv map[string]json.RawMessage
	if err := json.Unmarshal(raw, &conv); err != nil {
		return "", "", false
	}

	title = stringField(conv, "title")
	if title == "" {
		title = fmt.Sprintf("Conversation %d", position)
	}

	blocks := mappingBlocks(conv["mapping"], roles)
	if len(blocks) == 0 {
		blocks = flatMessageBlocks(conv["messages"], roles)
	}
	if len(blocks) == 0 {
		return "", title, false
	}
	return "[CONV: " + title + "]\n" + strings.Join(blocks, "\n\n"), title, true
}

// mappingBlocks orders the message graph by create_time (missing sorts as 0, ties keep
// document order) and renders each message that yields text.
func mappingBlocks(raw json.RawMessage, roles RoleFilter) []string {
	if len(raw) == 0 {
		return nil
	}
	mapping := orderedmap.New[string, json.RawMessage]()
	if err := mapping.UnmarshalJSON(raw); err != nil || mapping.Len() == 0 {
		return nil
	}

	type timedMessage struct {
		at  float64
		msg map[string]any
	}
	msgs := make([]timedMessage, 0, mapping.Len())
	for pair := mapping.Oldest(); pair != nil; pair = pair.Next() {
		var node struct {
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(pair.Value, &node); err != nil {
			continue
		}
		var msg map[string]any
		if len(node.Message) > 0 {
			_ = json.Unmarshal(node.Message, &msg)
		}
		at, _ := msg["create_time"].(float64)
		msgs = append(msgs, timedMessage{at: at, msg: msg})
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].at < msgs[j].at })

	var blocks []string
	for _, m := range msgs {
		role := ""
		if author, ok := m.msg["author"].(map[string]any); ok {
			role, _ = author["role"].(string)
		}
		if b, ok := renderMessage(role, m.msg, roles); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func flatMessageBlocks(raw json.RawMessage, roles RoleFilter) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	var blocks []string
	for _, item := range list {
		msg, _ := item.(map[string]any)
		role, _ := msg["role"].(string)
		if b, ok := renderMessage(role, msg, roles); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func renderMessage(role string, msg map[string]any, roles RoleFilter) (string, bool) {
	role = strings.TrimSpace(role)
	if role == "" {
		role = "unknown"
	}
	if !roles.allows(role) {
		return "", false
	}
	text := MessageText(msg)
	if text == "" {
		return "", false
	}
	return strings.ToUpper(role) + ": " + text, true
}

// contentStrategies are tried in order; the first non-blank result wins.
var contentStrategies = []func(msg map[string]any) string{
	contentParts,
	contentScalarText,
	contentTextObjects,
	contentItems,
	messageText,
	messageParts,
}

// MessageText extracts the text of one export message. It never fails; a message with
// no recognizable text yields "".
func MessageText(msg map[string]any) string {
	if msg == nil {
		return ""
	}
	for _, strategy := range contentStrategies {
		if t := strategy(msg); strings.TrimSpace(t) != "" {
			return t
		}
	}
	return ""
}

func contentParts(msg map[string]any) string {
	content, _ := msg["content"].(map[string]any)
	return joinStrings(content["parts"])
}

func contentScalarText(msg map[string]any) string {
	content, _ := msg["content"].(map[string]any)
	s, _ := content["text"].(string)
	return s
}

func contentTextObjects(msg map[string]any) string {
	content, _ := msg["content"].(map[string]any)
	items, _ := content["text"].([]any)
	var out []string
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, firstString(obj, "value", "text"))
	}
	return strings.Join(out, "\n")
}

func contentItems(msg map[string]any) string {
	items, _ := msg["content"].([]any)
	var out []string
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			out = append(out, firstString(v, "text", "value"))
		}
	}
	return strings.Join(out, "\n")
}

func messageText(msg map[string]any) string {
	s, _ := msg["text"].(string)
	return s
}

func messageParts(msg map[string]any) string {
	return joinStrings(msg["parts"])
}

func joinStrings(v any) string {
	list, _ := v.([]any)
	var out []string
	for _, p := range list {
		if s, ok := p.(string); ok {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// SplitPseudoPages cuts text into consecutive slices of size characters. The last slice
// may be shorter. Empty or whitespace-only text yields no pages.
func SplitPseudoPages(text string, size int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultPageChars
	}
	runes := []rune(text)
	pages := make([]string, 0, len(runes)/size+1)
	for off := 0; off < len(runes); off += size {
		end := off + size
		if end > len(runes) {
			end = len(runes)
		}
		pages = append(pages, string(runes[off:end]))
	}
	return pages
}
