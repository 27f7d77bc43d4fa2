package sanitize

import (
	"encoding/json"

	"github.com/opencode-studio/gateway/internal/model"
)

// Event is a decoded upstream SSE block: { type, properties }.
type Event struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

// eventSanitizers routes known event types to a dedicated rewrite function.
// message.updated is registered but its properties are forwarded unchanged;
// no error summary is projected from them. Unknown types pass through
// unchanged, satisfying the idempotence and round-trip properties required
// of the sanitizer as a whole.
var eventSanitizers = map[string]func(map[string]interface{}, Settings) map[string]interface{}{
	"message.part.updated": sanitizePartUpdatedProps,
	"message.updated":      sanitizeMessageUpdatedProps,
	"session.updated":      sanitizeSessionUpdatedProps,
}

// SanitizeEvent applies the whitelist rewrite for ev.Type, or returns ev
// unchanged if no dedicated sanitizer is registered for it. It never
// reports "drop" for unrecognized shapes -- callers decide whether to
// forward based on JSON validity.
func SanitizeEvent(ev Event, s Settings) Event {
	fn, ok := eventSanitizers[ev.Type]
	if !ok {
		return ev
	}
	return Event{Type: ev.Type, Properties: fn(ev.Properties, s)}
}

func sanitizePartUpdatedProps(props map[string]interface{}, s Settings) map[string]interface{} {
	partRaw, ok := props["part"]
	if !ok {
		return props
	}
	part, ok := decodePart(partRaw)
	if !ok {
		return props
	}
	if !KeepPart(part, s) {
		out := map[string]interface{}{}
		for k, v := range props {
			if k != "part" {
				out[k] = v
			}
		}
		out["dropped"] = true
		return out
	}
	narrowed := Part(part, s)
	out := map[string]interface{}{}
	for k, v := range props {
		out[k] = v
	}
	out["part"] = narrowed
	return out
}

func sanitizeMessageUpdatedProps(props map[string]interface{}, s Settings) map[string]interface{} {
	return props
}

func sanitizeSessionUpdatedProps(props map[string]interface{}, s Settings) map[string]interface{} {
	info, ok := props["info"].(map[string]interface{})
	if !ok {
		return props
	}
	summary, ok := SessionFromValue(info)
	if !ok {
		return props
	}
	out := map[string]interface{}{}
	for k, v := range props {
		out[k] = v
	}
	out["info"] = summary
	return out
}

func decodePart(v interface{}) (model.Part, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return model.Part{}, false
	}
	var p model.Part
	if err := json.Unmarshal(b, &p); err != nil {
		return model.Part{}, false
	}
	return p, true
}
