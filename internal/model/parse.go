package model

import (
	"encoding/json"
	"strings"
)

// ExtractJSONBlock finds the outermost {...} span in model output and
// unmarshals it. Models frequently wrap the payload in prose or markdown
// fences, so the scan is positional rather than requiring clean JSON.
// Returns nil when no parseable block exists.
func ExtractJSONBlock(text string) map[string]any {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil
	}
	return out
}

// ParseAgentReply interprets raw model output as either a decline or a
// structured brief. The three outcomes map onto AgentResponse as:
//
//	declined == true            -> StatusDeclined with the stated reason
//	brief != nil                -> StatusSucceeded with a vote
//	declined == false, brief nil -> StatusSucceeded, unparsed (no vote)
func ParseAgentReply(raw string) (brief *Brief, declined bool, reason string) {
	payload := ExtractJSONBlock(raw)
	if payload == nil {
		return nil, false, ""
	}
	if d, ok := payload["declined"].(bool); ok && d {
		reason, _ = payload["reason"].(string)
		if reason == "" {
			reason = "no reason given"
		}
		return nil, true, reason
	}

	b := &Brief{}
	b.Analysis, _ = payload["analysis"].(string)
	b.Recommendation, _ = payload["recommendation"].(string)

	prob, okP := toFloat(payload["probability"])
	conf, okC := toFloat(payload["confidence"])
	if !okP && !okC && b.Analysis == "" {
		// A JSON block with none of the expected keys is noise, not a brief.
		return nil, false, ""
	}
	if okP {
		b.Probability = clamp01(prob)
	} else {
		b.Probability = 0.5
	}
	if okC {
		b.Confidence = clamp01(conf)
	} else {
		b.Confidence = 0.5
	}
	return b, false, ""
}

// ParseVerdict interprets synthesizer output. ok is false when the text has
// no verdict payload and the caller should fall back to consensus numbers.
func ParseVerdict(raw string) (Verdict, bool) {
	payload := ExtractJSONBlock(raw)
	if payload == nil {
		return Verdict{}, false
	}
	text, _ := payload["verdict"].(string)
	if text == "" {
		return Verdict{}, false
	}
	v := Verdict{Text: text}
	v.Rationale, _ = payload["rationale"].(string)
	if p, ok := toFloat(payload["probability"]); ok {
		v.Probability = clamp01(p)
	}
	if c, ok := toFloat(payload["confidence"]); ok {
		v.Confidence = clamp01(c)
	}
	return v, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
