package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/provider"
	"github.com/vthunder/memento/internal/types"
)

const extractionPrompt = `Extract structured features from this personal memory.

FIELDS:
- people: Individual people mentioned by name (not pronouns like "he", "she", "I")
- topics: Short lowercase topic tags (work, health, food, travel, family, money)
- commitments: Promises or obligations. owner is "self" when the speaker owes it,
  otherwise the name of the person who owes it. due is ISO date or a phrase like
  "friday" / "tomorrow". loop_type is "commitment" when the speaker owes,
  "waiting" when someone owes the speaker, "followup" otherwise.
- events: Dated happenings (meetings, dinners, flights). date is ISO or a phrase.
- sensitivities: Handle-with-care categories present in the text
  (health, relationship, loss, work, finance, mental-health)

IMPORTANT:
- Be conservative. Only extract what the text actually says.
- people is the most important field. Extract every person named.
- Do NOT invent dates. Omit due/date when the text gives none.

TEXT: "%s"

Return ONLY a JSON object matching the schema.

EXAMPLE for "Had lunch with Sarah, she mentioned she's allergic to shellfish. I'll send her that recipe by Friday":
{"people":["Sarah"],"topics":["food","health"],"commitments":[{"text":"send her that recipe","owner":"self","other_party":"Sarah","due":"friday","loop_type":"commitment"}],"events":[],"sensitivities":["health"]}

JSON:`

// extractionSchema constrains the model output in structured mode
var extractionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"people": {"type": "array", "items": {"type": "string"}},
		"topics": {"type": "array", "items": {"type": "string"}},
		"commitments": {"type": "array", "items": {
			"type": "object",
			"properties": {
				"text": {"type": "string"},
				"owner": {"type": "string"},
				"other_party": {"type": "string"},
				"due": {"type": "string"},
				"loop_type": {"type": "string"}
			},
			"required": ["text", "owner"]
		}},
		"events": {"type": "array", "items": {
			"type": "object",
			"properties": {
				"description": {"type": "string"},
				"person": {"type": "string"},
				"date": {"type": "string"},
				"category": {"type": "string"}
			},
			"required": ["description"]
		}},
		"sensitivities": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["people", "topics"]
}`)

// knownFields is everything the schema allows at the top level. Anything
// else the model emits is dropped and counted.
var knownFields = map[string]bool{
	"people": true, "topics": true, "commitments": true,
	"events": true, "sensitivities": true,
}

type rawCommitment struct {
	Text       string `json:"text"`
	Owner      string `json:"owner"`
	OtherParty string `json:"other_party"`
	Due        string `json:"due"`
	LoopType   string `json:"loop_type"`
}

type rawEvent struct {
	Description string `json:"description"`
	Person      string `json:"person"`
	Date        string `json:"date"`
	Category    string `json:"category"`
}

// llmExtract asks the model for features in structured mode. Any failure
// surfaces as an error so the caller can fall back to heuristics.
func llmExtract(ctx context.Context, llm provider.LLMProvider, text string, now time.Time) (types.Features, int, error) {
	var f types.Features

	if len(text) > 2000 {
		text = text[:2000] + "..."
	}
	prompt := fmt.Sprintf(extractionPrompt, text)

	raw, err := llm.CompleteStructured(ctx, prompt, extractionSchema)
	if err != nil {
		return f, 0, err
	}

	cleaned := cleanJSONResponse(string(raw))
	objStart := strings.Index(cleaned, "{")
	objEnd := strings.LastIndex(cleaned, "}")
	if objStart < 0 || objEnd <= objStart {
		return f, 0, fmt.Errorf("no JSON object in response")
	}
	cleaned = cleaned[objStart : objEnd+1]

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return f, 0, fmt.Errorf("failed to parse extraction: %w", err)
	}

	dropped := 0
	for key := range fields {
		if !knownFields[key] {
			dropped++
			logging.Debug("extract", "dropped unknown field %q", key)
		}
	}

	decodeStrings(fields["people"], &f.People)
	decodeStrings(fields["topics"], &f.Topics)
	decodeStrings(fields["sensitivities"], &f.Sensitivities)

	var rawCommits []rawCommitment
	if b, ok := fields["commitments"]; ok {
		_ = json.Unmarshal(b, &rawCommits)
	}
	for _, rc := range rawCommits {
		if strings.TrimSpace(rc.Text) == "" {
			continue
		}
		c := types.Commitment{
			Text:       strings.TrimSpace(rc.Text),
			Owner:      strings.TrimSpace(rc.Owner),
			OtherParty: strings.TrimSpace(rc.OtherParty),
			LoopType:   strings.TrimSpace(rc.LoopType),
		}
		if c.Owner == "" {
			c.Owner = "self"
		}
		if c.LoopType == "" {
			if c.Owner == "self" {
				c.LoopType = "commitment"
			} else {
				c.LoopType = "waiting"
			}
		}
		if rc.Due != "" {
			c.DueDate = parseDuePhrase(rc.Due, now)
		}
		f.Commitments = append(f.Commitments, c)
	}

	var rawEvents []rawEvent
	if b, ok := fields["events"]; ok {
		_ = json.Unmarshal(b, &rawEvents)
	}
	for _, re := range rawEvents {
		if strings.TrimSpace(re.Description) == "" || re.Date == "" {
			continue
		}
		date := parseDuePhrase(re.Date, now)
		if date == nil {
			continue
		}
		category := strings.ToLower(strings.TrimSpace(re.Category))
		if category == "" {
			category = "meeting"
		}
		f.Events = append(f.Events, types.EventMention{
			Description: strings.TrimSpace(re.Description),
			Person:      strings.TrimSpace(re.Person),
			Date:        *date,
			Category:    category,
		})
	}

	f.People = dedupeFold(f.People)
	f.Topics = lowerAll(dedupeFold(f.Topics))
	f.Sensitivities = lowerAll(dedupeFold(f.Sensitivities))
	return f, dropped, nil
}

func decodeStrings(b json.RawMessage, dst *[]string) {
	if b == nil {
		return
	}
	var ss []string
	if err := json.Unmarshal(b, &ss); err != nil {
		return
	}
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			*dst = append(*dst, s)
		}
	}
}

func lowerAll(ss []string) []string {
	for i, s := range ss {
		ss[i] = strings.ToLower(s)
	}
	return ss
}

// cleanJSONResponse strips markdown fences and whitespace from LLM responses
func cleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}
	return response
}
