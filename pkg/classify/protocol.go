package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// NoMatch is the selected_id that declines every rule.
const NoMatch = "none"

// SystemPrompt frames every classification request.
const SystemPrompt = "You are a precise visual data sorter. Your job is to analyze an image and match it to a specific category."

// ErrNoJSON indicates a response with nothing that parses as the expected
// object.
var ErrNoJSON = errors.New("response is not a JSON object")

// Rule is one category an image may be sorted into.
type Rule struct {
	// ID is the identifier the model answers with. Unique within a batch.
	ID string
	// FolderName is the subdirectory matched images move to.
	FolderName string
	// Prompt is the free-text description of the category.
	Prompt string
}

// Response is the object the model is asked to produce. SelectedID is
// required for a match; the other fields are informational.
type Response struct {
	Description string  `json:"description"`
	Reasoning   string  `json:"reasoning"`
	SelectedID  *RuleID `json:"selected_id"`
}

// RuleID is a selected_id value. It accepts a JSON string or number, since
// models sometimes answer a numeric id without quotes.
type RuleID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *RuleID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*id = RuleID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("selected_id must be a string or number, got %s", data)
	}
	*id = RuleID(num.String())
	return nil
}

// UserPrompt builds the describe-then-classify instructions for rules.
func UserPrompt(rules []Rule) string {
	var b strings.Builder
	b.WriteString("<instructions>\n")
	b.WriteString("1. First, describe the main subject of the image in detail.\n")
	b.WriteString("   - If it is a character, describe their hair color, clothes, and distinctive features (tattoos, weapons, etc).\n")
	b.WriteString("2. Then, compare your description to the list of Target Categories below.\n")
	b.WriteString("3. If a prompt is a specific name (e.g. \"Jinx\", \"Goku\"), use your knowledge to identify if the character matches that name.\n")
	b.WriteString("4. Select the best matching ID. If the image does not fit any category confidently, select 'none'.\n")
	b.WriteString("</instructions>\n\n")
	b.WriteString("<target_categories>\n")
	for _, rule := range rules {
		fmt.Fprintf(&b, "- ID '%s': %s\n", rule.ID, rule.Prompt)
	}
	b.WriteString("</target_categories>\n\n")
	b.WriteString("Response Format (JSON Only):\n")
	b.WriteString("{\n")
	b.WriteString("    \"description\": \"Brief description of what you see...\",\n")
	b.WriteString("    \"reasoning\": \"Why it matches or does not match...\",\n")
	b.WriteString("    \"selected_id\": \"ID_OR_NONE\"\n")
	b.WriteString("}\n")
	return b.String()
}

// fencedJSON matches a ```json fenced block.
var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// Extract isolates the JSON object in a model reply. A ```json fenced block
// wins; otherwise the text from the first '{' to the last '}' is used. If
// neither is present the trimmed reply is returned unchanged.
func Extract(reply string) string {
	if m := fencedJSON.FindStringSubmatch(reply); m != nil {
		return m[1]
	}
	start, end := strings.Index(reply, "{"), strings.LastIndex(reply, "}")
	if start != -1 && end > start {
		return reply[start : end+1]
	}
	return strings.TrimSpace(reply)
}

// ParseResponse decodes an extracted reply.
func ParseResponse(text string) (Response, error) {
	var resp Response
	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		return resp, ErrNoJSON
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrNoJSON, err)
	}
	return resp, nil
}

// Select resolves the response against rules. A missing id, "none" and ids
// that name no rule select nothing. Ids compare case-insensitively after
// trimming.
func (r Response) Select(rules []Rule) *Rule {
	if r.SelectedID == nil {
		return nil
	}
	id := strings.TrimSpace(string(*r.SelectedID))
	if id == "" || strings.EqualFold(id, NoMatch) {
		return nil
	}
	for i := range rules {
		if strings.EqualFold(strings.TrimSpace(rules[i].ID), id) {
			rule := rules[i]
			return &rule
		}
	}
	return nil
}
