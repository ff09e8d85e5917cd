package intent

import (
	"fmt"
	"strings"

	"github.com/ent0n29/agentos/internal/tasks"
)

const DefaultHistoryTurns = 3

// SystemPrompt instructs the model to answer with a task payload Parse accepts.
const SystemPrompt = `You are the intent understanding engine of a task-driven assistant.

Convert the user's request into a single task JSON object.

## Output format

Respond with valid JSON only. No explanations, no markdown.

{
  "intent": {"domain": "<domain>", "action": "<action>", "confidence": <0.0-1.0>},
  "slots": {
    "<slot_name>": {
      "name": "<slot_name>",
      "type": "<slot_type>",
      "required": true|false,
      "value": <extracted value or null>,
      "resolved": true|false
    }
  }
}

## Domains and actions

- messaging: send_text, send_media, start_call, video_call
- notes: create, create_table, edit, delete, search
- transport: book_ride, get_directions, check_eta
- calendar: create_event, check_schedule, set_reminder
- media: play_music, take_photo, share
- settings: change_setting, toggle_feature
- apps: open_app, install_app, uninstall_app
- contacts: add_contact, find_contact, call_contact
- web: search, open_url

## Slot types

string, number, boolean, contact, contacts, media, location, address, date, datetime, currency, enum, object, array

## Rules

1. Extract as much information as the input provides.
2. Set "resolved": true only when the value is stated explicitly.
3. Use "value": null when the information is absent.
4. Use a confidence below 0.7 when the intent is ambiguous.
5. Always include required slots, resolved or not.

## Examples

User: "Send hi to mom"
{"intent": {"domain": "messaging", "action": "send_text", "confidence": 0.95},
 "slots": {
  "recipient": {"name": "recipient", "type": "contact", "required": true, "value": "mom", "resolved": true},
  "message": {"name": "message", "type": "string", "required": true, "value": "hi", "resolved": true},
  "app": {"name": "app", "type": "string", "required": false, "value": null, "resolved": false}}}

User: "Book a cab"
{"intent": {"domain": "transport", "action": "book_ride", "confidence": 0.9},
 "slots": {
  "destination": {"name": "destination", "type": "address", "required": true, "value": null, "resolved": false},
  "pickup": {"name": "pickup", "type": "address", "required": false, "value": null, "resolved": false},
  "ride_type": {"name": "ride_type", "type": "enum", "required": false, "value": null, "resolved": false}}}`

// UserPrompt frames the current input together with the last maxTurns turns
// of conversation. maxTurns <= 0 uses DefaultHistoryTurns.
func UserPrompt(input string, history []tasks.ConversationTurn, maxTurns int) string {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, strings.TrimSpace(turn.Content))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current user input: %q\n\nParse this into a task JSON object.", strings.TrimSpace(input))
	return b.String()
}

func SlotQuestionPrompt(taskSummary string, slot tasks.Slot) string {
	var b strings.Builder
	b.WriteString("Write one short, natural question asking the user for missing information.\n\n")
	fmt.Fprintf(&b, "Task: %s\nMissing: %s\nType: %s\n", taskSummary, slot.Name, slot.Type)
	if slot.Description != "" {
		fmt.Fprintf(&b, "Meaning: %s\n", slot.Description)
	}
	b.WriteString("\nKeep it brief and conversational. Do not say \"slot\".\nRespond with the question only.")
	return b.String()
}

func ConfirmationPrompt(taskSummary string) string {
	return "Write a short confirmation message for the user.\n\n" +
		"Task: " + taskSummary + "\n\n" +
		"Summarize what will be done in under 50 words and end by asking for confirmation.\n" +
		"Respond with the message only."
}

func CompletionPrompt(taskSummary string, success bool, failure string) string {
	var b strings.Builder
	b.WriteString("Write a short completion message for the user.\n\n")
	fmt.Fprintf(&b, "Task: %s\nSuccess: %t\n", taskSummary, success)
	if !success && failure != "" {
		fmt.Fprintf(&b, "Failure: %s\n", failure)
	}
	b.WriteString("\nOn success confirm what was done. On failure explain briefly and suggest a next step.\n")
	b.WriteString("Keep it under 30 words. Respond with the message only.")
	return b.String()
}
