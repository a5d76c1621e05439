package core

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"autogenius.dev/car-diagnostics/internal/store"
)

const (
	FallbackDifficulties = "I'm having technical difficulties. Please try again later."
	FallbackError        = "I encountered a technical error. Please describe your vehicle issue."

	CreatorBiography = "I am AutoGenius, an expert automotive diagnostic assistant built by Zia Ul Din, a data analyst and AI developer " +
		"currently pursuing a BS in Business Analytics at International Islamic University Islamabad. Zia specializes in data analytics, " +
		"machine learning, NLP, and AI-driven solutions, with hands-on experience developing predictive models, interactive dashboards, " +
		"and chatbots using Python, SQL, Power BI, Flask, Gradio, and LLMs. His notable projects include AI Auto Workshop (AI-powered " +
		"vehicle diagnostics and repair cost estimation), geospatial market analysis, and AI voice chatbot applications. " +
		"How can I help with your vehicle today?"

	systemInstruction = "You are AutoGenius, an expert automotive diagnostic assistant. " +
		"Your ONLY purpose is to help diagnose and repair vehicles. " +
		"Rules you MUST follow:\n" +
		"1. Always remember and reference the specific vehicle being discussed\n" +
		"2. Only respond to automotive-related questions\n" +
		"3. Reject all other topics with: \"I specialize in automotive diagnostics only\"\n" +
		"4. Be technical but clear in explanations\n" +
		"5. Provide concise, numbered steps when appropriate\n" +
		"6. Never use special formatting or characters (e.g., **, *, etc.)\n" +
		"7. Use numbered lists (e.g., 1., 2., etc.) for bullet points\n" +
		"8. When asked about the vehicle, always respond with its full details\n" +
		"9. Don't give recommended products every time you respond. Give them when the user asks for recommendations\n"

	vehicleContextPrefix = "Current Vehicle: "
)

// DiagnosisSampling is fixed: deterministic output, capped length.
var DiagnosisSampling = Sampling{Temperature: 0, TopP: 0.9, MaxTokens: 1024}

var (
	creatorTriggers = []string{
		"zia", "who are you", "who built you", "who created you", "who made you",
	}
	vehicleTriggers = []string{
		"what car", "which car", "what vehicle", "which vehicle",
		"what am i driving", "what's my car", "what is my car",
	}
)

// overrideRule answers the latest user message without calling the model.
type overrideRule struct {
	name    string
	matches func(query string) bool
	answer  func(vehicle store.Vehicle) string
}

func containsAny(query string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(query, p) {
			return true
		}
	}
	return false
}

// Rules are evaluated in order; the first match wins.
var defaultRules = []overrideRule{
	{
		name:    "creator",
		matches: func(q string) bool { return containsAny(q, creatorTriggers) },
		answer:  func(store.Vehicle) string { return CreatorBiography },
	},
	{
		name:    "vehicle",
		matches: func(q string) bool { return containsAny(q, vehicleTriggers) },
		answer: func(v store.Vehicle) string {
			return "You have a " + v.String() + ". How can I help with your vehicle today?"
		},
	},
}

// Responder produces the assistant's diagnosis text. It never returns an error:
// failures turn into fixed fallback replies.
type Responder struct {
	client  CompletionClient
	initErr error
	rules   []overrideRule
}

// NewResponder wraps client. initErr is the error, if any, from building the client.
func NewResponder(client CompletionClient, initErr error) *Responder {
	if client == nil && initErr == nil {
		initErr = errNoAPIKey
	}
	return &Responder{client: client, initErr: initErr, rules: defaultRules}
}

// Respond answers the last user message in history for the given vehicle.
func (r *Responder) Respond(ctx context.Context, history []ChatMessage, vehicle store.Vehicle) string {
	query := strings.ToLower(lastUserMessage(history))
	for _, rule := range r.rules {
		if rule.matches(query) {
			log.Debugf("Responder override %q matched", rule.name)
			return rule.answer(vehicle)
		}
	}

	if r.client == nil {
		log.Warnf("Completion client unavailable: %v", r.initErr)
		return FallbackDifficulties
	}

	response, err := r.client.Complete(ctx, BuildPrompt(history, vehicle), DiagnosisSampling)
	if err != nil {
		log.Errorf("Error in diagnosis completion: %v", err)
		return FallbackError
	}
	return strings.ReplaceAll(response, "**", "")
}

// BuildPrompt puts the persona and vehicle instructions in front of the conversation,
// leaving out earlier vehicle-context system messages.
func BuildPrompt(history []ChatMessage, vehicle store.Vehicle) []ChatMessage {
	prompt := make([]ChatMessage, 0, len(history)+2)
	prompt = append(prompt,
		ChatMessage{Role: store.RoleSystem, Content: systemInstruction},
		ChatMessage{Role: store.RoleSystem, Content: vehicleContextPrefix + vehicle.String() +
			"\nAll responses must be specific to this vehicle unless otherwise noted."},
	)
	for _, m := range history {
		if isVehicleContext(m) {
			continue
		}
		prompt = append(prompt, m)
	}
	return prompt
}

func isVehicleContext(m ChatMessage) bool {
	if m.Role != store.RoleSystem {
		return false
	}
	return strings.HasPrefix(m.Content, "Vehicle: ") || strings.Contains(m.Content, vehicleContextPrefix)
}

func lastUserMessage(history []ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == store.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
