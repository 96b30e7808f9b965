// Package faq holds the BoostNutri+ product FAQ and the get_faq tool the
// chatbot uses to search it.
package faq

import (
	"context"
	"strings"

	"github.com/dshills/stategraph/graph/tool"
)

// ToolName is the name the model calls.
const ToolName = "get_faq"

// NoMatch is returned when no answer contains any search word.
const NoMatch = "No relevant information found."

// ErrNoSearchWords is the message for an empty search list.
const ErrNoSearchWords = "Atleast one search word is required."

// Entry is one question and its answer.
type Entry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Entries is the product FAQ, in display order.
var Entries = []Entry{
	{
		Question: "What is BoostNutri+?",
		Answer:   "BoostNutri+ is a plant-based nutritional supplement designed to support energy, immunity, and overall wellness. It combines essential vitamins, minerals, and organic superfoods.",
	},
	{
		Question: "What are the key ingredients in BoostNutri+?",
		Answer:   "BoostNutri+ contains organic spirulina, ashwagandha, turmeric, green tea extract, Vitamin B12, Vitamin D3, and magnesium.",
	},
	{
		Question: "Is BoostNutri+ suitable for vegans?",
		Answer:   "Yes, BoostNutri+ is 100% vegan, gluten-free, and non-GMO. It contains no animal-derived ingredients.",
	},
	{
		Question: "What package sizes are available for BoostNutri+?",
		Answer:   "BoostNutri+ is available in 30-serving (300g), 60-serving (600g), and 90-serving (900g) packages.",
	},
	{
		Question: "How much does BoostNutri+ cost?",
		Answer:   "The 30-serving package is priced at $29.99, 60-serving at $49.99, and 90-serving at $69.99.",
	},
	{
		Question: "How do I use BoostNutri+?",
		Answer:   "Mix one scoop (10g) of BoostNutri+ with water, juice, or a smoothie once daily, preferably in the morning.",
	},
	{
		Question: "Can children use BoostNutri+?",
		Answer:   "BoostNutri+ is formulated for adults. Please consult a pediatrician before giving it to children under 12.",
	},
	{
		Question: "Does BoostNutri+ contain caffeine?",
		Answer:   "Yes, it contains a small amount of natural caffeine (40mg per serving) from green tea extract.",
	},
	{
		Question: "Where is BoostNutri+ manufactured?",
		Answer:   "BoostNutri+ is manufactured in the USA in an FDA-registered, GMP-certified facility.",
	},
	{
		Question: "How should I store BoostNutri+?",
		Answer:   "Store in a cool, dry place away from direct sunlight. Reseal the package tightly after each use.",
	},
}

// Search returns the answers containing any of words, case-insensitively,
// one per line in FAQ order. Blank words are ignored.
func Search(entries []Entry, words []string) string {
	var terms []string
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			terms = append(terms, w)
		}
	}

	var matches []string
	for _, e := range entries {
		answer := strings.ToLower(e.Answer)
		for _, term := range terms {
			if strings.Contains(answer, term) {
				matches = append(matches, e.Answer)
				break
			}
		}
	}
	if len(matches) == 0 {
		return NoMatch
	}
	return strings.Join(matches, "\n")
}

// Args is the get_faq argument object.
type Args struct {
	SearchWordList []string `json:"search_word_list"`
}

// Schema describes Args for the model and for argument validation.
var Schema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"search_word_list": map[string]interface{}{
			"type":        "array",
			"description": "Keywords to look for in the FAQ answers, e.g. [\"package\", \"price\"]",
			"items":       map[string]interface{}{"type": "string"},
		},
	},
	"required": []interface{}{"search_word_list"},
}

// Tool returns the get_faq tool over entries.
func Tool(entries []Entry) tool.Tool {
	return tool.Typed(ToolName,
		"Look up BoostNutri+ product information. Pass the important words of the customer's question.",
		Schema,
		func(_ context.Context, args Args) (string, error) {
			if len(args.SearchWordList) == 0 {
				return "", &tool.ToolArgumentError{Message: ErrNoSearchWords}
			}
			return Search(entries, args.SearchWordList), nil
		})
}

// SystemPrompt instructs the model to answer from the FAQ only.
const SystemPrompt = `You are a customer support assistant for BoostNutri+, a plant-based nutritional supplement.
Answer questions using the get_faq tool. Call it with the key words of the question.
If the tool finds nothing relevant, say you do not know and suggest contacting support.
Keep answers short and friendly.`
