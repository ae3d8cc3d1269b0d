package generate

import (
	"math/rand"
	"strings"
)

// Fixed replies returned by the engine.
const (
	ReplyEmptyInput = "I didn't catch that. Could you please repeat?"
	ReplyError      = "I apologize, but I encountered an error. Please try again."
	ReplyNoResponse = "I'm not sure how to respond to that."
)

type keywordReply struct {
	keywords []string
	reply    string
}

// keywordReplies are checked in order; the first group with a match wins.
var keywordReplies = []keywordReply{
	{
		keywords: []string{"hello", "hi", "hey"},
		reply:    "Hello! I'm your personal AI assistant. How can I help you today?",
	},
	{
		keywords: []string{"how are you", "how do you feel"},
		reply:    "I'm doing well, thank you for asking! I'm here and ready to help.",
	},
	{
		keywords: []string{"what can you do", "help", "capabilities"},
		reply:    "I'm currently in development, but I'm designed to be your personal AI assistant. I can chat with you and help with various tasks as I continue to learn!",
	},
}

// developmentReplies are used when no keyword matches.
var developmentReplies = []string{
	"I'm currently in development mode. How can I help you today?",
	"I'm learning and growing! What would you like to discuss?",
	"I'm here to assist you. What's on your mind?",
	"Thank you for your patience as I develop my capabilities.",
}

// fallbackResponse answers without a model. pick returns an index in [0, n).
// Keywords match anywhere in the lowercased input, so "hiya" greets.
func fallbackResponse(input string, pick func(n int) int) string {
	lower := strings.ToLower(input)
	for _, kr := range keywordReplies {
		for _, kw := range kr.keywords {
			if strings.Contains(lower, kw) {
				return kr.reply
			}
		}
	}

	if pick == nil {
		pick = rand.Intn
	}
	return developmentReplies[pick(len(developmentReplies))]
}
