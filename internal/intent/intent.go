// Package intent classifies free-text customer messages.
//
// Two independent axes are produced for every message body:
//
//   - a topical bucket (greeting, pricing, hours, delivery, stock,
//     fallback) used to select a reply template, and
//   - an urgency bucket (HIGH, MEDIUM, LOW) used for prioritization and
//     notification.
//
// Classification is a pure function over the input: case-folded substring
// matching against fixed keyword lists, evaluated as an ordered rule table
// where the first matching bucket wins. There is no scoring and no state.
// The keyword data is French, matching the reference market.
package intent

import "strings"

// Topic is the subject-matter bucket used to pick a reply template.
type Topic string

// Topical buckets, in evaluation priority order.
const (
	TopicGreeting Topic = "greeting"
	TopicPricing  Topic = "pricing"
	TopicHours    Topic = "hours"
	TopicDelivery Topic = "delivery"
	TopicStock    Topic = "stock"
	TopicFallback Topic = "fallback"
)

// Urgency is the coarse purchase-urgency bucket.
type Urgency string

// Urgency buckets. HIGH implies transactional intent, MEDIUM soft
// interest, LOW everything else.
const (
	UrgencyHigh   Urgency = "HIGH"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyLow    Urgency = "LOW"
)

// rule pairs a predicate with the topic it selects. Rules are evaluated
// in order; the first match wins regardless of where the keyword occurs
// in the text.
type rule struct {
	match func(string) bool
	topic Topic
}

// containsAny reports whether text contains at least one of the keywords.
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func keywordRule(topic Topic, keywords ...string) rule {
	return rule{
		match: func(text string) bool { return containsAny(text, keywords) },
		topic: topic,
	}
}

// topicRules is the ordered rule table. Greeting is checked before
// pricing, before hours, before delivery, before stock; fallback is the
// default when nothing matches.
var topicRules = []rule{
	keywordRule(TopicGreeting, "bonjour", "salut", "bsr", "bonsoir"),
	keywordRule(TopicPricing, "prix", "menu", "carte", "tarif", "combien"),
	keywordRule(TopicHours, "ouvert", "horaire", "fermé", "ferme"),
	keywordRule(TopicDelivery, "livr", "command"),
	keywordRule(TopicStock, "dispo", "stock", "reste"),
}

// highKeywords imply transactional intent (buy/order/price/reserve/
// stock/delivery).
var highKeywords = []string{
	"acheter", "commander", "prendre", "veux", "prix", "combien",
	"réserver", "reserver", "booking", "disponible", "stock", "livraison",
}

// mediumKeywords imply soft interest.
var mediumKeywords = []string{
	"intéressé", "interesse", "peut-être", "peut-etre", "j'aime",
	"pourquoi", "comment", "info", "renseignement", "détail", "detail",
}

// ClassifyTopic maps a message body to its topical bucket. An empty or
// unmatched body yields TopicFallback.
func ClassifyTopic(body string) Topic {
	text := strings.ToLower(strings.TrimSpace(body))
	if text == "" {
		return TopicFallback
	}
	for _, r := range topicRules {
		if r.match(text) {
			return r.topic
		}
	}
	return TopicFallback
}

// ClassifyUrgency maps a message body to its urgency bucket. An empty or
// unmatched body yields UrgencyLow.
func ClassifyUrgency(body string) Urgency {
	text := strings.ToLower(strings.TrimSpace(body))
	if text == "" {
		return UrgencyLow
	}
	if containsAny(text, highKeywords) {
		return UrgencyHigh
	}
	if containsAny(text, mediumKeywords) {
		return UrgencyMedium
	}
	return UrgencyLow
}

// Classify runs both axes over the same body.
func Classify(body string) (Topic, Urgency) {
	return ClassifyTopic(body), ClassifyUrgency(body)
}
