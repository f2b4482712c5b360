// Package reply renders the canned auto-reply for a classified message.
//
// Given the topical bucket and the tenant's knowledge-base items, the
// generator produces the reply text together with a confidence score in
// [0,1] and a should-reply flag. The reference behavior always replied;
// here the suppression threshold is an explicit configuration value so
// low-confidence messages can be left for a human instead.
package reply

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/intent"
)

// Reply is the generated auto-reply artifact. It is not persisted on its
// own; the dispatcher records it as an outbound message plus an event.
type Reply struct {
	Text        string
	Confidence  float64
	ShouldReply bool
}

// Reference confidence per topical bucket.
const (
	confGreeting     = 0.95
	confPricing      = 0.90
	confPricingEmpty = 0.65
	confHours        = 0.95
	confDelivery     = 0.90
	confStock        = 0.85
	confFallback     = 0.60
)

// maxListedItems caps the number of knowledge-base items rendered in a
// pricing reply.
const maxListedItems = 5

// Generator renders replies from fixed French templates. The zero value
// replies for every bucket (threshold 0), matching the reference behavior.
type Generator struct {
	// Threshold suppresses replies whose confidence is below it.
	Threshold float64

	printer *message.Printer
}

// NewGenerator constructs a Generator with the given suppression threshold.
func NewGenerator(threshold float64) *Generator {
	return &Generator{
		Threshold: threshold,
		printer:   message.NewPrinter(language.French),
	}
}

// Generate renders the reply for a topical bucket. Items are read-only
// input; only available ones are listed, at most maxListedItems of them,
// in the order given.
func (g *Generator) Generate(topic intent.Topic, items []domain.KBItem) Reply {
	switch topic {
	case intent.TopicGreeting:
		return g.reply("Bonjour ! 👋 Bienvenue chez nous. Comment puis-je vous aider aujourd'hui ?", confGreeting)
	case intent.TopicPricing:
		return g.pricing(items)
	case intent.TopicHours:
		return g.reply("🕐 HORAIRES D'OUVERTURE :\n\n📍 Lundi - Samedi : 8h - 22h\n📍 Dimanche : 10h - 20h\n\nNous sommes actuellement ouverts ! 😊", confHours)
	case intent.TopicDelivery:
		return g.reply("🚗 LIVRAISON DISPONIBLE !\n\n✅ Zone : 5km autour du restaurant\n⏱️ Délai : 30-45 minutes\n💵 Frais : 1000 FCFA\n\nQue souhaitez-vous commander ?", confDelivery)
	case intent.TopicStock:
		return g.reply("✅ Oui, nous avons tout en stock aujourd'hui ! Que souhaitez-vous commander ?", confStock)
	default:
		return g.reply("Merci pour votre message ! 😊 Un de nos agents va vous répondre rapidement. En attendant, vous pouvez consulter notre menu ou nos horaires.", confFallback)
	}
}

// pricing lists the first available items with grouped prices, or falls
// back to a lower-confidence hand-off message when the knowledge base is
// empty.
func (g *Generator) pricing(items []domain.KBItem) Reply {
	listed := make([]domain.KBItem, 0, maxListedItems)
	for _, it := range items {
		if !it.Availability {
			continue
		}
		listed = append(listed, it)
		if len(listed) == maxListedItems {
			break
		}
	}
	if len(listed) == 0 {
		return g.reply("Merci pour votre intérêt ! Un de nos agents va vous communiquer nos prix rapidement. 😊", confPricingEmpty)
	}

	var b strings.Builder
	b.WriteString("📋 NOTRE MENU :\n\n")
	for i, it := range listed {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, it.Name, g.FormatPrice(it.Price, it.Currency))
	}
	b.WriteString("\nPour commander, envoyez le numéro du plat ! 😊")
	return g.reply(b.String(), confPricing)
}

// FormatPrice renders a price with French digit grouping and the item's
// currency code ("2 500 FCFA").
func (g *Generator) FormatPrice(price int64, currency string) string {
	if currency == "" {
		currency = "FCFA"
	}
	return g.printer.Sprintf("%d", price) + " " + currency
}

func (g *Generator) reply(text string, confidence float64) Reply {
	return Reply{
		Text:        text,
		Confidence:  confidence,
		ShouldReply: confidence >= g.Threshold,
	}
}
