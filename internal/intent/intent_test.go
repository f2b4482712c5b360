package intent

import "testing"

func TestClassifyTopic(t *testing.T) {
	cases := map[string]Topic{
		"Bonjour":                    TopicGreeting,
		"bsr, vous livrez ?":         TopicGreeting, // greeting outranks delivery
		"Bonsoir, quel est le prix":  TopicGreeting, // greeting outranks pricing
		"C'est combien le poulet ?":  TopicPricing,
		"Envoyez-moi la carte svp":   TopicPricing,
		"Vous êtes ouverts ce soir?": TopicHours,
		"c'est fermé dimanche ?":     TopicHours,
		"Je veux commander 2 plats":  TopicDelivery,
		"vous faites la livraison?":  TopicDelivery,
		"le garba est dispo ?":       TopicStock,
		"il en reste ?":              TopicStock,
		"ok merci":                   TopicFallback,
		"":                           TopicFallback,
		"   ":                        TopicFallback,
	}
	for in, want := range cases {
		if got := ClassifyTopic(in); got != want {
			t.Errorf("ClassifyTopic(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestClassifyTopic_PriorityOrder(t *testing.T) {
	// A body matching several buckets resolves to the highest-priority one.
	body := "bonjour, le prix de la livraison si c'est dispo ?"
	if got := ClassifyTopic(body); got != TopicGreeting {
		t.Fatalf("ClassifyTopic = %q; want greeting", got)
	}
	body = "le prix de la livraison si c'est dispo ?"
	if got := ClassifyTopic(body); got != TopicPricing {
		t.Fatalf("ClassifyTopic = %q; want pricing", got)
	}
}

func TestClassifyUrgency(t *testing.T) {
	cases := map[string]Urgency{
		"je veux acheter maintenant": UrgencyHigh,
		"C'est COMBIEN ?":            UrgencyHigh, // case-insensitive
		"c'est encore disponible ?":  UrgencyHigh,
		"je suis intéressé":          UrgencyMedium,
		"peut-etre demain":           UrgencyMedium,
		"comment ça marche ?":        UrgencyMedium,
		"bonjour":                    UrgencyLow,
		"ok merci":                   UrgencyLow,
		"":                           UrgencyLow,
	}
	for in, want := range cases {
		if got := ClassifyUrgency(in); got != want {
			t.Errorf("ClassifyUrgency(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestClassify_BothAxes(t *testing.T) {
	topic, urgency := Classify("Bonjour, je veux commander")
	if topic != TopicGreeting {
		t.Fatalf("topic = %q; want greeting", topic)
	}
	if urgency != UrgencyHigh {
		t.Fatalf("urgency = %q; want HIGH", urgency)
	}
}
