package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/fyrsmithlabs/outcomed/internal/outcome"
)

// category is a keyword family scored by the heuristic layer.
type category struct {
	name     string
	keywords []string
	bonus    func(s outcome.Signals) int
	key      func(s outcome.Signals) outcome.MetricKey
}

func fixedKey(k outcome.MetricKey) func(outcome.Signals) outcome.MetricKey {
	return func(outcome.Signals) outcome.MetricKey { return k }
}

// categories in tie-break order. Keywords cover English, Spanish, German,
// French and Dutch and are matched as whole normalized phrases.
var categories = []category{
	{
		name: "meeting",
		keywords: []string{
			"meeting", "appointment", "booking", "booked", "scheduled", "demo", "consultation", "calendar",
			"reunión", "cita", "reserva", "agendada", "agendado",
			"termin", "besprechung", "buchung", "gebucht",
			"rendez vous", "réunion", "réservation", "rdv",
			"afspraak", "vergadering", "boeking", "geboekt",
		},
		bonus: func(s outcome.Signals) int {
			if s.Timestamp != nil {
				return 3
			}
			return 0
		},
		key: fixedKey(outcome.MeetingBooked),
	},
	{
		name: "lead",
		keywords: []string{
			"lead", "leads", "prospect", "signup", "sign up", "new contact", "form submission", "registration",
			"cliente potencial", "prospecto", "registro", "nuevo contacto",
			"interessent", "anmeldung", "neuer kontakt",
			"inscription", "nouveau contact",
			"aanmelding", "nieuw contact",
		},
		bonus: func(s outcome.Signals) int {
			if s.Email != "" && s.Phone != "" {
				return 4
			}
			return 0
		},
		key: fixedKey(outcome.LeadCreated),
	},
	{
		name: "ticket",
		keywords: []string{
			"ticket", "support", "issue", "incident", "helpdesk", "help desk",
			"soporte", "incidencia",
			"störung", "anfrage", "kundendienst",
			"assistance", "demande", "incidente",
			"storing", "melding",
		},
		bonus: func(s outcome.Signals) int {
			if s.HasStatus {
				return 2
			}
			return 0
		},
		key: func(s outcome.Signals) outcome.MetricKey {
			if s.TicketClosed {
				return outcome.TicketResolved
			}
			return outcome.TicketCreated
		},
	},
	{
		name: "email",
		keywords: []string{
			"email sent", "send email", "newsletter", "mail sent", "outreach",
			"correo enviado", "enviar correo",
			"email gesendet", "e mail senden",
			"courriel", "envoyer email",
			"mail verzonden", "verstuurd",
		},
		bonus: func(outcome.Signals) int { return 0 },
		key:   fixedKey(outcome.EmailSent),
	},
	{
		name: "deal",
		keywords: []string{
			"deal", "deals", "opportunity", "closed won", "contract signed",
			"oportunidad", "ganado", "contrato firmado",
			"auftrag", "gewonnen", "vertrag unterschrieben",
			"affaire", "gagné", "contrat signé",
			"kans", "contract getekend",
		},
		bonus: func(outcome.Signals) int { return 0 },
		key:   fixedKey(outcome.DealWon),
	},
}

// A raw score s maps to (heuristicBase+s)/heuristicScale before the ceiling:
// 3 points reach 0.60, 5 reach 0.70 and 6 or more hit the 0.75 ceiling.
const (
	heuristicBase  = 9
	heuristicScale = 20.0
)

func heuristicConfidence(total int) float64 {
	return math.Min(outcome.HeuristicCeiling, float64(heuristicBase+total)/heuristicScale)
}

// HeuristicLayer scores keyword hits plus structural bonuses.
type HeuristicLayer struct {
	minimum float64
}

// NewHeuristicLayer creates the heuristic layer. Scores below minimum pass.
func NewHeuristicLayer(minimum float64) *HeuristicLayer {
	return &HeuristicLayer{minimum: minimum}
}

func (h *HeuristicLayer) Name() string { return string(outcome.LayerHeuristic) }

// score is one category's tally.
type score struct {
	category *category
	hits     []string
	bonus    int
}

func (s score) total() int { return len(s.hits) + s.bonus }

// scoreCategories tallies every category for ev.
func scoreCategories(ev *outcome.Evidence) []score {
	scores := make([]score, len(categories))
	for i := range categories {
		c := &categories[i]
		sc := score{category: c, bonus: c.bonus(ev.Signals)}
		for _, kw := range c.keywords {
			if ev.HasPhrase(kw) {
				sc.hits = append(sc.hits, kw)
			}
		}
		scores[i] = sc
	}
	return scores
}

// Attempt picks the highest scoring category. Ties go to the category
// declared first.
func (h *HeuristicLayer) Attempt(_ context.Context, at *Attempt) *outcome.Result {
	scores := scoreCategories(at.Evidence)

	best := -1
	for i, sc := range scores {
		if sc.total() == 0 {
			continue
		}
		if best < 0 || sc.total() > scores[best].total() {
			best = i
		}
	}
	if best < 0 {
		return nil
	}

	sc := scores[best]
	confidence := heuristicConfidence(sc.total())
	if confidence < h.minimum {
		return nil
	}

	return &outcome.Result{
		MetricKey:  sc.category.key(at.Evidence.Signals),
		Confidence: confidence,
		Layer:      outcome.LayerHeuristic,
		Metadata: outcome.Metadata{
			Signature: sc.category.name,
			Reasoning: describeScore(sc),
		},
	}
}

func describeScore(sc score) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s scored %d", sc.category.name, sc.total())
	if len(sc.hits) > 0 {
		fmt.Fprintf(&b, " (keywords: %s", strings.Join(sc.hits, ", "))
		if sc.bonus > 0 {
			fmt.Fprintf(&b, "; structure +%d", sc.bonus)
		}
		b.WriteString(")")
	} else if sc.bonus > 0 {
		fmt.Fprintf(&b, " (structure +%d)", sc.bonus)
	}
	return b.String()
}
