package outcome

import (
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Signals records the known shapes found in an execution's evidence.
type Signals struct {
	Email string
	Phone string
	Name  string

	Timestamp    *time.Time
	TimestampKey string
	HasAttendees bool

	TicketID     string
	Status       string
	HasStatus    bool
	TicketClosed bool

	DealStage string
	DealWon   bool

	Recipient string
	Subject   string
}

// HasContact reports whether an email or phone was found.
func (s Signals) HasContact() bool { return s.Email != "" || s.Phone != "" }

var (
	emailKeys = []string{
		"email", "email_address", "contact_email", "attendee_email", "invitee_email",
		"customer_email", "e_mail", "mail", "correo", "correo_electronico", "courriel",
	}
	phoneKeys = []string{
		"phone", "phone_number", "mobile", "mobile_phone", "telephone", "tel",
		"telefono", "teléfono", "telefon", "telefonnummer", "telefoonnummer",
	}
	nameKeys = []string{
		"full_name", "contact_name", "customer_name", "invitee_name", "fullname",
		"name", "first_name", "firstname", "nombre", "naam",
	}
	timestampKeys = []string{
		"scheduled_at", "start_time", "starts_at", "start_date_time", "scheduled_time",
		"scheduled_for", "event_start", "event_start_time", "meeting_time",
		"appointment_time", "booking_time", "start", "start_date",
		"fecha_inicio", "hora_inicio", "termin", "startzeit", "date_debut", "starttijd",
	}
	attendeeKeys = []string{
		"attendees", "attendee", "invitees", "invitee", "participants", "guests",
		"asistentes", "teilnehmer", "deelnemers",
	}
	ticketIDKeys = []string{
		"ticket_id", "ticket_number", "ticket_key", "issue_id", "issue_key",
		"case_id", "case_number", "incident_id", "incident_number",
	}
	statusKeys = []string{
		"ticket_status", "issue_status", "status", "state", "estado", "zustand", "statut",
	}
	dealStageKeys = []string{
		"deal_stage", "dealstage", "pipeline_stage", "stage_name", "stage", "etapa",
	}
	recipientKeys = []string{
		"to", "to_email", "to_address", "recipient", "recipients", "send_to",
		"destinatario", "empfänger", "empfaenger", "destinataire", "ontvanger",
	}
	subjectKeys = []string{
		"subject", "email_subject", "asunto", "betreff", "objet", "onderwerp",
	}

	closedStatuses = map[string]bool{
		"closed": true, "resolved": true, "solved": true, "done": true, "fixed": true,
		"cerrado": true, "resuelto": true, "geschlossen": true, "gelöst": true,
		"erledigt": true, "fermé": true, "ferme": true, "résolu": true, "resolu": true,
		"gesloten": true, "opgelost": true,
	}
	wonStages = map[string]bool{
		"won": true, "closedwon": true, "dealwon": true, "ganado": true, "ganada": true,
		"gewonnen": true, "gagné": true, "gagne": true,
	}

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9 ()./-]{6,20}$`)
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func detectSignals(ev *Evidence) Signals {
	var s Signals

	s.Email = strings.ToLower(ev.firstString(emailKeys, func(v string) bool { return emailPattern.MatchString(v) }))
	s.Phone = NormalizePhone(ev.firstString(phoneKeys, func(v string) bool { return phonePattern.MatchString(v) }))
	s.Name = ev.firstString(nameKeys, func(v string) bool {
		return len(v) <= 120 && !strings.Contains(v, "@")
	})

	if f, t, ok := ev.firstTimestamp(); ok {
		s.Timestamp = &t
		s.TimestampKey = f.Key
	}

	for _, f := range ev.Fields {
		if !containsKey(attendeeKeys, f.Key) {
			continue
		}
		switch {
		case f.Value.IsArray() && len(f.Value.Array()) > 0,
			f.Value.IsObject(),
			f.Value.Type == gjson.String && f.Value.Str != "":
			s.HasAttendees = true
		}
		if s.HasAttendees {
			break
		}
	}

	s.TicketID = ev.firstScalar(ticketIDKeys)
	if s.TicketID == "" {
		s.TicketID = ev.scopedID("ticket", "issue", "incident")
	}

	s.Status = strings.ToLower(ev.firstString(statusKeys, nil))
	s.HasStatus = s.Status != ""
	s.TicketClosed = closedStatuses[s.Status]

	s.DealStage = ev.firstString(dealStageKeys, nil)
	s.DealWon = wonStages[CompactName(s.DealStage)] || s.Status == "won"

	s.Recipient = ev.firstString(recipientKeys, nil)
	if s.Recipient == "" {
		if f, ok := ev.Lookup(recipientKeys...); ok && f.Value.IsArray() && len(f.Value.Array()) > 0 {
			s.Recipient = f.Value.Array()[0].String()
		}
	}
	s.Subject = ev.firstString(subjectKeys, nil)

	return s
}

// firstString returns the first non-empty string value for keys in priority
// order that passes accept (nil accepts everything).
func (ev *Evidence) firstString(keys []string, accept func(string) bool) string {
	for _, k := range keys {
		for _, f := range ev.Fields {
			if f.Key != k || f.Value.Type != gjson.String {
				continue
			}
			v := strings.TrimSpace(f.Value.Str)
			if v == "" {
				continue
			}
			if accept == nil || accept(v) {
				return v
			}
		}
	}
	return ""
}

// firstScalar is firstString that also accepts numbers.
func (ev *Evidence) firstScalar(keys []string) string {
	for _, k := range keys {
		for _, f := range ev.Fields {
			if f.Key != k {
				continue
			}
			if f.Value.Type == gjson.String || f.Value.Type == gjson.Number {
				if v := strings.TrimSpace(f.Value.String()); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// scopedID finds an "id" or "key" whose path runs through one of scopes,
// e.g. ticket.id in a Zendesk payload.
func (ev *Evidence) scopedID(scopes ...string) string {
	for _, f := range ev.Fields {
		if f.Key != "id" && f.Key != "key" {
			continue
		}
		if f.Value.Type != gjson.String && f.Value.Type != gjson.Number {
			continue
		}
		lp := strings.ToLower(f.Path)
		for _, s := range scopes {
			if strings.Contains(lp, s) {
				return f.Value.String()
			}
		}
	}
	return ""
}

func (ev *Evidence) firstTimestamp() (Field, time.Time, bool) {
	for _, k := range timestampKeys {
		for _, f := range ev.Fields {
			if f.Key != k {
				continue
			}
			if t, ok := parseTime(f.Value); ok {
				return f, t, true
			}
		}
	}
	// Nested calendar shape: start.dateTime / start.date.
	for _, f := range ev.Fields {
		if f.Key != "date_time" && f.Key != "date" {
			continue
		}
		if !strings.Contains(strings.ToLower(f.Path), "start") {
			continue
		}
		if t, ok := parseTime(f.Value); ok {
			return f, t, true
		}
	}
	return Field{}, time.Time{}, false
}

func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	case gjson.Number:
		n := v.Int()
		switch {
		case n > 1e12:
			return time.UnixMilli(n).UTC(), true
		case n > 1e9:
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// NormalizePhone keeps a leading plus and digits.
func NormalizePhone(p string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(p) {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	if b.Len() < 6 {
		return ""
	}
	return b.String()
}

func containsKey(keys []string, k string) bool {
	for _, c := range keys {
		if c == k {
			return true
		}
	}
	return false
}

// FormatValue renders a short "key: value" pair for descriptions.
func (f Field) FormatValue(limit int) string {
	return f.Key + ": " + Truncate(f.String(), limit)
}
