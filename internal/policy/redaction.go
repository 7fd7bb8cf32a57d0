package policy

import (
	"regexp"
	"strings"
)

// PII kinds masked before a turn is archived.
const (
	PIIEmail = "email"
	PIIIBAN  = "iban"
	PIICard  = "card"
	PIIPhone = "phone"
)

type piiRule struct {
	kind    string
	pattern *regexp.Regexp
	// accept filters pattern matches; nil accepts all of them.
	accept func(match string) bool
}

// Rules run in order. IBAN and card run before phone, whose pattern would
// otherwise swallow their digit runs.
var piiRules = []piiRule{
	{kind: PIIEmail, pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{kind: PIIIBAN, pattern: regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,4})?\b`)},
	{kind: PIICard, pattern: regexp.MustCompile(`\b(?:[0-9][ -]?){12,18}[0-9]\b`), accept: luhnValid},
	{kind: PIIPhone, pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)},
}

// Redaction is the result of masking PII in one text.
type Redaction struct {
	Text string
	// Counts maps a PII kind to the number of masked spans.
	Counts map[string]int
}

func (r Redaction) Changed() bool { return len(r.Counts) > 0 }

// Redact masks emails, IBANs, Luhn-valid card numbers and phone numbers.
func Redact(input string) Redaction {
	out := Redaction{Text: input}
	for _, rule := range piiRules {
		marker := "[REDACTED_" + strings.ToUpper(rule.kind) + "]"
		out.Text = rule.pattern.ReplaceAllStringFunc(out.Text, func(match string) string {
			if rule.accept != nil && !rule.accept(match) {
				return match
			}
			if out.Counts == nil {
				out.Counts = make(map[string]int)
			}
			out.Counts[rule.kind]++
			return marker
		})
	}
	return out
}

func luhnValid(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 13 && sum%10 == 0
}
