package services

import (
	"regexp"
	"strings"
)

// ConsultDisclaimer is the mandatory closing note appended to any reply that
// discusses test values.
const ConsultDisclaimer = "Please consult your doctor to discuss these results and get personalized medical advice."

// Canned replies for queries the model must never answer.
const (
	emergencyReply = "This sounds like a medical emergency. Please call your local emergency services immediately and seek medical attention. Do not rely on this assistant for emergency situations."

	policyReply = "I cannot provide medical diagnoses or prescribe medications or dosages. I can explain your lab test results, suggest lifestyle and dietary changes, and provide educational health information. Please consult a healthcare provider for medical decisions."

	// FallbackReply stands in whenever a candidate reply fails the safety
	// gate and cannot be repaired.
	FallbackReply = "I'm not able to answer that directly. " + ConsultDisclaimer
)

var emergencyKeywords = []string{
	"chest pain", "heart attack", "stroke", "can't breathe",
	"unconscious", "bleeding heavily", "suicide", "kill myself",
	"emergency", "collapse", "seizure",
}

var prohibitedIntents = []string{
	"prescribe", "medication name", "dosage", "what drug",
	"diagnose me", "do i have cancer",
}

// medicationRe catches common drug-name patterns in model output. Not
// exhaustive, but the gate errs toward the fallback reply.
var medicationRe = regexp.MustCompile(`(?i)\b(?:ibuprofen|paracetamol|acetaminophen|aspirin|metformin|insulin|statin|atorvastatin|amoxicillin|antibiotic|warfarin|lisinopril|omeprazole|levothyroxine)\b|\b\d+\s*(?:mg|mcg|ml)\b`)

// diagnosisRe catches replies that state a diagnosis as fact.
var diagnosisRe = regexp.MustCompile(`(?i)\byou (?:have|are suffering from|definitely have)\b\s+(?:a\s+|an\s+)?[a-z]`)

// SafetyFilter is the hard gate between raw model output and the user.
type SafetyFilter struct{}

func NewSafetyFilter() *SafetyFilter {
	return &SafetyFilter{}
}

// ScreenQuery checks the user's message before any model call. The returned
// reply, when non-empty, must be sent back verbatim instead of invoking the
// model.
func (f *SafetyFilter) ScreenQuery(query string) (string, bool) {
	lower := strings.ToLower(query)
	for _, k := range emergencyKeywords {
		if strings.Contains(lower, k) {
			return emergencyReply, true
		}
	}
	for _, k := range prohibitedIntents {
		if strings.Contains(lower, k) {
			return policyReply, true
		}
	}
	return "", false
}

// FilterReply validates a candidate model reply. Replies naming a medication
// or stating a diagnosis are replaced with the fallback; replies discussing
// abnormal values without the consult note get the note appended. The user
// always receives some reply.
func (f *SafetyFilter) FilterReply(candidate string, hasAbnormal bool) string {
	if strings.TrimSpace(candidate) == "" {
		return FallbackReply
	}
	if medicationRe.MatchString(candidate) {
		return FallbackReply
	}
	if diagnosisRe.MatchString(candidate) {
		return FallbackReply
	}
	if hasAbnormal && !strings.Contains(strings.ToLower(candidate), "consult") {
		return strings.TrimRight(candidate, " \n") + "\n\n" + ConsultDisclaimer
	}
	return candidate
}
