package live

import (
	"fmt"
	"strings"
	"time"
)

// TechniqueType classifies the user's stated need.
type TechniqueType string

const (
	TechniqueStress  TechniqueType = "stress"
	TechniqueSleep   TechniqueType = "sleep"
	TechniqueAnxiety TechniqueType = "anxiety"
	TechniqueFocus   TechniqueType = "focus"
	TechniqueGeneral TechniqueType = "general"
)

// techniqueKeywords is scanned in order; the first category with a matching
// keyword wins.
var techniqueKeywords = []struct {
	technique TechniqueType
	keywords  []string
}{
	{TechniqueStress, []string{"stress", "relax", "tension"}},
	{TechniqueSleep, []string{"sleep", "insomnia", "tired"}},
	{TechniqueAnxiety, []string{"anxiety", "panic", "worried"}},
	{TechniqueFocus, []string{"focus", "concentrate", "performance"}},
}

// DetectTechnique classifies user text by case-insensitive substring match.
// Text matching no keyword is TechniqueGeneral.
func DetectTechnique(text string) TechniqueType {
	input := strings.ToLower(text)
	for _, group := range techniqueKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(input, kw) {
				return group.technique
			}
		}
	}
	return TechniqueGeneral
}

// SessionDuration formats the time elapsed since start as m:ss.
// A nil start yields "0:00".
func SessionDuration(start *time.Time, now time.Time) string {
	if start == nil || start.IsZero() {
		return "0:00"
	}
	elapsed := now.Sub(*start)
	if elapsed < 0 {
		elapsed = 0
	}
	minutes := int(elapsed / time.Minute)
	seconds := int((elapsed % time.Minute) / time.Second)
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
