package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/voicecal/internal/intent"
)

const (
	spokenTimeLayout = "Monday, January 02 at 03:04 PM"
	spokenDayLayout  = "Monday, January 02"
	clockLayout      = "03:04 PM"

	messageConflictIntroFormat = "I found a conflict with your requested time of %s."
	messageConflictOptions     = "Here are some alternative options:"
	messageConflictOptionLine  = "Option %d: %s - %s"
	messageConflictQuestion    = "Which option would you prefer? You can say %s, or ask me to suggest different times."
	messageRepromptPrefix      = "Sorry, I didn't catch which option you meant."
	messageOptionsAgain        = "Here are the options again:"
	messageRegeneratedPrefix   = "That time was just taken."

	messageScheduledFormat      = "Perfect! I've successfully scheduled your meeting '%s' for %s."
	messageNoAlternativesFormat = "Your requested time of %s is already taken and I couldn't find an alternative. What other time would work for you?"
	messageCancelled            = "Okay, I've cancelled that. What else can I help you with?"
	messageCommitFailureFormat  = "I couldn't schedule the meeting: %s. Would you like to try with different details?"
	messageSnapshotFailure      = "I couldn't check your calendar just now. Please try again in a moment."
	messageIntentFailure        = "I had an issue understanding that request. Could you say it again?"
	messageInvalidRequestFormat = "That request doesn't look right: %s."

	messageAgendaEmptyFormat = "You have no meetings scheduled for %s."
	messageAgendaIntroFormat = "Here are your meetings for %s:"
	messageAgendaLineFormat  = "%d. %s from %s to %s."
	untitledEvent            = "Untitled"
)

var missingFieldQuestions = map[string]string{
	intent.FieldTitle: "What should the meeting be called?",
	intent.FieldDate:  "What date should I schedule it for?",
	intent.FieldTime:  "What time should it start?",
}

// Render turns an outcome into the sentence spoken or shown to the user.
func Render(o Outcome) string {
	switch v := o.(type) {
	case Scheduled:
		title := v.Request.Title
		if title == "" {
			title = "Meeting"
		}
		return fmt.Sprintf(messageScheduledFormat, title, spokenTime(v.Request.Range.Start()))
	case ConflictOffered:
		return renderConflict(v)
	case NoAlternatives:
		return fmt.Sprintf(messageNoAlternativesFormat, spokenTime(v.Original.Range.Start()))
	case Cancelled:
		return messageCancelled
	case ClarificationNeeded:
		questions := make([]string, 0, len(v.Missing))
		for _, f := range v.Missing {
			if q, ok := missingFieldQuestions[f]; ok {
				questions = append(questions, q)
			}
		}
		return strings.Join(questions, " ")
	case Reply:
		return v.Text
	case DayAgenda:
		return renderAgenda(v)
	case Error:
		return renderError(v)
	default:
		return ""
	}
}

func renderConflict(v ConflictOffered) string {
	parts := make([]string, 0, len(v.Suggestions)+4)
	if v.Reprompt {
		parts = append(parts, messageOptionsAgain)
	} else {
		if v.Regenerated {
			parts = append(parts, messageRegeneratedPrefix)
		}
		parts = append(parts, fmt.Sprintf(messageConflictIntroFormat, spokenTime(v.Original.Range.Start())), messageConflictOptions)
	}
	examples := make([]string, 0, len(v.Suggestions))
	for _, s := range v.Suggestions {
		parts = append(parts, fmt.Sprintf(messageConflictOptionLine, s.Option, spokenTime(s.Range.Start()), s.Description))
		examples = append(examples, fmt.Sprintf("'option %d'", s.Option))
	}
	parts = append(parts, fmt.Sprintf(messageConflictQuestion, strings.Join(examples, ", ")))
	return strings.Join(parts, " ")
}

func renderAgenda(v DayAgenda) string {
	day := v.Day.Start().Format(spokenDayLayout)
	if len(v.Events) == 0 {
		return fmt.Sprintf(messageAgendaEmptyFormat, day)
	}
	loc := v.Day.Location()
	parts := []string{fmt.Sprintf(messageAgendaIntroFormat, day)}
	for i, ev := range v.Events {
		title := ev.Title
		if title == "" {
			title = untitledEvent
		}
		parts = append(parts, fmt.Sprintf(messageAgendaLineFormat, i+1, title,
			ev.Range.Start().In(loc).Format(clockLayout), ev.Range.End().In(loc).Format(clockLayout)))
	}
	return strings.Join(parts, " ")
}

func renderError(v Error) string {
	switch v.Code {
	case CommitFailure:
		return fmt.Sprintf(messageCommitFailureFormat, v.Reason)
	case SnapshotFailure:
		return messageSnapshotFailure
	case IntentFailure:
		return messageIntentFailure
	case UnrecognizedSelection:
		return messageRepromptPrefix
	default:
		return fmt.Sprintf(messageInvalidRequestFormat, v.Reason)
	}
}

func spokenTime(t time.Time) string {
	return t.Format(spokenTimeLayout)
}
