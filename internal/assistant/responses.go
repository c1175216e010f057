package assistant

import (
	"fmt"
	"strings"
	"time"
)

// 必填字段
const (
	fieldName         = "name"
	fieldEmail        = "email"
	fieldOrganization = "organization"
	fieldTime         = "proposed_time"
)

var fieldLabels = map[string]string{
	fieldName:         "your name",
	fieldEmail:        "your email address",
	fieldOrganization: "your company or organization",
	fieldTime:         "a preferred date and time",
}

const (
	replyApology         = "I'm sorry, something went wrong on my side. Could you please try that again?"
	replyTryAgainShortly = "I'm sorry, our calendar system isn't responding right now. Please try again shortly and I'll book it for you."
	replyClarify         = "Sorry, I'm not sure I understood. Are you looking for information about our services, or would you like to schedule a consultation?"
	replyWhatToChange    = "Sure, what would you like to change? You can give me a new name, email, company or time."
	replyNoInfo          = "I couldn't find relevant information about that in our knowledge base."
	replyOfferMeeting    = "If you'd like, I can schedule a consultation with our team to discuss it. Just let me know a good time."
	replyRestateTime     = "I couldn't work out a specific date and time from that. Could you give me one, for example \"tomorrow at 2pm\" or \"2026-10-20 10:30\"?"
	replyThanks          = "You're welcome! Anything else I can help you with?"
	replyDetailsUpdated  = "Thanks, I've updated your details."
	replyDetailsNotSaved = "I've noted the change, but I couldn't update our records right now. Your booking itself is unchanged."
)

func greeting(company string) string {
	return fmt.Sprintf("Hello! I'm the virtual assistant for %s. I can answer questions about our services "+
		"or help you schedule a consultation with our team. How can I help you today?", company)
}

// askMissing 只索要缺失的字段
func askMissing(missing []string) string {
	labels := make([]string, len(missing))
	for i, f := range missing {
		labels[i] = fieldLabels[f]
	}
	return fmt.Sprintf("To book your consultation, I just need %s.", joinList(labels))
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

func formatWhen(t time.Time) string {
	return t.Format("Monday, January 2, 2006 at 3:04 PM MST")
}

func formatDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}

// confirmation 预约成功回复
func confirmation(start time.Time, d time.Duration, link, calendarLink, email string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You're all set! Your consultation is booked for %s (%s).", formatWhen(start), formatDuration(d)))
	if link != "" {
		sb.WriteString("\nMeeting link: " + link)
	}
	if calendarLink != "" {
		sb.WriteString("\nCalendar event: " + calendarLink)
	}
	if email != "" {
		sb.WriteString(fmt.Sprintf("\nA calendar invitation has been sent to %s.", email))
	}
	return sb.String()
}

// alreadyScheduled 已有会议时的回复
func alreadyScheduled(start *time.Time, link string) string {
	if start == nil {
		return "Your consultation is already booked. Meeting link: " + link
	}
	msg := fmt.Sprintf("Your consultation is already booked for %s.", formatWhen(*start))
	if link != "" {
		msg += " Meeting link: " + link
	}
	return msg
}

// unavailableSlot 时间不可用时的回复，附带替代时间
func unavailableSlot(reason string, alternatives []time.Time) string {
	var sb strings.Builder
	sb.WriteString(reason)
	if len(alternatives) == 0 {
		sb.WriteString(" Could you suggest another time?")
		return sb.String()
	}
	sb.WriteString(" Here are some times that are available:")
	for _, t := range alternatives {
		sb.WriteString("\n- " + formatWhen(t))
	}
	sb.WriteString("\nWhich one works for you, or would you prefer another time?")
	return sb.String()
}

func confirmEmailChange(current, proposed string) string {
	return fmt.Sprintf("I have your email as %s. If you meant to change it to %s, just say \"actually my email is %s\".",
		current, proposed, proposed)
}
