package assistant

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/run-bigpig/bizassist/internal/models"
	"github.com/run-bigpig/bizassist/internal/scheduling"
)

var (
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	namePattern      = regexp.MustCompile(`(?i)\b(?:my name is|my name's|name:)\s+([a-z][a-z'\-]*(?:\s+[a-z][a-z'\-]*){0,2})`)
	introPattern     = regexp.MustCompile(`(?:\b(?i:i am|i'm|im|this is)|^(?i:it's|it is))\s+([A-Z][a-zA-Z'\-]*(?:\s+[A-Z][a-zA-Z'\-]*){0,2})`)
	orgPattern       = regexp.MustCompile(`\b(?i:from|at|with|work for|working for|represent|representing)\s+([A-Z][\w&.\-]*(?:\s+[A-Z][\w&.\-]*){0,3})`)
	orgLabelPattern  = regexp.MustCompile(`(?i)\b(?:company|organization|organisation|org)(?:\s+is|:)\s*([a-z0-9][\w&.\- ]{0,60}?)(?:[,.;!?]|\s+and\b|$)`)
	needPattern      = regexp.MustCompile(`(?i)\b(?:interested in|looking for|need help with|help with|want to (?:build|discuss|talk about)|we need|i need)\s+([^.?!\n]{3,160})`)
	dayPattern       = regexp.MustCompile(`(?i)\b(today|tomorrow|day after tomorrow|(?:next|this)\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|week)|monday|tuesday|wednesday|thursday|friday|saturday|sunday|\d{4}-\d{2}-\d{2}|(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?)\b`)
	clockPattern     = regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s*(?:am|pm)|\d{1,2}:\d{2}|noon)\b`)
	correctionCue    = regexp.MustCompile(`(?i)\b(actually|correction|i meant|i mean|typo|wrong|should be|instead|change (?:my|the|it))\b`)
	schedulingCue    = regexp.MustCompile(`(?i)\b(schedule|book|booking|meeting|meet|call|consultation|appointment|demo|available|availability|slot|calendar)\b`)
	questionCue      = regexp.MustCompile(`(?i)^(what|how|why|who|which|where|when|do|does|did|can|could|is|are|tell me|explain|describe|list)\b`)
	orgStopWords     = map[string]bool{"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true, "Saturday": true, "Sunday": true, "Today": true, "Tomorrow": true, "Noon": true, "January": true, "February": true, "March": true, "April": true, "May": true, "June": true, "July": true, "August": true, "September": true, "October": true, "November": true, "December": true}
	nameStopWords    = map[string]bool{"from": true, "and": true, "at": true, "with": true, "my": true, "i": true, "email": true, "here": true, "of": true, "the": true}
	ambiguousReplies = map[string]bool{"hmm": true, "huh": true, "maybe": true, "what": true, "idk": true, "eh": true}
	fillerReplies    = map[string]bool{"ok": true, "okay": true, "yes": true, "no": true, "sure": true, "thanks": true, "thank you": true, "hi": true, "hello": true, "great": true}
)

// RuleClassifier 基于规则的离线意图识别，未配置 LLM 时使用
type RuleClassifier struct{}

// Classify 按关键词和正则识别意图并抽取字段
func (RuleClassifier) Classify(_ context.Context, in ClassifyInput) (Classification, error) {
	text := strings.TrimSpace(in.Text)
	if !hasAlnum(text) || ambiguousReplies[strings.ToLower(strings.Trim(text, "?!. "))] {
		return Classification{}, ErrClassificationAmbiguous
	}

	ent := ExtractEntities(text)
	inWorkflow := in.Phase == models.PhaseCollectingLeadInfo || in.Phase == models.PhaseConfirmingSchedule
	question := strings.HasSuffix(text, "?") || questionCue.MatchString(text)
	if inWorkflow && !question && ent.Empty() && !correctionCue.MatchString(text) && !schedulingCue.MatchString(text) {
		fillExpected(in, &ent, text)
	}
	out := Classification{Entities: ent, Query: text}

	switch {
	case correctionCue.MatchString(text) && (ent.Scheduling() || (hasDetails(in) && !question)):
		out.Intent = models.IntentCorrection
	case schedulingCue.MatchString(text):
		out.Intent = models.IntentSchedulingRequest
	case question && !(inWorkflow && ent.Scheduling()):
		out.Intent = models.IntentInformational
	case ent.Scheduling():
		out.Intent = models.IntentSchedulingRequest
	case inWorkflow && ent.Need != "":
		out.Intent = models.IntentSchedulingRequest
	default:
		out.Intent = models.IntentOther
	}
	return out, nil
}

// ExtractEntities 从文本中抽取联系人、需求和时间
func ExtractEntities(text string) Entities {
	var ent Entities
	ent.Email = emailPattern.FindString(text)
	// email 已抽取，后续匹配不再受其干扰
	rest := emailPattern.ReplaceAllString(text, " ")

	if m := namePattern.FindStringSubmatch(rest); m != nil {
		ent.Name = trimName(m[1])
	} else if m := introPattern.FindStringSubmatch(rest); m != nil {
		ent.Name = trimName(m[1])
	}

	if m := orgLabelPattern.FindStringSubmatch(rest); m != nil {
		ent.Organization = strings.TrimSpace(m[1])
	} else {
		for _, m := range orgPattern.FindAllStringSubmatch(rest, -1) {
			first := strings.Fields(m[1])[0]
			if orgStopWords[strings.Trim(first, ".")] {
				continue
			}
			ent.Organization = strings.TrimRight(m[1], ".")
			break
		}
	}

	if m := needPattern.FindStringSubmatch(rest); m != nil {
		ent.Need = strings.TrimSpace(m[1])
	}

	ent.TimePreference = timePreference(rest)
	ent.Duration = scheduling.ParseDuration(rest)
	return ent
}

// timePreference 组合日期和时刻片段
func timePreference(text string) string {
	day := dayPattern.FindString(text)
	clock := clockPattern.FindString(text)
	if strings.EqualFold(clock, "noon") {
		clock = "12:00"
	}
	switch {
	case day == "" && clock == "":
		return ""
	case day == "":
		return clock
	case clock == "":
		return day
	case day[0] >= '0' && day[0] <= '9':
		return day + " " + clock
	default:
		return day + " at " + clock
	}
}

// fillExpected 预约流程中的简短回复视为上一轮索要的字段
func fillExpected(in ClassifyInput, ent *Entities, text string) {
	answer := strings.Trim(text, " .!")
	if len(strings.Fields(answer)) > 5 || fillerReplies[strings.ToLower(answer)] {
		return
	}
	switch {
	case in.Lead.Name == "":
		ent.Name = answer
	case in.Lead.Organization == "":
		ent.Organization = answer
	}
}

func trimName(raw string) string {
	words := strings.Fields(raw)
	for i, w := range words {
		if nameStopWords[strings.ToLower(w)] {
			words = words[:i]
			break
		}
	}
	return strings.Join(words, " ")
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// hasDetails 会话中是否已有可修改的字段
func hasDetails(in ClassifyInput) bool {
	return in.Lead.Name != "" || in.Lead.Email != "" || in.Lead.Organization != "" || in.Meeting.ProposedTimeText != ""
}
