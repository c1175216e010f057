package assistant

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/run-bigpig/bizassist/internal/models"
)

var validEmail = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// applyEntities 合并抽取到的字段，返回需要告知用户的提示
// 非更正轮次中，已填写的 email 不会被不同的值覆盖；其他字段以最新值为准
func (o *Orchestrator) applyEntities(st *models.ConversationState, ent Entities, correction bool) []string {
	var notes []string

	if name := normalizeName(ent.Name); name != "" {
		if st.Lead.Name != "" && !strings.EqualFold(st.Lead.Name, name) && !correction {
			log.Warn("conversation %s restated name %q -> %q, keeping latest", st.ID, st.Lead.Name, name)
		}
		st.Lead.Name = name
	}

	if email := strings.ToLower(strings.TrimSpace(ent.Email)); email != "" {
		switch {
		case !validEmail.MatchString(email):
			notes = append(notes, "\""+email+"\" doesn't look like a valid email address.")
		case st.Lead.Email == "" || correction:
			st.Lead.Email = email
		case st.Lead.Email != email:
			log.Warn("conversation %s gave a different email %q outside a correction, keeping %q", st.ID, email, st.Lead.Email)
			notes = append(notes, confirmEmailChange(st.Lead.Email, email))
		}
	}

	if org := strings.TrimSpace(ent.Organization); org != "" {
		if st.Lead.Organization != "" && !strings.EqualFold(st.Lead.Organization, org) && !correction {
			log.Warn("conversation %s restated organization %q -> %q, keeping latest", st.ID, st.Lead.Organization, org)
		}
		st.Lead.Organization = org
	}

	if need := strings.TrimSpace(ent.Need); need != "" {
		st.Lead.Interest = need
	}

	if st.Meeting.Scheduled() {
		if ent.TimePreference != "" || ent.Duration > 0 {
			log.Info("conversation %s already has meeting %s, ignoring new time", st.ID, st.Meeting.MeetingID)
		}
		return notes
	}
	if tp := strings.TrimSpace(ent.TimePreference); tp != "" && tp != st.Meeting.ProposedTimeText {
		if st.Meeting.ProposedTimeText != "" && !correction {
			log.Warn("conversation %s restated time %q -> %q, keeping latest", st.ID, st.Meeting.ProposedTimeText, tp)
		}
		st.Meeting.ProposedTimeText = tp
		st.Meeting.Start = nil
	}
	if ent.Duration > 0 {
		st.Meeting.Duration = ent.Duration
	}
	for _, a := range ent.Attendees {
		a = strings.ToLower(strings.TrimSpace(a))
		if validEmail.MatchString(a) && !containsFold(st.Meeting.Attendees, a) {
			st.Meeting.Attendees = append(st.Meeting.Attendees, a)
		}
	}
	return notes
}

// normalizeName 全小写或全大写的名字转为首字母大写
func normalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	if name == strings.ToLower(name) || name == strings.ToUpper(name) {
		// Caser 有状态，不能跨 goroutine 共享
		return cases.Title(language.English).String(strings.ToLower(name))
	}
	return name
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
