package leadscore

import (
	"context"
	"fmt"
	"strings"

	"github.com/run-bigpig/bizassist/internal/models"
)

// 意向信号关键词
var (
	urgencyWords = []string{"asap", "urgent", "this month", "this quarter", "deadline", "immediately", "next week"}
	budgetWords  = []string{"budget", "$", "funding", "invest", "quote", "pricing", "cost"}
	roleWords    = []string{"ceo", "cto", "founder", "director", "head of", "vp", "owner", "manager"}
)

// freeMailDomains 个人邮箱域名
var freeMailDomains = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true, "outlook.com": true, "icloud.com": true,
}

// HeuristicRater 无模型时的规则评估
type HeuristicRater struct{}

// Rate 按信号累加评分
func (HeuristicRater) Rate(_ context.Context, lead models.LeadContext, excerpt []models.Message) (Rating, error) {
	var text strings.Builder
	text.WriteString(strings.ToLower(lead.Interest))
	for _, m := range excerpt {
		text.WriteString(" ")
		text.WriteString(strings.ToLower(m.Content))
	}
	corpus := text.String()

	score := 3
	var reasons []string
	if lead.Organization != "" {
		score++
		reasons = append(reasons, "organization provided")
	}
	if lead.Interest != "" {
		score++
		reasons = append(reasons, "stated need")
	}
	if at := strings.LastIndex(lead.Email, "@"); at >= 0 && !freeMailDomains[strings.ToLower(lead.Email[at+1:])] {
		score++
		reasons = append(reasons, "business email")
	}
	if containsAny(corpus, budgetWords) {
		score += 2
		reasons = append(reasons, "budget mentioned")
	}
	if containsAny(corpus, urgencyWords) {
		score++
		reasons = append(reasons, "timeline urgency")
	}
	if containsAny(corpus, roleWords) {
		score++
		reasons = append(reasons, "decision maker")
	}

	summary := lead.Interest
	if summary == "" {
		summary = "Consultation request"
	}
	if lead.Organization != "" {
		summary = fmt.Sprintf("%s (%s)", summary, lead.Organization)
	}
	return Rating{
		Score:   score,
		Summary: summary,
		Reason:  strings.Join(reasons, ", "),
	}, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
