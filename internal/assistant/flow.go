package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/run-bigpig/bizassist/internal/adk"
	"github.com/run-bigpig/bizassist/internal/leadscore"
	"github.com/run-bigpig/bizassist/internal/models"
	"github.com/run-bigpig/bizassist/internal/scheduling"
)

// answer 检索并组织回答，检索失败或无结果时给出兜底回复
func (o *Orchestrator) answer(ctx context.Context, query string) string {
	var result models.RetrievalResult
	err := o.call(ctx, o.cfg.Timeouts.Retrieve, "retrieve", func(ctx context.Context) error {
		var rerr error
		result, rerr = o.deps.Retriever.Retrieve(ctx, query)
		return rerr
	})
	if err != nil {
		log.Warn("retrieval failed for %q: %v", adk.Truncate(query, 80), err)
		o.deps.Recorder.RetrievalServed(0)
		return replyNoInfo + " " + replyOfferMeeting
	}
	o.deps.Recorder.RetrievalServed(len(result.Passages))
	if result.Empty() {
		return replyNoInfo + " " + replyOfferMeeting
	}

	var body string
	err = o.call(ctx, o.cfg.Timeouts.Compose, "compose", func(ctx context.Context) error {
		var cerr error
		body, cerr = o.deps.Composer.Compose(ctx, query, result.Passages)
		return cerr
	})
	if err != nil || strings.TrimSpace(body) == "" {
		if err != nil {
			log.Warn("compose failed, using template: %v", err)
		}
		body, _ = TemplateComposer{}.Compose(ctx, query, result.Passages)
	}
	return withSources(body, result.Passages)
}

// collect 解析时间并检查必填字段，齐全后发起预约
func (o *Orchestrator) collect(ctx context.Context, st *models.ConversationState) string {
	if st.Meeting.Scheduled() {
		st.Phase = models.PhaseScheduled
		o.capture(ctx, st)
		return alreadyScheduled(st.Meeting.Start, st.Meeting.MeetingLink)
	}
	st.Phase = models.PhaseCollectingLeadInfo

	restate := false
	if st.Meeting.ProposedTimeText != "" && st.Meeting.Start == nil {
		start, err := o.resolve(ctx, st.Meeting.ProposedTimeText)
		if err != nil {
			log.Info("could not resolve %q in conversation %s: %v", st.Meeting.ProposedTimeText, st.ID, err)
			st.Meeting.ClearProposal()
			restate = true
		} else {
			st.Meeting.Start = &start
			st.Meeting.Timezone = o.cfg.Location.String()
		}
	}

	missing := missingFields(*st)
	if restate {
		var others []string
		for _, f := range missing {
			if f != fieldTime {
				others = append(others, fieldLabels[f])
			}
		}
		if len(others) > 0 {
			return replyRestateTime + fmt.Sprintf(" I'll also need %s.", joinList(others))
		}
		return replyRestateTime
	}
	if len(missing) > 0 {
		return askMissing(missing)
	}
	return o.schedule(ctx, st)
}

func (o *Orchestrator) resolve(ctx context.Context, text string) (start time.Time, err error) {
	err = o.call(ctx, o.cfg.Timeouts.Resolve, "resolve", func(ctx context.Context) error {
		var rerr error
		start, rerr = o.deps.Resolver.Resolve(ctx, text, o.now(), o.cfg.Location)
		return rerr
	})
	return start, err
}

// missingFields 按固定顺序返回缺失的必填字段
func missingFields(st models.ConversationState) []string {
	var missing []string
	if st.Lead.Name == "" {
		missing = append(missing, fieldName)
	}
	if st.Lead.Email == "" {
		missing = append(missing, fieldEmail)
	}
	if st.Lead.Organization == "" {
		missing = append(missing, fieldOrganization)
	}
	if st.Meeting.Start == nil {
		missing = append(missing, fieldTime)
	}
	return missing
}

// schedule 调用网关创建会议，成功后采集线索
func (o *Orchestrator) schedule(ctx context.Context, st *models.ConversationState) string {
	st.Phase = models.PhaseConfirmingSchedule
	if st.Meeting.Duration <= 0 {
		st.Meeting.Duration = o.cfg.DefaultDuration
	}
	st.Meeting.Attendees = o.attendees(*st)
	req := scheduling.MeetingRequest{
		Start:       *st.Meeting.Start,
		Duration:    st.Meeting.Duration,
		Attendees:   st.Meeting.Attendees,
		Title:       fmt.Sprintf("%s Consultation - %s", o.cfg.Company, st.Lead.Name),
		Description: o.description(st.Lead),
		RequestID:   fmt.Sprintf("%s-%s", st.ID, st.Meeting.Start.UTC().Format("20060102T1504")),
	}

	var meeting *scheduling.Meeting
	err := o.call(ctx, o.cfg.Timeouts.Schedule, "schedule", func(ctx context.Context) error {
		var gerr error
		meeting, gerr = o.deps.Gateway.CreateMeeting(ctx, req)
		return gerr
	})

	switch {
	case err == nil && meeting != nil && meeting.ID != "":
		st.Meeting.MeetingID = meeting.ID
		st.Meeting.MeetingLink = meeting.Link
		st.Meeting.CalendarLink = meeting.CalendarLink
		if !meeting.Start.IsZero() {
			start := meeting.Start
			st.Meeting.Start = &start
		}
		st.Phase = models.PhaseScheduled
		log.Info("conversation %s scheduled meeting %s", st.ID, meeting.ID)
		o.deps.Recorder.MeetingScheduled()
		o.capture(ctx, st)
		return confirmation(st.Meeting.Start.In(o.cfg.Location), st.Meeting.Duration,
			st.Meeting.MeetingLink, st.Meeting.CalendarLink, st.Lead.Email)
	case errors.Is(err, scheduling.ErrOutsideBusinessHours):
		return o.reject(ctx, st, req, fmt.Sprintf("That time is outside our business hours (%s).", o.cfg.HoursLabel))
	case errors.Is(err, scheduling.ErrConflict):
		return o.reject(ctx, st, req, "That time slot is already taken.")
	case errors.Is(err, scheduling.ErrTimeInPast):
		return o.reject(ctx, st, req, "That time has already passed.")
	case errors.Is(err, scheduling.ErrTimeUnresolved):
		st.Meeting.ClearProposal()
		st.Phase = models.PhaseCollectingLeadInfo
		return replyRestateTime
	case err == nil, errors.Is(err, scheduling.ErrProviderUnavailable), errors.Is(err, context.DeadlineExceeded):
		log.Error("scheduling unavailable for conversation %s: %v", st.ID, err)
		st.Phase = models.PhaseFailed
		return replyTryAgainShortly
	default:
		log.Error("scheduling failed for conversation %s: %v", st.ID, err)
		st.Phase = models.PhaseFailed
		return replyApology
	}
}

// reject 时间不可用：清除时间、回到收集阶段并推荐替代时间
func (o *Orchestrator) reject(ctx context.Context, st *models.ConversationState, req scheduling.MeetingRequest, reason string) string {
	st.Meeting.ClearProposal()
	st.Phase = models.PhaseCollectingLeadInfo
	return unavailableSlot(reason, o.alternatives(ctx, req))
}

func (o *Orchestrator) alternatives(ctx context.Context, req scheduling.MeetingRequest) []time.Time {
	if o.deps.Suggester == nil {
		return nil
	}
	after := req.Start
	if now := o.now(); after.Before(now) {
		after = now
	}
	var out []time.Time
	_ = o.call(ctx, o.cfg.Timeouts.Resolve, "suggest", func(ctx context.Context) error {
		out = o.deps.Suggester.SuggestTimes(ctx, after, req.Duration, o.cfg.Alternatives)
		return nil
	})
	for i := range out {
		out[i] = out[i].In(o.cfg.Location)
	}
	return out
}

// capture 评分并写入线索，每个会议只执行一次
// 写入失败只记录降级，不影响会议确认
func (o *Orchestrator) capture(ctx context.Context, st *models.ConversationState) {
	if !st.Meeting.Scheduled() || st.Meeting.Captured() {
		return
	}
	meetingID := st.Meeting.MeetingID

	var result leadscore.Result
	err := o.call(ctx, o.cfg.Timeouts.Score, "score", func(ctx context.Context) error {
		result = o.deps.Scorer.Score(ctx, st.Lead, st.LeadExcerpt(o.cfg.ExcerptLimit))
		return nil
	})
	if err != nil {
		result = leadscore.Result{Score: 0, Status: models.LeadStatusCold, Failed: true}
	}
	score := result.Score
	st.Lead.Score = &score
	st.Lead.Status = result.Status
	st.Lead.QualificationNotes = qualificationNotes(result)
	if st.Lead.Source == "" {
		st.Lead.Source = o.cfg.Source
	}

	rec := leadRecord(*st)
	err = o.call(ctx, o.cfg.Timeouts.Store, "store", func(ctx context.Context) error {
		_, serr := o.deps.Store.Upsert(ctx, &rec)
		return serr
	})
	st.Meeting.CapturedFor = meetingID
	if err != nil {
		log.Error("lead capture degraded for meeting %s: %v", meetingID, err)
		st.Meeting.CaptureStatus = models.CaptureDegraded
	} else {
		log.Info("lead %s captured for meeting %s (score %d, %s)", st.Lead.Email, meetingID, score, result.Status)
		st.Meeting.CaptureStatus = models.CaptureStored
	}
	o.deps.Recorder.LeadCaptured(st.Meeting.CaptureStatus)
}

// refreshLead 会议已预约后的更正按 meeting_id 写回线索，评分不重新计算
func (o *Orchestrator) refreshLead(ctx context.Context, st *models.ConversationState) string {
	if !st.Meeting.Captured() {
		o.capture(ctx, st)
		return replyDetailsUpdated
	}
	rec := leadRecord(*st)
	err := o.call(ctx, o.cfg.Timeouts.Store, "store", func(ctx context.Context) error {
		_, serr := o.deps.Store.Upsert(ctx, &rec)
		return serr
	})
	if err != nil {
		log.Error("lead update failed for meeting %s: %v", st.Meeting.MeetingID, err)
		return replyDetailsNotSaved
	}
	log.Info("lead %s updated for meeting %s", rec.Email, st.Meeting.MeetingID)
	st.Meeting.CaptureStatus = models.CaptureStored
	return replyDetailsUpdated
}

func qualificationNotes(r leadscore.Result) string {
	switch {
	case r.Summary != "" && r.Notes != "":
		return r.Summary + " " + r.Notes
	case r.Summary != "":
		return r.Summary
	default:
		return r.Notes
	}
}

func leadRecord(st models.ConversationState) models.LeadRecord {
	rec := models.LeadRecord{
		Name:               st.Lead.Name,
		Email:              st.Lead.Email,
		Company:            st.Lead.Organization,
		Interest:           st.Lead.Interest,
		Status:             st.Lead.Status,
		QualificationNotes: st.Lead.QualificationNotes,
		MeetingID:          st.Meeting.MeetingID,
		MeetingLink:        st.Meeting.MeetingLink,
		Source:             st.Lead.Source,
	}
	if st.Lead.Score != nil {
		rec.Score = *st.Lead.Score
	}
	if st.Meeting.Start != nil {
		start := *st.Meeting.Start
		rec.MeetingTime = &start
	}
	return rec
}

// attendees 客户 email、额外参会人和组织者，去重
func (o *Orchestrator) attendees(st models.ConversationState) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(email string) {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" || seen[email] {
			return
		}
		seen[email] = true
		out = append(out, email)
	}
	add(st.Lead.Email)
	for _, a := range st.Meeting.Attendees {
		add(a)
	}
	add(o.cfg.OrganizerEmail)
	return out
}

func (o *Orchestrator) description(lead models.LeadContext) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Consultation with %s", lead.Name))
	if lead.Organization != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", lead.Organization))
	}
	sb.WriteString(fmt.Sprintf(".\nContact: %s", lead.Email))
	if lead.Interest != "" {
		sb.WriteString("\nInterest: " + lead.Interest)
	}
	sb.WriteString("\nBooked through the " + o.cfg.Company + " assistant.")
	return sb.String()
}
