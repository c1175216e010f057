package assistant

import (
	"context"
	"strings"

	"github.com/run-bigpig/bizassist/internal/models"
)

// action 每轮执行的动作
type action string

const (
	actAnswer    action = "answer"
	actCollect   action = "collect"
	actCorrect   action = "correct"
	actSmallTalk action = "small_talk"
	actResume    action = "resume" // 失败后继续未完成的预约
)

type routeKey struct {
	phase  models.Phase
	intent models.Intent
}

// dispatchTable (阶段, 意图) -> 动作
var dispatchTable = map[routeKey]action{
	{models.PhaseGreeting, models.IntentInformational}:     actAnswer,
	{models.PhaseGreeting, models.IntentSchedulingRequest}: actCollect,
	{models.PhaseGreeting, models.IntentCorrection}:        actCorrect,
	{models.PhaseGreeting, models.IntentOther}:             actSmallTalk,

	{models.PhaseAnswering, models.IntentInformational}:     actAnswer,
	{models.PhaseAnswering, models.IntentSchedulingRequest}: actCollect,
	{models.PhaseAnswering, models.IntentCorrection}:        actCorrect,
	{models.PhaseAnswering, models.IntentOther}:             actSmallTalk,

	{models.PhaseCollectingLeadInfo, models.IntentInformational}:     actAnswer,
	{models.PhaseCollectingLeadInfo, models.IntentSchedulingRequest}: actCollect,
	{models.PhaseCollectingLeadInfo, models.IntentCorrection}:        actCorrect,
	{models.PhaseCollectingLeadInfo, models.IntentOther}:             actCollect,

	{models.PhaseConfirmingSchedule, models.IntentInformational}:     actAnswer,
	{models.PhaseConfirmingSchedule, models.IntentSchedulingRequest}: actCollect,
	{models.PhaseConfirmingSchedule, models.IntentCorrection}:        actCorrect,
	{models.PhaseConfirmingSchedule, models.IntentOther}:             actCollect,

	{models.PhaseScheduled, models.IntentInformational}:     actAnswer,
	{models.PhaseScheduled, models.IntentSchedulingRequest}: actCollect,
	{models.PhaseScheduled, models.IntentCorrection}:        actCorrect,
	{models.PhaseScheduled, models.IntentOther}:             actSmallTalk,

	{models.PhaseFailed, models.IntentInformational}:     actAnswer,
	{models.PhaseFailed, models.IntentSchedulingRequest}: actCollect,
	{models.PhaseFailed, models.IntentCorrection}:        actCorrect,
	{models.PhaseFailed, models.IntentOther}:             actResume,
}

// route 查表，未知组合按闲聊处理
func route(phase models.Phase, intent models.Intent) action {
	if act, ok := dispatchTable[routeKey{phase, intent}]; ok {
		return act
	}
	return actSmallTalk
}

func (o *Orchestrator) run(ctx context.Context, t *turn, act action) string {
	switch act {
	case actAnswer:
		return o.doAnswer(ctx, t)
	case actCollect:
		notes := o.applyEntities(t.state, t.cls.Entities, false)
		return joinReply(append(notes, o.collect(ctx, t.state))...)
	case actCorrect:
		return o.doCorrect(ctx, t)
	case actResume:
		if pendingSchedule(*t.state) {
			notes := o.applyEntities(t.state, t.cls.Entities, false)
			return joinReply(append(notes, o.collect(ctx, t.state))...)
		}
		return o.doSmallTalk(t)
	default:
		return o.doSmallTalk(t)
	}
}

// doAnswer 知识问答；带有预约字段或处于预约流程时继续收集
func (o *Orchestrator) doAnswer(ctx context.Context, t *turn) string {
	st := t.state
	continueScheduling := st.InSchedulingWorkflow() || (st.Phase == models.PhaseFailed && pendingSchedule(*st)) ||
		t.cls.Entities.Scheduling()
	notes := o.applyEntities(st, t.cls.Entities, false)

	st.Phase = models.PhaseAnswering
	query := strings.TrimSpace(t.cls.Query)
	if query == "" {
		query = t.text
	}
	body := o.answer(ctx, query)

	if st.Meeting.Scheduled() {
		st.Phase = models.PhaseScheduled
		return joinReply(body)
	}
	if continueScheduling {
		return joinReply(append([]string{body}, append(notes, o.collect(ctx, st))...)...)
	}
	st.Phase = models.PhaseGreeting
	return joinReply(append([]string{body}, notes...)...)
}

// doCorrect 覆盖用户更正的字段后重新校验
func (o *Orchestrator) doCorrect(ctx context.Context, t *turn) string {
	st := t.state
	ent := t.cls.Entities
	if ent.Empty() {
		return replyWhatToChange
	}
	notes := o.applyEntities(st, ent, true)
	if st.Meeting.Scheduled() {
		st.Phase = models.PhaseScheduled
		ack := o.refreshLead(ctx, st)
		return joinReply(append(notes, ack+" "+alreadyScheduled(st.Meeting.Start, st.Meeting.MeetingLink))...)
	}
	return joinReply(append(notes, o.collect(ctx, st))...)
}

func (o *Orchestrator) doSmallTalk(t *turn) string {
	st := t.state
	if st.Meeting.Scheduled() {
		st.Phase = models.PhaseScheduled
	} else {
		st.Phase = models.PhaseGreeting
	}
	lower := strings.ToLower(t.text)
	if strings.Contains(lower, "thank") || strings.Contains(lower, "bye") {
		return replyThanks
	}
	return greeting(o.cfg.Company)
}

// pendingSchedule 是否有未完成的预约
func pendingSchedule(st models.ConversationState) bool {
	if st.Meeting.Scheduled() {
		return false
	}
	return st.Meeting.ProposedTimeText != "" || st.Meeting.Start != nil || st.Lead.Email != "" || st.Lead.Name != ""
}

func joinReply(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
