package models

import "time"

// LeadStatus 线索等级
type LeadStatus string

const (
	LeadStatusCold      LeadStatus = "Cold"
	LeadStatusNurture   LeadStatus = "Nurture"
	LeadStatusQualified LeadStatus = "Qualified"
	LeadStatusHot       LeadStatus = "Hot"
)

// 评分区间
const (
	MinLeadScore = 0
	MaxLeadScore = 10
)

// AllLeadStatuses 按等级从低到高排列
var AllLeadStatuses = []LeadStatus{LeadStatusCold, LeadStatusNurture, LeadStatusQualified, LeadStatusHot}

// StatusForScore 根据评分映射线索等级
func StatusForScore(score int) LeadStatus {
	switch {
	case score >= 9:
		return LeadStatusHot
	case score >= 7:
		return LeadStatusQualified
	case score >= 5:
		return LeadStatusNurture
	default:
		return LeadStatusCold
	}
}

// LeadRecord 持久化的线索记录，email 唯一，meeting_id 非空时唯一
type LeadRecord struct {
	ID                 string     `json:"id" bson:"_id,omitempty"`
	Name               string     `json:"name" bson:"name"`
	Email              string     `json:"email" bson:"email"`
	Company            string     `json:"company,omitempty" bson:"company,omitempty"`
	Interest           string     `json:"interest,omitempty" bson:"interest,omitempty"`
	Score              int        `json:"leadScore" bson:"leadScore"`
	Status             LeadStatus `json:"status" bson:"status"`
	QualificationNotes string     `json:"qualificationNotes,omitempty" bson:"qualificationNotes,omitempty"`
	MeetingID          string     `json:"meetingId,omitempty" bson:"meetingId,omitempty"`
	MeetingTime        *time.Time `json:"meetingTime,omitempty" bson:"meetingTime,omitempty"`
	MeetingLink        string     `json:"meetingLink,omitempty" bson:"meetingLink,omitempty"`
	Source             string     `json:"source,omitempty" bson:"source,omitempty"`
	CreatedAt          time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// LeadStats 线索统计
type LeadStats struct {
	Total        int                `json:"total"`
	ByStatus     map[LeadStatus]int `json:"byStatus"`
	AverageScore float64            `json:"averageScore"`
}

// ComputeLeadStats 统计线索
func ComputeLeadStats(leads []LeadRecord) LeadStats {
	stats := LeadStats{ByStatus: make(map[LeadStatus]int)}
	sum := 0
	for _, l := range leads {
		stats.Total++
		stats.ByStatus[l.Status]++
		sum += l.Score
	}
	if stats.Total > 0 {
		stats.AverageScore = float64(sum) / float64(stats.Total)
	}
	return stats
}
