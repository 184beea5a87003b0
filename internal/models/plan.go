package models

// Unlimited is the sentinel for plan limits without a cap.
const Unlimited = -1

// PlanLimits describes the quota envelope of a subscription tier.
type PlanLimits struct {
	Hosts           int  // max hosts, Unlimited for no cap
	CreditsMonthly  int  // scan credits per 30-day period, Unlimited for no cap
	CreditsRollover bool // unused credits carry over, capped at 2x monthly
	ScanHistoryDays int  // retention window enforced by the purge collaborator
}

var planLimits = map[Plan]PlanLimits{
	PlanFree:       {Hosts: 1, CreditsMonthly: 10, CreditsRollover: false, ScanHistoryDays: 7},
	PlanPro:        {Hosts: 15, CreditsMonthly: 200, CreditsRollover: true, ScanHistoryDays: 365},
	PlanEnterprise: {Hosts: Unlimited, CreditsMonthly: Unlimited, CreditsRollover: true, ScanHistoryDays: Unlimited},
}

// Limits returns the quota envelope for a plan. Unknown plans fall back to
// free so a corrupted row can never grant unlimited access.
func (p Plan) Limits() PlanLimits {
	if limits, ok := planLimits[p]; ok {
		return limits
	}
	return planLimits[PlanFree]
}

// IsValid reports whether p names a known subscription tier.
func (p Plan) IsValid() bool {
	_, ok := planLimits[p]
	return ok
}

// CanAddHost reports whether an organization on this plan may register
// another host given its current host count.
func (p Plan) CanAddHost(currentHostCount int) bool {
	limit := p.Limits().Hosts
	if limit == Unlimited {
		return true
	}
	return currentHostCount < limit
}

// ValidGrades is the closed set of letter grades, in severity order:
// A is best, F is worst, so a lexicographically greater grade is worse.
var ValidGrades = []string{"A", "B", "C", "D", "F"}

// IsValidGrade reports whether g is a member of the closed grade set.
func IsValidGrade(g string) bool {
	for _, v := range ValidGrades {
		if g == v {
			return true
		}
	}
	return false
}

// GradeWorse reports whether a is strictly worse than b. Grades are
// restricted to A,B,C,D,F so byte comparison matches severity order.
func GradeWorse(a, b string) bool {
	return a > b
}

// IsValidCheckStatus reports whether s is a member of the check status set.
func IsValidCheckStatus(s string) bool {
	switch s {
	case CheckStatusPass, CheckStatusFail, CheckStatusFixed, CheckStatusSkipped:
		return true
	}
	return false
}
