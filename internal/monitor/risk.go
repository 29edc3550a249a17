package monitor

// riskKey pairs an event type with its outcome for rule lookup.
type riskKey struct {
	Type    EventType
	Success bool
}

// riskRules maps event outcomes to risk levels. Missing entries fall back
// to LOW via classifyRisk. Kept as a table so it can be tested apart from
// the ingestion path.
var riskRules = map[riskKey]RiskLevel{
	{EventLogin, false}:      RiskHigh,
	{EventOTPAttempt, false}: RiskHigh,
	{EventTokenCheck, false}: RiskMedium,

	{EventDataMutation, true}:  RiskMedium,
	{EventDataMutation, false}: RiskHigh,
	{EventAdminAction, true}:   RiskMedium,
	{EventAdminAction, false}:  RiskHigh,

	{EventXSSAttempt, true}:        RiskHigh,
	{EventXSSAttempt, false}:       RiskHigh,
	{EventInjectionAttempt, true}:  RiskCritical,
	{EventInjectionAttempt, false}: RiskCritical,
	{EventAnomaly, true}:           RiskMedium,
	{EventAnomaly, false}:          RiskMedium,
}

func classifyRisk(t EventType, success bool) RiskLevel {
	if lvl, ok := riskRules[riskKey{t, success}]; ok {
		return lvl
	}
	return RiskLow
}
