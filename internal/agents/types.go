package agents

// AgentKey identifies a crew member in the definitions.
type AgentKey string

const (
	AgentFinancialAnalyst  AgentKey = "financial_analyst"
	AgentVerifier          AgentKey = "verifier"
	AgentInvestmentAdvisor AgentKey = "investment_advisor"
	AgentRiskAssessor      AgentKey = "risk_assessor"
)

func (k AgentKey) String() string { return string(k) }

// TaskKey identifies a task and doubles as its output key in session state.
type TaskKey string

const (
	TaskVerification        TaskKey = "verification"
	TaskAnalyzeDocument     TaskKey = "analyze_financial_document"
	TaskInvestmentAnalysis  TaskKey = "investment_analysis"
	TaskRiskAssessment      TaskKey = "risk_assessment"
)

func (k TaskKey) String() string { return string(k) }
