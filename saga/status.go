package saga

// Status Saga 状态.
type Status string

// Saga 状态.
const (
	StatusStarted      Status = "STARTED"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
)

// transitions 允许的状态迁移，终态不出现在键中.
var transitions = map[Status][]Status{
	StatusStarted:      {StatusInProgress, StatusFailed},
	StatusInProgress:   {StatusInProgress, StatusCompleted, StatusCompensating, StatusFailed},
	StatusCompensating: {StatusCompensating, StatusCompensated, StatusFailed},
}

// String 返回状态字符串.
func (s Status) String() string {
	return string(s)
}

// IsTerminal 是否为终态.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated:
		return true
	}
	return false
}

// IsValid 是否为已知状态.
func (s Status) IsValid() bool {
	switch s {
	case StatusStarted, StatusInProgress, StatusCompleted,
		StatusFailed, StatusCompensating, StatusCompensated:
		return true
	}
	return false
}

// CanTransitionTo 判断是否允许迁移到 next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ActiveStatuses 返回所有非终态.
func ActiveStatuses() []Status {
	return []Status{StatusStarted, StatusInProgress, StatusCompensating}
}
