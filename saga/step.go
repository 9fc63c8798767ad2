package saga

import "strings"

// Step 步骤名称.
type Step string

// 正向步骤.
const (
	StepValidateItems    Step = "VALIDATE_ITEMS"
	StepCalculatePricing Step = "CALCULATE_PRICING"
	StepApplyDiscounts   Step = "APPLY_DISCOUNTS"
	StepCreateOrder      Step = "CREATE_ORDER"
	StepProcessPayment   Step = "PROCESS_PAYMENT"
	StepGenerateTickets  Step = "GENERATE_TICKETS"
)

// 补偿步骤.
const (
	StepCancelPayment    Step = "CANCEL_PAYMENT"
	StepCancelOrder      Step = "CANCEL_ORDER"
	StepReleaseDiscounts Step = "RELEASE_DISCOUNTS"
	StepCleanupItems     Step = "CLEANUP_ITEMS"
)

// TypeCheckout 结账 Saga 类型.
const TypeCheckout = "CHECKOUT"

// OutcomeTopic 所有步骤结果事件的主题.
const OutcomeTopic = "saga.outcome"

// forward 正向步骤链.
var forward = []Step{
	StepValidateItems,
	StepCalculatePricing,
	StepApplyDiscounts,
	StepCreateOrder,
	StepProcessPayment,
	StepGenerateTickets,
}

// compensationTable 以失败步骤为键的补偿表.
//
// 某个失败步骤之前的最后一个已完成步骤由该补偿撤销.
var compensationTable = map[Step]Step{
	StepGenerateTickets: StepCancelPayment,
	StepProcessPayment:  StepCancelOrder,
	StepCreateOrder:     StepReleaseDiscounts,
	StepApplyDiscounts:  StepCleanupItems,
}

// ForwardSteps 返回正向步骤链的副本.
func ForwardSteps() []Step {
	return append([]Step(nil), forward...)
}

// CompensationSteps 返回全部补偿步骤.
func CompensationSteps() []Step {
	return []Step{StepCancelPayment, StepCancelOrder, StepReleaseDiscounts, StepCleanupItems}
}

// FirstStep 返回第一个正向步骤.
func FirstStep() Step {
	return forward[0]
}

// String 返回步骤字符串.
func (s Step) String() string {
	return string(s)
}

// IsForward 是否为正向步骤.
func (s Step) IsForward() bool {
	return s.index() >= 0
}

// IsCompensation 是否为补偿步骤.
func (s Step) IsCompensation() bool {
	for _, c := range compensationTable {
		if c == s {
			return true
		}
	}
	return false
}

func (s Step) index() int {
	for i, f := range forward {
		if f == s {
			return i
		}
	}
	return -1
}

// Next 返回下一个正向步骤，链尾返回 false.
func (s Step) Next() (Step, bool) {
	i := s.index()
	if i < 0 || i == len(forward)-1 {
		return "", false
	}
	return forward[i+1], true
}

// CompensationFor 返回撤销已完成步骤 completed 的补偿步骤.
func CompensationFor(completed Step) (Step, bool) {
	next, ok := completed.Next()
	if !ok {
		return "", false
	}
	c, ok := compensationTable[next]
	return c, ok
}

// TopicFor 返回步骤命令主题，如 saga.validate_items.
func TopicFor(step Step) string {
	return "saga." + strings.ToLower(string(step))
}
