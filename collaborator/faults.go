package collaborator

import (
	"context"
	"sync"
	"time"
)

// 故障注入的操作名.
const (
	OpCatalogLookup    = "catalog.lookup"
	OpCatalogReserve   = "catalog.reserve"
	OpCatalogRelease   = "catalog.release"
	OpDiscountsApply   = "discounts.apply"
	OpDiscountsRelease = "discounts.release"
	OpOrdersCreate     = "orders.create"
	OpOrdersCancel     = "orders.cancel"
	OpPaymentCharge    = "payment.charge"
	OpPaymentVerify    = "payment.verify"
	OpPaymentCancel    = "payment.cancel"
	OpTicketsIssue     = "tickets.issue"
)

// Faults 内存实现的故障注入器.
//
// Inject 的错误按顺序逐次返回，Delay 让操作在返回前等待，ctx 取消时提前返回.
type Faults struct {
	mu      sync.Mutex
	pending map[string][]error
	delays  map[string]time.Duration
	calls   map[string]int
}

// NewFaults 创建故障注入器.
func NewFaults() *Faults {
	return &Faults{
		pending: make(map[string][]error),
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]int),
	}
}

// Inject 让 op 的后续调用依次返回 errs.
func (f *Faults) Inject(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[op] = append(f.pending[op], errs...)
}

// Delay 让 op 的每次调用等待 d.
func (f *Faults) Delay(op string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[op] = d
}

// Reset 清除所有注入的故障.
func (f *Faults) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.pending)
	clear(f.delays)
}

// Calls 返回 op 被调用的次数.
func (f *Faults) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faults) take(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	delay := f.delays[op]
	var err error
	if queue := f.pending[op]; len(queue) > 0 {
		err = queue[0]
		f.pending[op] = queue[1:]
	}
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}
