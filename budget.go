package hashiru

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BudgetController tracks the two scalar budgets and admits or rejects
// create/invoke requests. Costs are reserved at create and charged at
// invoke; deleting an agent or tool refunds only its create-time resource
// reservation, never expense.
//
// All mutations serialize under one mutex. Reserve is the only multi-field
// atomic primitive: it validates both dimensions before incrementing either.
type BudgetController struct {
	mu sync.Mutex

	totalResource   float64
	usedResource    float64
	resourceEnabled bool

	totalExpense   float64
	usedExpense    float64
	expenseEnabled bool

	logger *slog.Logger
}

// BudgetSnapshot is a consistent read of the controller state.
type BudgetSnapshot struct {
	TotalResource     float64 `json:"total_resource_budget"`
	UsedResource      float64 `json:"current_resource_usage"`
	RemainingResource float64 `json:"current_remaining_resource_budget"`
	TotalExpense      float64 `json:"total_expense_budget"`
	UsedExpense       float64 `json:"current_expense"`
	RemainingExpense  float64 `json:"current_remaining_expense_budget"`
}

// BudgetOption configures a BudgetController.
type BudgetOption func(*BudgetController)

// WithTotalResource overrides the detected resource capacity.
func WithTotalResource(total float64) BudgetOption {
	return func(b *BudgetController) { b.totalResource = total }
}

// WithTotalExpense sets the monetary budget in dollars.
func WithTotalExpense(total float64) BudgetOption {
	return func(b *BudgetController) { b.totalExpense = total }
}

// WithBudgetLogger sets the structured logger for budget events.
func WithBudgetLogger(l *slog.Logger) BudgetOption {
	return func(b *BudgetController) { b.logger = l }
}

// NewBudgetController creates a controller with both dimensions enabled.
// Unless WithTotalResource overrides it, resource capacity comes from
// DetectCapacity.
func NewBudgetController(opts ...BudgetOption) *BudgetController {
	b := &BudgetController{
		totalResource:   -1,
		resourceEnabled: true,
		expenseEnabled:  true,
		logger:          nopLogger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.totalResource < 0 {
		b.totalResource = DetectCapacity(b.logger)
	}
	b.logger.Info("budget initialized",
		"total_resource", b.totalResource,
		"total_expense", b.totalExpense)
	return b
}

// CanSpendResource reports whether cost fits in the remaining resource
// budget. Always true when the resource dimension is disabled.
func (b *BudgetController) CanSpendResource(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canSpendResourceLocked(cost)
}

// CanSpendExpense reports whether cost fits in the remaining expense budget.
func (b *BudgetController) CanSpendExpense(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canSpendExpenseLocked(cost)
}

func (b *BudgetController) canSpendResourceLocked(cost float64) bool {
	return !b.resourceEnabled || b.usedResource+cost <= b.totalResource
}

func (b *BudgetController) canSpendExpenseLocked(cost float64) bool {
	return !b.expenseEnabled || b.usedExpense+cost <= b.totalExpense
}

// Reserve atomically charges both dimensions. On any admission failure
// neither counter moves and the error identifies the failing dimension.
func (b *BudgetController) Reserve(resourceCost, expenseCost float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.canSpendResourceLocked(resourceCost) {
		return &ErrBudgetExceeded{
			Dimension: DimensionResource,
			Requested: resourceCost,
			Remaining: b.totalResource - b.usedResource,
		}
	}
	if !b.canSpendExpenseLocked(expenseCost) {
		return &ErrBudgetExceeded{
			Dimension: DimensionExpense,
			Requested: expenseCost,
			Remaining: b.totalExpense - b.usedExpense,
		}
	}
	b.usedResource += resourceCost
	b.usedExpense += expenseCost
	return nil
}

// RefundResource returns a create-time resource reservation. A refund that
// would drive the counter negative clamps to zero and reports the
// corruption as an invariant error.
func (b *BudgetController) RefundResource(cost float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if used := b.usedResource; used-cost < 0 {
		b.usedResource = 0
		return &ErrInvariant{Message: fmt.Sprintf(
			"resource refund of %g exceeds used %g", cost, used)}
	}
	b.usedResource -= cost
	return nil
}

// SetResourceEnabled toggles admission on the resource dimension.
func (b *BudgetController) SetResourceEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resourceEnabled = enabled
}

// SetExpenseEnabled toggles admission on the expense dimension.
func (b *BudgetController) SetExpenseEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expenseEnabled = enabled
}

// Snapshot returns a consistent view of all six budget fields.
func (b *BudgetController) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BudgetSnapshot{
		TotalResource:     b.totalResource,
		UsedResource:      b.usedResource,
		RemainingResource: b.totalResource - b.usedResource,
		TotalExpense:      b.totalExpense,
		UsedExpense:       b.usedExpense,
		RemainingExpense:  b.totalExpense - b.usedExpense,
	}
}

// RemainingResource returns the uncommitted resource budget.
func (b *BudgetController) RemainingResource() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalResource - b.usedResource
}

// RemainingExpense returns the unspent expense budget.
func (b *BudgetController) RemainingExpense() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalExpense - b.usedExpense
}

// --- startup capacity detection ---

// DetectCapacity sizes the resource budget from detected host memory:
// round(((ram_gb + vram_gb) / 16) * 100). RAM comes from /proc/meminfo and
// VRAM from nvidia-smi when present; a host without either probe falls back
// to a 16 GB-equivalent budget of 100 units.
func DetectCapacity(logger *slog.Logger) float64 {
	if logger == nil {
		logger = nopLogger
	}
	ramGB := detectRAMGB()
	vramGB := detectVRAMGB()
	if ramGB == 0 && vramGB == 0 {
		logger.Warn("no memory probe available, using default resource budget")
		return 100
	}
	logger.Info("detected host memory", "ram_gb", ramGB, "vram_gb", vramGB)
	return math.Round((ramGB + vramGB) / 16 * 100)
}

// detectRAMGB reads MemTotal from /proc/meminfo. Returns 0 when unavailable.
func detectRAMGB() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		return kb / (1024 * 1024)
	}
	return 0
}

// detectVRAMGB sums total memory across GPUs reported by nvidia-smi.
// Returns 0 when no GPU or no nvidia-smi binary is present.
func detectVRAMGB() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0
	}
	var totalMB float64
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		mb, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			continue
		}
		totalMB += mb
	}
	return totalMB / 1024
}
