package app

import (
	"errors"
	"testing"

	"github.com/keydrop/drop-service/internal/domain"
)

func TestRequiredDeposit(t *testing.T) {
	model := CostModel{
		StorageCostPerByte: 2,
		KeyStorageCost:     5,
	}
	fees := domain.FeeSchedule{DropFee: 50, KeyFee: 10}

	tests := []struct {
		name string
		in   DepositInput
		want uint64
	}{
		{
			name: "simple drop with three single-use keys",
			in: DepositInput{
				Fees:              fees,
				IncludeDropFee:    true,
				StorageDeltaBytes: 10,
				KeyCount:          3,
				UsesPerKey:        1,
				DepositPerUse:     100,
				AllowancePerKey:   7,
			},
			// 50 + 10*2 + 3*(10+7+5+100)
			want: 436,
		},
		{
			name: "extension drops the one-time drop fee",
			in: DepositInput{
				Fees:              fees,
				IncludeDropFee:    false,
				StorageDeltaBytes: 10,
				KeyCount:          3,
				UsesPerKey:        1,
				DepositPerUse:     100,
				AllowancePerKey:   7,
			},
			want: 386,
		},
		{
			name: "nft token surcharge multiplies by charged uses",
			in: DepositInput{
				Fees:                    fees,
				IncludeDropFee:          true,
				KeyCount:                2,
				UsesPerKey:              3,
				DepositPerUse:           10,
				AllowancePerKey:         9,
				TokenStorageBytesPerUse: 4,
			},
			// 50 + 2*(10+9+5 + 10*3 + 4*2*3)
			want: 206,
		},
		{
			name: "none uses are excluded from per-use charges",
			in: DepositInput{
				Fees:                    fees,
				IncludeDropFee:          true,
				KeyCount:                2,
				UsesPerKey:              3,
				DepositPerUse:           10,
				AllowancePerKey:         9,
				NoneSpecCount:           2,
				TokenStorageBytesPerUse: 4,
			},
			// 50 + 2*(10+9+5 + 10*1 + 4*2*1)
			want: 134,
		},
		{
			name: "ft registration cost covers every use including none",
			in: DepositInput{
				Fees:                     fees,
				IncludeDropFee:           true,
				KeyCount:                 1,
				UsesPerKey:               4,
				AllowancePerKey:          9,
				FTRegistrationCostPerUse: 6,
			},
			// 50 + 1*(10+9+5 + 6*4)
			want: 98,
		},
		{
			name: "function call attached deposits add per key",
			in: DepositInput{
				Fees:                     fees,
				IncludeDropFee:           true,
				KeyCount:                 2,
				UsesPerKey:               3,
				AllowancePerKey:          9,
				FCAttachedDepositsPerKey: 90,
			},
			// 50 + 2*(10+9+5+90)
			want: 278,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequiredDeposit(model, tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected required=%d, got %d", tt.want, got)
			}
		})
	}
}

func TestRequiredDepositRejectsOverflow(t *testing.T) {
	fees := domain.FeeSchedule{DropFee: 50, KeyFee: 10}

	tests := []struct {
		name  string
		model CostModel
		in    DepositInput
	}{
		{
			name:  "storage delta times byte price wraps",
			model: CostModel{StorageCostPerByte: 10_000_000_000_000_000_000},
			in: DepositInput{
				Fees:              fees,
				IncludeDropFee:    true,
				StorageDeltaBytes: 10,
				KeyCount:          1,
				UsesPerKey:        1,
				DepositPerUse:     1,
			},
		},
		{
			name:  "per-use deposit times uses wraps",
			model: CostModel{KeyStorageCost: 5},
			in: DepositInput{
				Fees:           fees,
				IncludeDropFee: true,
				KeyCount:       1,
				UsesPerKey:     4,
				DepositPerUse:  1 << 62,
			},
		},
		{
			name:  "per-key sum times key count wraps",
			model: CostModel{},
			in: DepositInput{
				Fees:            fees,
				IncludeDropFee:  true,
				KeyCount:        100,
				UsesPerKey:      1,
				DepositPerUse:   1 << 57,
				AllowancePerKey: 1 << 57,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RequiredDeposit(tt.model, tt.in); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestAllowanceForKeyRejectsOverflow(t *testing.T) {
	model := CostModel{AllowancePerComputeUnit: 1 << 32}
	if _, err := allowanceForKey(model, 1<<32, 2); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	got, err := allowanceForKey(CostModel{AllowancePerComputeUnit: 3}, 100, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1200 {
		t.Fatalf("expected allowance=1200, got %d", got)
	}
}

func TestBaseAllowanceScalesWithComputeBudget(t *testing.T) {
	model := CostModel{AllowancePerComputeUnit: 3}
	if got := model.BaseAllowance(100); got != 300 {
		t.Fatalf("expected allowance=300, got %d", got)
	}
	if got := model.BaseAllowance(0); got != 0 {
		t.Fatalf("expected allowance=0, got %d", got)
	}
}

func TestAnalyzeFunctionCallMethods(t *testing.T) {
	spec := func(deposit uint64) domain.MethodList {
		return domain.MethodList{{ReceiverID: "app.example", MethodName: "record", AttachedDeposit: deposit}}
	}

	t.Run("single shared spec multiplies by uses", func(t *testing.T) {
		attached, none, err := analyzeFunctionCallMethods([]domain.MethodList{spec(30)}, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attached != 90 {
			t.Fatalf("expected attached=90, got %d", attached)
		}
		if none != 0 {
			t.Fatalf("expected none=0, got %d", none)
		}
	})

	t.Run("per-use specs with nil none entries", func(t *testing.T) {
		attached, none, err := analyzeFunctionCallMethods([]domain.MethodList{nil, spec(10), nil}, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attached != 10 {
			t.Fatalf("expected attached=10, got %d", attached)
		}
		if none != 2 {
			t.Fatalf("expected none=2, got %d", none)
		}
	})

	t.Run("multi-method spec sums its deposits", func(t *testing.T) {
		multi := domain.MethodList{
			{ReceiverID: "a.example", MethodName: "one", AttachedDeposit: 4},
			{ReceiverID: "b.example", MethodName: "two", AttachedDeposit: 6},
		}
		attached, none, err := analyzeFunctionCallMethods([]domain.MethodList{multi}, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attached != 10 || none != 0 {
			t.Fatalf("expected attached=10 none=0, got attached=%d none=%d", attached, none)
		}
	})

	invalid := []struct {
		name    string
		methods []domain.MethodList
		uses    uint64
	}{
		{name: "single use requires exactly one spec", methods: []domain.MethodList{spec(1), spec(2)}, uses: 1},
		{name: "spec count must match uses", methods: []domain.MethodList{spec(1), spec(2)}, uses: 3},
		{name: "no specs at all", methods: nil, uses: 2},
		{name: "shared spec cannot be none", methods: []domain.MethodList{nil}, uses: 2},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := analyzeFunctionCallMethods(tt.methods, tt.uses)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
