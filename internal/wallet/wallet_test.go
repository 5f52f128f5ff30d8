package wallet

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLazyCreateWithFreeCredits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("创建钱包失败: %v", err)
	}
	if !w.Balance.Equal(DefaultFreeCredits) {
		t.Fatalf("初始余额 = %s, want %s", w.Balance, DefaultFreeCredits)
	}
	txs, err := store.ListTransactions(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("查询流水失败: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != TxCredit || txs[0].Source != "signup_bonus" {
		t.Fatalf("赠送积分流水不符: %+v", txs)
	}
}

func TestTransactionChainInvariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Credit(ctx, "user-1", decimal.NewFromInt(50), "purchase"); err != nil {
		t.Fatalf("充值失败: %v", err)
	}
	if _, err := store.Debit(ctx, "user-1", decimal.NewFromInt(30), "execution"); err != nil {
		t.Fatalf("扣费失败: %v", err)
	}
	if _, err := store.Debit(ctx, "user-1", decimal.NewFromInt(20), "execution"); err != nil {
		t.Fatalf("扣费失败: %v", err)
	}

	txs, err := store.ListTransactions(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("查询流水失败: %v", err)
	}
	for i, tx := range txs {
		signed := tx.Amount
		if tx.Type == TxDebit {
			signed = signed.Neg()
		}
		if !tx.BalanceAfter.Equal(tx.BalanceBefore.Add(signed)) {
			t.Fatalf("流水 %d 余额不自洽: %+v", i, tx)
		}
		if i > 0 && !tx.BalanceBefore.Equal(txs[i-1].BalanceAfter) {
			t.Fatalf("流水 %d 与上一条断链: before=%s prev_after=%s",
				i, tx.BalanceBefore, txs[i-1].BalanceAfter)
		}
	}
}

func TestDebitInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// 余额 10 的钱包执行 15 积分的扣费被拒绝，且不写流水。
	if _, err := store.Debit(ctx, "user-1", decimal.NewFromInt(90), "execution"); err != nil {
		t.Fatalf("预扣失败: %v", err)
	}
	before, _ := store.ListTransactions(ctx, "user-1", 10)

	_, err := store.Debit(ctx, "user-1", decimal.NewFromInt(15), "execution")
	if !stdErrors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("期望 ErrInsufficientCredits, got %v", err)
	}
	after, _ := store.ListTransactions(ctx, "user-1", 10)
	if len(after) != len(before) {
		t.Fatalf("拒绝的扣费不应写入流水: %d -> %d", len(before), len(after))
	}
	w, _ := store.GetOrCreate(ctx, "user-1")
	if !w.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("余额 = %s, want 10", w.Balance)
	}
}

func TestConcurrentDebitNeverNegative(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if _, err := store.GetOrCreate(ctx, "user-1"); err != nil {
		t.Fatalf("创建钱包失败: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Debit(ctx, "user-1", decimal.NewFromInt(10), "execution")
		}()
	}
	wg.Wait()

	w, err := store.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("查询钱包失败: %v", err)
	}
	if w.Balance.IsNegative() {
		t.Fatalf("余额不应为负: %s", w.Balance)
	}
	// 100 积分最多支撑 10 笔 10 积分的扣费。
	txs, _ := store.ListTransactions(ctx, "user-1", 100)
	debits := 0
	for _, tx := range txs {
		if tx.Type == TxDebit {
			debits++
		}
	}
	if debits != 10 {
		t.Fatalf("成功扣费笔数 = %d, want 10", debits)
	}
}
