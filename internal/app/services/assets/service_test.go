package assets

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/staking_ledger/internal/app/storage/memory"
)

func TestService_MintTransferApprove(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)

	if _, err := svc.Mint(ctx, " kla ", "alice", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := svc.Mint(ctx, "KLA", "alice", big.NewInt(0)); err == nil {
		t.Fatalf("expected zero mint to fail")
	}

	if _, err := svc.Transfer(ctx, "KLA", "alice", "bob", big.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := svc.Transfer(ctx, "KLA", "bob", "alice", big.NewInt(31)); !errors.Is(err, asset.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	if _, err := svc.TransferFrom(ctx, "carol", "KLA", "alice", "carol", big.NewInt(10)); !errors.Is(err, asset.ErrNotApproved) {
		t.Fatalf("expected not approved, got %v", err)
	}
	if err := svc.Approve(ctx, "KLA", "alice", "carol", big.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.TransferFrom(ctx, "carol", "KLA", "alice", "carol", big.NewInt(10)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}

	alice, _ := svc.BalanceOf(ctx, "KLA", "alice")
	bob, _ := svc.BalanceOf(ctx, "kla", "bob")
	carol, _ := svc.BalanceOf(ctx, "KLA", "carol")
	if alice.Int64() != 60 || bob.Int64() != 30 || carol.Int64() != 10 {
		t.Fatalf("unexpected balances alice=%s bob=%s carol=%s", alice, bob, carol)
	}
	left, _ := svc.Allowance(ctx, "KLA", "alice", "carol")
	if left.Sign() != 0 {
		t.Fatalf("expected allowance consumed, got %s", left)
	}

	history, err := svc.History(ctx, "KLA", "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 transfers touching alice, got %d", len(history))
	}
}

func TestService_ApproveRejectsNegative(t *testing.T) {
	svc := New(memory.New(), nil)
	if err := svc.Approve(context.Background(), "KLA", "alice", "vault", big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative allowance to fail")
	}
}

func TestCustodyAdapter_DebitCredit(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), nil)
	custody := NewCustodyAdapter(svc, "vault")

	if _, err := svc.Mint(ctx, "LINK", "alice", big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := custody.Debit(ctx, "alice", "LINK", big.NewInt(20)); !errors.Is(err, asset.ErrNotApproved) {
		t.Fatalf("debit without allowance should fail with not approved, got %v", err)
	}
	if err := svc.Approve(ctx, "LINK", "alice", "vault", big.NewInt(20)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := custody.Debit(ctx, "alice", "LINK", big.NewInt(20)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := custody.Credit(ctx, "alice", "LINK", big.NewInt(25)); !errors.Is(err, asset.ErrInsufficientFunds) {
		t.Fatalf("credit beyond custody should fail, got %v", err)
	}
	if err := custody.Credit(ctx, "alice", "LINK", big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	alice, _ := svc.BalanceOf(ctx, "LINK", "alice")
	vault, _ := svc.BalanceOf(ctx, "LINK", "vault")
	if alice.Int64() != 35 || vault.Int64() != 15 {
		t.Fatalf("unexpected balances alice=%s vault=%s", alice, vault)
	}
}
