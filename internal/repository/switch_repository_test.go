package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/draftpulse/contest-payments/internal/domain"
)

func TestSwitchUpsertCreatesAndUpdates(t *testing.T) {
	repo := NewSwitchRepository(newRepositoryDBForTest(t))
	ctx := context.Background()

	sw := &domain.OperationSwitch{Key: "PayPal.Deposits", Enabled: false, Description: "  maintenance  "}
	if err := repo.UpsertSwitch(ctx, sw); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Keys are normalized to lowercase, descriptions trimmed.
	found, err := repo.FindSwitchByKey(ctx, "paypal.deposits")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Enabled || found.Description != "maintenance" {
		t.Fatalf("unexpected switch %+v", found)
	}

	update := &domain.OperationSwitch{Key: "paypal.deposits", Enabled: true, Description: "back online"}
	if err := repo.UpsertSwitch(ctx, update); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	found, err = repo.FindSwitchByKey(ctx, "PAYPAL.DEPOSITS")
	if err != nil {
		t.Fatalf("find after update: %v", err)
	}
	if !found.Enabled || found.Description != "back online" {
		t.Fatalf("expected updated switch, got %+v", found)
	}
	if found.ID != sw.ID {
		t.Fatalf("expected the same row updated, got %d and %d", sw.ID, found.ID)
	}
}

func TestSwitchFindMissingKey(t *testing.T) {
	repo := NewSwitchRepository(newRepositoryDBForTest(t))
	if _, err := repo.FindSwitchByKey(context.Background(), "paypal.refunds"); !errors.Is(err, ErrSwitchNotFound) {
		t.Fatalf("expected ErrSwitchNotFound, got %v", err)
	}
}

func TestSwitchDelete(t *testing.T) {
	repo := NewSwitchRepository(newRepositoryDBForTest(t))
	ctx := context.Background()

	if err := repo.UpsertSwitch(ctx, &domain.OperationSwitch{Key: "paypal.deposits", Enabled: false}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.DeleteSwitch(ctx, "paypal.deposits"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindSwitchByKey(ctx, "paypal.deposits"); !errors.Is(err, ErrSwitchNotFound) {
		t.Fatalf("expected gone, got %v", err)
	}
	if err := repo.DeleteSwitch(ctx, "paypal.deposits"); !errors.Is(err, ErrSwitchNotFound) {
		t.Fatalf("expected second delete not found, got %v", err)
	}
}

func TestSwitchListPages(t *testing.T) {
	repo := NewSwitchRepository(newRepositoryDBForTest(t))
	ctx := context.Background()

	keys := []string{"paypal.deposits", "paypal.refunds", "paypal.withdrawals"}
	for _, key := range keys {
		if err := repo.UpsertSwitch(ctx, &domain.OperationSwitch{Key: key, Enabled: true}); err != nil {
			t.Fatalf("upsert %s: %v", key, err)
		}
	}

	page, err := repo.ListSwitches(ctx, PageRequest{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d pages=%d items=%d", page.Total, page.TotalPages, len(page.Items))
	}
	if page.Items[0].Key != "paypal.deposits" {
		t.Fatalf("expected key-ordered listing, got %s first", page.Items[0].Key)
	}

	page, err = repo.ListSwitches(ctx, PageRequest{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Key != "paypal.withdrawals" {
		t.Fatalf("unexpected second page %+v", page.Items)
	}
}
