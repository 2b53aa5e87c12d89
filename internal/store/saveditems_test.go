package store

import (
	"context"
	"sync"
	"testing"

	"github.com/cartworks/tally/internal/model"
)

func TestCreateSavedItemDuplicateIsNoOp(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	item := &model.SavedItem{
		UserID:           "owner1",
		Type:             model.SavedItemException,
		LinkedEntityType: model.EntitySettlement,
		LinkedEntityID:   "st1",
		Note:             "short by 150",
		Severity:         model.SeverityMedium,
	}

	first, created, err := st.CreateSavedItem(ctx, item)
	if err != nil {
		t.Fatalf("CreateSavedItem failed: %v", err)
	}
	if !created {
		t.Fatal("first create should report created=true")
	}

	second, created, err := st.CreateSavedItem(ctx, &model.SavedItem{
		UserID:           "owner1",
		Type:             model.SavedItemException,
		LinkedEntityType: model.EntitySettlement,
		LinkedEntityID:   "st1",
		Note:             "different note, same target",
		Severity:         model.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("duplicate CreateSavedItem errored: %v", err)
	}
	if created {
		t.Fatal("duplicate create should report created=false")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate should return the existing item, got %s want %s", second.ID, first.ID)
	}
}

func TestCreateSavedItemDistinctUsersAndTargets(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	base := model.SavedItem{
		Type:             model.SavedItemException,
		LinkedEntityType: model.EntitySettlement,
		Severity:         model.SeverityMedium,
	}

	for _, tc := range []struct{ user, target string }{
		{"owner1", "st1"},
		{"owner2", "st1"}, // same target, different user
		{"owner1", "st2"}, // same user, different target
	} {
		item := base
		item.UserID = tc.user
		item.LinkedEntityID = tc.target
		_, created, err := st.CreateSavedItem(ctx, &item)
		if err != nil {
			t.Fatalf("CreateSavedItem(%s, %s) failed: %v", tc.user, tc.target, err)
		}
		if !created {
			t.Errorf("expected (%s, %s) to be a new item", tc.user, tc.target)
		}
	}
}

func TestCreateSavedItemConcurrent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	createdCount := make(chan bool, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := st.CreateSavedItem(ctx, &model.SavedItem{
				UserID:           "owner1",
				Type:             model.SavedItemException,
				LinkedEntityType: model.EntitySettlement,
				LinkedEntityID:   "st-race",
				Severity:         model.SeverityHigh,
			})
			if err != nil {
				t.Errorf("CreateSavedItem failed: %v", err)
				return
			}
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	wins := 0
	for created := range createdCount {
		if created {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one creation to win, got %d", wins)
	}
}
