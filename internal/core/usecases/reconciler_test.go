package usecases_test

import (
	"testing"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/usecases"
)

func rider(id string, lat, lon float64) domain.Rider {
	return domain.Rider{ID: id, Position: &domain.GeoPoint{Lat: lat, Lon: lon}}
}

func TestCollection_ApplyPrependsUnknownKeys(t *testing.T) {
	c := usecases.NewCollection[domain.Rider](nil)
	c.LoadSnapshot([]domain.Rider{rider("a", 1, 1), rider("b", 2, 2)})

	c.Apply(rider("c", 3, 3))

	keys := c.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(keys))
	}
	if keys[0] != "c" {
		t.Errorf("expected new arrival first, got order %v", keys)
	}
}

func TestCollection_ApplyMergesInPlace(t *testing.T) {
	merge := func(existing, update domain.Rider) domain.Rider {
		merged := update
		if merged.Name == "" {
			merged.Name = existing.Name
		}
		return merged
	}
	c := usecases.NewCollection(merge)
	c.LoadSnapshot([]domain.Rider{
		{ID: "a", Name: "Asha"},
		{ID: "b", Name: "Bram"},
	})

	merged := c.Apply(rider("a", 5, 5))

	if merged.Name != "Asha" {
		t.Errorf("merge dropped field absent from update: name = %q", merged.Name)
	}
	keys := c.Keys()
	if keys[0] != "a" || keys[1] != "b" {
		t.Errorf("known-key update must not reorder, got %v", keys)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
}

func TestCollection_LoadSnapshotReplacesWholesale(t *testing.T) {
	c := usecases.NewCollection[domain.Rider](nil)
	c.LoadSnapshot([]domain.Rider{rider("a", 1, 1), rider("b", 2, 2)})

	c.LoadSnapshot([]domain.Rider{rider("b", 2, 2), rider("c", 3, 3)})

	if _, ok := c.Get("a"); ok {
		t.Error("entry absent from new snapshot survived")
	}
	if got := c.Keys(); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("expected snapshot order [b c], got %v", got)
	}
}

func TestCollection_LateUpdateResurrectsRemovedEntry(t *testing.T) {
	c := usecases.NewCollection[domain.Rider](nil)
	c.LoadSnapshot([]domain.Rider{rider("a", 1, 1)})
	c.LoadSnapshot(nil)

	c.Apply(rider("a", 1, 2))

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("stream update after snapshot drop must re-insert the entry")
	}
	if got.Position.Lon != 2 {
		t.Errorf("expected re-inserted entry to carry the update, got %+v", got)
	}
}

func TestCollection_Remove(t *testing.T) {
	c := usecases.NewCollection[domain.Rider](nil)
	c.LoadSnapshot([]domain.Rider{rider("a", 1, 1), rider("b", 2, 2)})

	if !c.Remove("a") {
		t.Error("expected Remove to report true for a present key")
	}
	if c.Remove("a") {
		t.Error("expected Remove to report false for an absent key")
	}
	if got := c.Keys(); len(got) != 1 || got[0] != "b" {
		t.Errorf("expected [b], got %v", got)
	}
}

func TestCollection_FilterPreservesOrder(t *testing.T) {
	c := usecases.NewCollection[domain.Rider](nil)
	c.LoadSnapshot([]domain.Rider{
		{ID: "a"},
		rider("b", 2, 2),
		{ID: "c"},
		rider("d", 4, 4),
	})

	got := c.Filter(func(r domain.Rider) bool { return r.Position != nil })
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "d" {
		t.Errorf("expected [b d], got %v", got)
	}
	// A filter is a projection: the backing collection is untouched.
	if c.Len() != 4 {
		t.Errorf("filter mutated the collection: len = %d", c.Len())
	}
}

func TestCollection_SnapshotWithDuplicateKeys(t *testing.T) {
	c := usecases.NewCollection[domain.Rider](nil)
	c.LoadSnapshot([]domain.Rider{rider("a", 1, 1), rider("a", 9, 9)})

	if c.Len() != 1 {
		t.Fatalf("expected duplicate keys collapsed, got %d entries", c.Len())
	}
	got, _ := c.Get("a")
	if got.Position.Lat != 9 {
		t.Errorf("expected last duplicate to win, got %+v", got)
	}
}
