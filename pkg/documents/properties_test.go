package documents

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/marmos91/dittodrive/pkg/editors"
	"github.com/marmos91/dittodrive/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// treeWalker applies random tree mutations as one user and tracks the ids
// it created.
type treeWalker struct {
	h    *harness
	rng  *rand.Rand
	user string
	ids  []string
	seq  int
}

func (w *treeWalker) pick() (*drive.DriveItem, bool) {
	if len(w.ids) == 0 {
		return nil, false
	}
	item, err := w.h.items.Get(context.Background(), company, w.ids[w.rng.IntN(len(w.ids))])
	if err != nil {
		return nil, false
	}
	return item, true
}

// destination returns a root or a random existing directory.
func (w *treeWalker) destination() string {
	roots := []string{drive.RootID, drive.PersonalRootID(w.user)}
	for range 4 {
		if item, ok := w.pick(); ok && item.IsDirectory {
			return item.ID
		}
	}
	return roots[w.rng.IntN(len(roots))]
}

func (w *treeWalker) step(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	ec := as(w.user)
	w.seq++

	switch op := w.rng.IntN(7); op {
	case 0, 1:
		parent := w.destination()
		item, err := w.h.svc.Create(ctx, CreateRequest{ParentID: parent, Name: fmt.Sprintf("d%d", w.seq), IsDirectory: true}, ec)
		w.allow(t, err)
		w.track(item, err)
		return fmt.Sprintf("mkdir under %s: %v", parent, err)
	case 2:
		parent := w.destination()
		content := strings.Repeat("x", 1+w.rng.IntN(64))
		item, err := w.h.svc.Create(ctx, CreateRequest{
			ParentID: parent,
			Name:     fmt.Sprintf("f%d.bin", w.seq),
			Version:  VersionRequest{Content: strings.NewReader(content)},
		}, ec)
		w.allow(t, err)
		w.track(item, err)
		return fmt.Sprintf("create %d bytes under %s: %v", len(content), parent, err)
	case 3:
		item, ok := w.pick()
		if !ok {
			return "move: nothing to move"
		}
		target := w.destination()
		_, err := w.h.svc.Update(ctx, item.ID, UpdateRequest{ParentID: &target}, ec)
		w.allow(t, err)
		return fmt.Sprintf("move %s to %s: %v", item.ID, target, err)
	case 4:
		item, ok := w.pick()
		if !ok {
			return "delete: nothing to delete"
		}
		err := w.h.svc.Delete(ctx, item.ID, ec)
		w.allow(t, err)
		return fmt.Sprintf("delete %s (trashed=%v): %v", item.ID, item.IsInTrash, err)
	case 5:
		item, ok := w.pick()
		if !ok {
			return "restore: nothing to restore"
		}
		_, err := w.h.svc.Restore(ctx, item.ID, ec)
		w.allow(t, err)
		return fmt.Sprintf("restore %s: %v", item.ID, err)
	default:
		item, ok := w.pick()
		if !ok || item.IsDirectory {
			return "version: no file picked"
		}
		content := strings.Repeat("y", 1+w.rng.IntN(64))
		_, err := w.h.svc.CreateVersion(ctx, item.ID, VersionRequest{Content: strings.NewReader(content)}, ec)
		w.allow(t, err)
		return fmt.Sprintf("version %s with %d bytes: %v", item.ID, len(content), err)
	}
}

func (w *treeWalker) track(item *drive.DriveItem, err error) {
	if err == nil {
		w.ids = append(w.ids, item.ID)
	}
}

// allow accepts rejected requests, such as moving into a descendant or
// touching an already purged item, but never internal failures.
func (w *treeWalker) allow(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		return
	}
	kind := KindOf(err)
	require.Contains(t, []ErrorKind{KindInvalidOperation, KindNotFound, KindUnauthorized}, kind, "unexpected failure: %v", err)
}

// checkTree asserts that every directory's size is the sum of its children
// not flagged in trash, and that no parent chain loops back on itself.
func checkTree(t *testing.T, h *harness, last string) {
	t.Helper()
	all, err := h.items.FindAll(context.Background(), repository.Filter{repository.FieldCompanyID: company}, 50)
	require.NoError(t, err)

	byID := make(map[string]*drive.DriveItem, len(all))
	sums := make(map[string]int64, len(all))
	for _, item := range all {
		byID[item.ID] = item
		if !item.IsInTrash {
			sums[item.ParentID] += item.Size
		}
	}

	for _, item := range all {
		if item.IsDirectory {
			assert.Equal(t, sums[item.ID], item.Size, "size of %s after %q", item.Name, last)
		}

		seen := map[string]struct{}{item.ID: {}}
		for id := item.ParentID; !drive.IsVirtualFolder(id); {
			parent, ok := byID[id]
			if !ok {
				break
			}
			_, loop := seen[id]
			require.False(t, loop, "%s is its own ancestor after %q", item.ID, last)
			seen[id] = struct{}{}
			id = parent.ParentID
		}
	}
}

func TestRandomTreeOperationsKeepSizesAndAcyclicity(t *testing.T) {
	for seed := uint64(1); seed <= 12; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			h := newHarness(t)
			w := &treeWalker{h: h, rng: rand.New(rand.NewPCG(seed, seed*31)), user: "alice"}
			for range 60 {
				last := w.step(t)
				checkTree(t, h, last)
			}
		})
	}
}

func TestBeginEditingDistinctInstancesRace(t *testing.T) {
	const racers = 16

	race := func(t *testing.T, h *harness, id string) string {
		t.Helper()
		keys := make([]string, racers)
		errs := make([]error, racers)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				keys[i], errs[i] = h.svc.BeginEditing(context.Background(), id, "office", fmt.Sprintf("instance-%d", i), as("alice"))
			}()
		}
		close(start)
		wg.Wait()

		for i := range racers {
			require.NoError(t, errs[i], "racer %d", i)
		}
		for i := 1; i < racers; i++ {
			assert.Equal(t, keys[0], keys[i], "racer %d got a different session", i)
		}

		stored := h.reload(t, id).EditingSessionKey
		require.NotNil(t, stored)
		assert.Equal(t, keys[0], *stored)

		session, err := drive.ParseEditingSessionKey(*stored)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(session.AppInstanceID, "instance-"))
		return *stored
	}

	t.Run("NoSession", func(t *testing.T) {
		h := newHarness(t)
		doc := h.file(t, drive.RootID, "doc.docx", "v1", "alice")
		race(t, h, doc.ID)
	})

	t.Run("ExpiredSession", func(t *testing.T) {
		h := newHarness(t)
		doc := h.file(t, drive.RootID, "doc.docx", "v1", "alice")
		old, err := h.svc.BeginEditing(context.Background(), doc.ID, "office", "stale", as("alice"))
		require.NoError(t, err)
		h.editors.Set(old, editors.StatusExpired)

		next := race(t, h, doc.ID)
		assert.NotEqual(t, old, next)
	})
}
