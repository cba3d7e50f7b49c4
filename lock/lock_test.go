package lock_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gracexichen/L-Store-Database/lock"
	"github.com/gracexichen/L-Store-Database/testutil"
)

type step struct {
	thrd int
	cmd  string
	rid  int64
	fail bool
}

type granted struct {
	mutex sync.Mutex
	order []string
}

func (g *granted) add(thrd int, cmd string, rid int64) {
	g.mutex.Lock()
	g.order = append(g.order, fmt.Sprintf("%d:%s:%d", thrd, cmd, rid))
	g.mutex.Unlock()
}

func lockerThread(t *testing.T, mgr *lock.Manager, thrd int, g *granted, steps <-chan step) {
	lkr := mgr.Begin()

	for stp := range steps {
		var err error
		switch stp.cmd {
		case "exclusive":
			err = mgr.AcquireExclusive(lkr, stp.rid)
		case "shared":
			err = mgr.AcquireShared(lkr, stp.rid)
		case "try-exclusive":
			err = mgr.TryExclusive(lkr, stp.rid)
		case "try-shared":
			err = mgr.TryShared(lkr, stp.rid)
		case "release":
			lkr.Release()
			continue
		default:
			t.Errorf("unexpected command: %s", stp.cmd)
			continue
		}

		if stp.fail {
			if !errors.Is(err, lock.ErrLocked) {
				t.Errorf("%d: %s(%d) got %v want %s", thrd, stp.cmd, stp.rid, err,
					lock.ErrLocked)
			}
		} else if err != nil {
			t.Errorf("%d: %s(%d) failed with %s", thrd, stp.cmd, stp.rid, err)
		} else {
			g.add(thrd, stp.cmd, stp.rid)
		}
	}
}

func runSteps(t *testing.T, steps []step) []string {
	t.Helper()

	mgr := lock.NewManager()
	var wg sync.WaitGroup
	var g granted

	thrds := [4]chan step{
		make(chan step),
		make(chan step),
		make(chan step),
		make(chan step),
	}
	for tdx, thrd := range thrds {
		wg.Add(1)
		go func(tdx int, thrd <-chan step) {
			defer wg.Done()

			lockerThread(t, mgr, tdx, &g, thrd)
		}(tdx, thrd)
	}

	for _, stp := range steps {
		thrds[stp.thrd] <- stp
		time.Sleep(time.Millisecond)
	}

	for _, thrd := range thrds {
		close(thrd)
	}

	wg.Wait()

	if n := mgr.Len(); n != 0 {
		t.Errorf("Len() got %d want 0", n)
	}
	return g.order
}

func TestLocks(t *testing.T) {
	runSteps(t,
		[]step{
			{thrd: 0, cmd: "shared", rid: 1},
			{thrd: 1, cmd: "exclusive", rid: 2},
			{thrd: 1, cmd: "exclusive", rid: 1},
			{thrd: 0, cmd: "release"},
			{thrd: 1, cmd: "release"},

			{thrd: 0, cmd: "shared", rid: 3},
			{thrd: 1, cmd: "shared", rid: 3},
			{thrd: 0, cmd: "shared", rid: 3},
			{thrd: 1, cmd: "shared", rid: 3},
			{thrd: 0, cmd: "exclusive", rid: 3, fail: true},
			{thrd: 1, cmd: "exclusive", rid: 3, fail: true},
			{thrd: 1, cmd: "release"},
			{thrd: 0, cmd: "exclusive", rid: 3},
			{thrd: 0, cmd: "exclusive", rid: 3},
			{thrd: 0, cmd: "release"},

			{thrd: 0, cmd: "try-shared", rid: 4},
			{thrd: 1, cmd: "try-shared", rid: 4},
			{thrd: 2, cmd: "try-exclusive", rid: 4, fail: true},
			{thrd: 1, cmd: "release"},
			{thrd: 0, cmd: "try-exclusive", rid: 4},
			{thrd: 1, cmd: "try-shared", rid: 4, fail: true},
			{thrd: 0, cmd: "release"},
			{thrd: 2, cmd: "try-exclusive", rid: 4},
			{thrd: 2, cmd: "release"},

			{thrd: 0, cmd: "exclusive", rid: 5},
			{thrd: 1, cmd: "shared", rid: 5},
			{thrd: 2, cmd: "shared", rid: 5},
			{thrd: 3, cmd: "exclusive", rid: 5},
			{thrd: 0, cmd: "release"},
			{thrd: 2, cmd: "exclusive", rid: 5, fail: true},
			{thrd: 2, cmd: "release"},
			{thrd: 1, cmd: "release"},
			{thrd: 3, cmd: "exclusive", rid: 5},
			{thrd: 3, cmd: "release"},
		})
}

func TestWaitOrder(t *testing.T) {
	order := runSteps(t,
		[]step{
			{thrd: 0, cmd: "exclusive", rid: 7},
			{thrd: 1, cmd: "shared", rid: 7},
			{thrd: 2, cmd: "exclusive", rid: 7},
			{thrd: 3, cmd: "shared", rid: 7},
			{thrd: 0, cmd: "release"},
			{thrd: 1, cmd: "release"},
			{thrd: 2, cmd: "release"},
			{thrd: 3, cmd: "release"},
		})

	want := []string{
		"0:exclusive:7",
		"1:shared:7",
		"2:exclusive:7",
		"3:shared:7",
	}
	if !testutil.DeepEqual(order, want) {
		t.Errorf("granted got %v want %v", order, want)
	}
}

func TestHolds(t *testing.T) {
	mgr := lock.NewManager()
	lkr := mgr.Begin()
	lkr2 := mgr.Begin()
	if lkr.ID == lkr2.ID {
		t.Errorf("Begin() returned the same id twice: %d", lkr.ID)
	}

	err := mgr.AcquireShared(lkr, 10)
	if err != nil {
		t.Fatalf("AcquireShared(10) failed with %s", err)
	}
	held, exclusive := lkr.Holds(10)
	if !held || exclusive {
		t.Errorf("Holds(10) got %v, %v want true, false", held, exclusive)
	}
	err = mgr.AcquireExclusive(lkr, 10)
	if err != nil {
		t.Fatalf("AcquireExclusive(10) failed with %s", err)
	}
	held, exclusive = lkr.Holds(10)
	if !held || !exclusive {
		t.Errorf("Holds(10) got %v, %v want true, true", held, exclusive)
	}
	held, _ = lkr2.Holds(10)
	if held {
		t.Errorf("Holds(10) got true want false")
	}
	err = mgr.TryShared(lkr2, 10)
	if !errors.Is(err, lock.ErrLocked) {
		t.Errorf("TryShared(10) got %v want %s", err, lock.ErrLocked)
	}

	lkr.Release()
	held, _ = lkr.Holds(10)
	if held {
		t.Errorf("Holds(10) got true want false")
	}
	if n := mgr.Len(); n != 0 {
		t.Errorf("Len() got %d want 0", n)
	}
}
