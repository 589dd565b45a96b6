package room_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/pkg/types"
)

func participant(id string) types.Participant {
	return types.Participant{ID: id, DisplayName: "User " + id}
}

func ids(ps []types.Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	t.Parallel()

	r := room.NewRegistry()
	first, added := r.Join("s1", participant("alice"))
	if !added {
		t.Error("first Join added = false, want true")
	}
	second, added := r.Join("s1", participant("alice"))
	if added {
		t.Error("second Join added = true, want false")
	}
	if fmt.Sprint(ids(first)) != fmt.Sprint(ids(second)) {
		t.Errorf("second Join members = %v, want %v", ids(second), ids(first))
	}
	if got := r.MembersOf("s1"); len(got) != 1 {
		t.Errorf("MembersOf = %v, want exactly one alice", ids(got))
	}
}

func TestRegistry_JoinOrderPreserved(t *testing.T) {
	t.Parallel()

	r := room.NewRegistry()
	r.Join("s1", participant("a"))
	r.Join("s1", participant("b"))
	members, _ := r.Join("s1", participant("c"))

	if got := fmt.Sprint(ids(members)); got != "[a b c]" {
		t.Errorf("members = %s, want [a b c]", got)
	}
}

func TestRegistry_LeaveDeletesEmptyRoom(t *testing.T) {
	t.Parallel()

	r := room.NewRegistry()
	r.Join("s1", participant("a"))
	r.Join("s1", participant("b"))

	if !r.Leave("s1", "a") {
		t.Error("Leave(a) = false, want true")
	}
	if r.Leave("s1", "a") {
		t.Error("second Leave(a) = true, want false")
	}
	if rooms, _ := r.Stats(); rooms != 1 {
		t.Errorf("rooms = %d, want 1", rooms)
	}
	r.Leave("s1", "b")
	if rooms, members := r.Stats(); rooms != 0 || members != 0 {
		t.Errorf("Stats() = (%d, %d), want (0, 0)", rooms, members)
	}
	if r.MembersOf("s1") != nil {
		t.Error("MembersOf(empty room) != nil")
	}
	if r.Leave("unknown", "x") {
		t.Error("Leave on unknown room = true")
	}
}

func TestRegistry_ReturnedSlicesAreCopies(t *testing.T) {
	t.Parallel()

	r := room.NewRegistry()
	members, _ := r.Join("s1", participant("a"))
	members[0].ID = "mutated"

	if !r.IsMember("s1", "a") {
		t.Error("caller mutation leaked into registry")
	}
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	t.Parallel()

	r := room.NewRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			session := fmt.Sprintf("s%d", i%5)
			r.Join(session, participant(id))
			r.Join(session, participant(id))
			if i%2 == 0 {
				r.Leave(session, id)
			}
		}()
	}
	wg.Wait()

	_, members := r.Stats()
	if members != 25 {
		t.Errorf("members = %d, want 25", members)
	}
}
