package websocket

import "testing"

func TestRegisterStudentLastWriterWins(t *testing.T) {
	registry := NewRegistry()

	first := newClient(nil, RoleStudent)
	first.SessionID = "s-1"
	if previous := registry.RegisterStudent("s-1", first); previous != nil {
		t.Fatalf("expected no previous client, got %v", previous)
	}

	second := newClient(nil, RoleStudent)
	second.SessionID = "s-1"
	if previous := registry.RegisterStudent("s-1", second); previous != first {
		t.Fatalf("expected first client back as previous, got %v", previous)
	}

	current, ok := registry.LookupStudent("s-1")
	if !ok || current != second {
		t.Fatalf("expected second client registered, got %v ok=%v", current, ok)
	}
	if registry.StudentCount() != 1 {
		t.Fatalf("expected one student entry, got %d", registry.StudentCount())
	}
}

func TestUnregisterStudentIgnoresStaleHandle(t *testing.T) {
	registry := NewRegistry()

	replaced := newClient(nil, RoleStudent)
	registry.RegisterStudent("s-1", replaced)
	current := newClient(nil, RoleStudent)
	registry.RegisterStudent("s-1", current)

	if registry.UnregisterStudent("s-1", replaced) {
		t.Fatal("stale handle must not evict the current connection")
	}
	if got, ok := registry.LookupStudent("s-1"); !ok || got != current {
		t.Fatalf("current connection lost: got %v ok=%v", got, ok)
	}

	if !registry.UnregisterStudent("s-1", current) {
		t.Fatal("current handle should unregister")
	}
	if _, ok := registry.LookupStudent("s-1"); ok {
		t.Fatal("session should be gone after unregister")
	}
	if registry.UnregisterStudent("s-1", current) {
		t.Fatal("second unregister should be a no-op")
	}
}

func TestRegisterOperatorMintsUniqueIDs(t *testing.T) {
	registry := NewRegistry()

	a := newClient(nil, RoleOperator)
	b := newClient(nil, RoleOperator)
	idA := registry.RegisterOperator(a)
	idB := registry.RegisterOperator(b)

	if idA == "" || idB == "" || idA == idB {
		t.Fatalf("expected distinct non-empty operator ids, got %q and %q", idA, idB)
	}
	if registry.OperatorCount() != 2 {
		t.Fatalf("expected two operators, got %d", registry.OperatorCount())
	}
	if len(registry.SnapshotOperators()) != 2 {
		t.Fatalf("snapshot should contain both operators")
	}

	if !registry.UnregisterOperator(a) {
		t.Fatal("registered operator should unregister")
	}
	if registry.UnregisterOperator(a) {
		t.Fatal("second unregister should be a no-op")
	}
	if registry.OperatorCount() != 1 {
		t.Fatalf("expected one operator left, got %d", registry.OperatorCount())
	}
}
