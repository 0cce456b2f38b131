package store

import (
	"strings"
	"testing"
)

func TestListExecutionsQuery(t *testing.T) {
	// Limited, user-scoped list (API path).
	q, args := listExecutionsQuery("alice", 50)
	if !strings.Contains(q, "WHERE user_id = $1") {
		t.Errorf("user-scoped query missing filter: %s", q)
	}
	if !strings.HasSuffix(q, "LIMIT 50") {
		t.Errorf("query missing limit: %s", q)
	}
	if len(args) != 1 || args[0] != "alice" {
		t.Errorf("args = %v, want [alice]", args)
	}

	// Unlimited, all-users list (janitor path): no LIMIT clause, so old
	// terminal executions stay visible to retention sweeps.
	q, args = listExecutionsQuery("", 0)
	if strings.Contains(q, "LIMIT") {
		t.Errorf("unlimited query has a LIMIT clause: %s", q)
	}
	if strings.Contains(q, "WHERE") {
		t.Errorf("all-users query has a WHERE clause: %s", q)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}

	if q, _ := listExecutionsQuery("", -1); strings.Contains(q, "LIMIT") {
		t.Errorf("negative limit produced a LIMIT clause: %s", q)
	}
}
