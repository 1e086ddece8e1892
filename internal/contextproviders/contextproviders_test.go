package contextproviders

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBuildSectionsRunsAndCaches(t *testing.T) {
	r := NewRegistry([]Provider{{Name: "echo", Command: "echo", Args: []string{"hello"}, TTL: time.Minute}})
	sections := r.BuildSections(context.Background())
	if len(sections) != 1 || !strings.Contains(sections[0], "hello") {
		t.Fatalf("unexpected sections: %v", sections)
	}
}

func TestBuildSectionsSkipsFailingProvider(t *testing.T) {
	r := NewRegistry([]Provider{{Name: "bad", Command: "/nonexistent/binary", TTL: time.Minute}})
	sections := r.BuildSections(context.Background())
	if len(sections) != 0 {
		t.Fatalf("expected failing provider to be skipped, got %v", sections)
	}
}
