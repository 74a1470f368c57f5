package restapi

import (
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	s := NewMethodSet()
	h := func(c *gin.Context) {}

	if err := s.RegisterMethod(GET, "/databases", h); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterMethod(GET, "/databases", h); err == nil {
		t.Fatalf("duplicate verb+path registration should be rejected")
	}
	// Same path under another verb is a different method.
	if err := s.RegisterMethod(POST, "/databases", h); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Methods()); got != 2 {
		t.Fatalf("expected 2 registered methods, got %d", got)
	}
}

func TestMethodSetsAreIndependent(t *testing.T) {
	h := func(c *gin.Context) {}
	first := NewMethodSet()
	if err := first.RegisterMethod(GET, "/databases", h); err != nil {
		t.Fatal(err)
	}

	// A second instance starts from a clean map, as a restarted feature does.
	second := NewMethodSet()
	if err := second.RegisterMethod(GET, "/databases", h); err != nil {
		t.Fatalf("fresh set should accept the same route: %v", err)
	}
	if len(first.Methods()) != 1 || len(second.Methods()) != 1 {
		t.Fatalf("sets should not share state")
	}
}
