package restapi

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

type HTTPVerb int

const (
	Unknown = iota
	GET
	GET_ONE
	DELETE
	POST
	PUT
	PATCH
)

type RestMethod struct {
	Verb    HTTPVerb
	Path    string
	Handler func(c *gin.Context)
}

// MethodSet holds the REST methods of one API instance. Each Feature builds
// its own set on start, so restarting a feature (or running two side by side)
// never reuses handlers bound to another instance.
type MethodSet struct {
	methods map[string]RestMethod
}

func NewMethodSet() *MethodSet {
	return &MethodSet{methods: make(map[string]RestMethod)}
}

// RegisterMethod is a helper function for Register.
func (s *MethodSet) RegisterMethod(verb HTTPVerb, path string, h func(c *gin.Context)) error {
	m := RestMethod{
		Verb:    verb,
		Path:    path,
		Handler: h,
	}
	return s.Register(m)
}

// Register your REST method using this function.
func (s *MethodSet) Register(m RestMethod) error {
	key := fmt.Sprintf("%d_%s", m.Verb, m.Path)
	if _, exists := s.methods[key]; exists {
		return fmt.Errorf("can't add %s, an existing handler in REST method map exists", key)
	}
	s.methods[key] = m
	return nil
}

// Methods returns the registered REST methods.
func (s *MethodSet) Methods() []RestMethod {
	r := make([]RestMethod, 0, len(s.methods))
	for _, m := range s.methods {
		r = append(r, m)
	}
	return r
}
