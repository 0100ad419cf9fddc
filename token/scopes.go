package token

import (
	"encoding/json"
	"sort"
	"strings"
)

type nullValue = struct{}

// Scopes is an unordered set of granted scopes. It serialises as a sorted
// JSON array so the persisted form is stable.
type Scopes map[string]nullValue

func NewScopes(scopes ...string) Scopes {
	s := make(Scopes, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			s[scope] = nullValue{}
		}
	}
	return s
}

// ParseScopes splits an OAuth2 "scope" value (space separated).
func ParseScopes(scope string) Scopes {
	return NewScopes(strings.Fields(scope)...)
}

func (s Scopes) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

func (s Scopes) List() []string {
	list := make([]string, 0, len(s))
	for scope := range s {
		list = append(list, scope)
	}
	sort.Strings(list)
	return list
}

func (s Scopes) String() string {
	return strings.Join(s.List(), " ")
}

func (s Scopes) Clone() Scopes {
	return NewScopes(s.List()...)
}

func (s Scopes) Equal(o Scopes) bool {
	if len(s) != len(o) {
		return false
	}
	for scope := range s {
		if !o.Has(scope) {
			return false
		}
	}
	return true
}

func (s Scopes) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *Scopes) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = NewScopes(list...)
	return nil
}
