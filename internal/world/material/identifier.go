package material

import (
	"fmt"
	"strings"
)

// Identifier names a piece of loadable content, e.g. "base:stone".
type Identifier struct {
	Namespace string
	Name      string
}

func (id Identifier) String() string {
	return id.Namespace + ":" + id.Name
}

func ParseIdentifier(s string) (Identifier, error) {
	ns, name, ok := strings.Cut(s, ":")
	if !ok || ns == "" || name == "" || strings.Contains(name, ":") {
		return Identifier{}, fmt.Errorf("malformed identifier %q (want namespace:name)", s)
	}
	return Identifier{Namespace: ns, Name: name}, nil
}
