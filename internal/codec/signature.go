package codec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidSignature reports a method string without parenthesis groups
	// or with a type go-ethereum cannot parse.
	ErrInvalidSignature = errors.New("invalid method signature")
	// ErrArgumentCount reports a mismatch between argument values and types.
	ErrArgumentCount = errors.New("argument count mismatch")
	// ErrReturnCount reports a mismatch between return types and result keys.
	ErrReturnCount = errors.New("return count mismatch")
)

var parenGroup = regexp.MustCompile(`\(.*?\)`)

// Method is a parsed "name(argTypes)(returnTypes)" signature.
type Method struct {
	Name        string
	Signature   string
	ArgTypes    []string
	ReturnTypes []string
}

// Selector returns the 4-byte function selector of the method.
func (m Method) Selector() []byte {
	return crypto.Keccak256([]byte(m.Signature))[:4]
}

// ParseSignature splits a method string into its name, argument types and
// return types. Nested tuple types are not supported.
func ParseSignature(method string) (Method, error) {
	method = strings.TrimSpace(method)
	open := strings.IndexByte(method, '(')
	groups := parenGroup.FindAllString(method, -1)
	if open <= 0 || len(groups) == 0 {
		return Method{}, fmt.Errorf("%w: %q", ErrInvalidSignature, method)
	}

	m := Method{
		Name:     strings.TrimSpace(method[:open]),
		ArgTypes: splitTypes(groups[0]),
	}
	if len(groups) > 1 {
		m.ReturnTypes = splitTypes(groups[1])
	}
	m.Signature = m.Name + "(" + strings.Join(m.ArgTypes, ",") + ")"
	return m, nil
}

func splitTypes(group string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(group, "("), ")")
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
