package identity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	prefixLen       = 4
	prefixPad       = 'X'
	suffixMin       = 100
	suffixMax       = 999
	suffixSlots     = suffixMax - suffixMin + 1
	defaultMaxTries = 10000
)

var ErrCapacityExceeded = errors.New("patient id space exhausted")

// Generator issues "<PREFIX><NNN>" patient ids.
type Generator struct {
	intn        func(n int) int
	maxAttempts int
}

// NewGenerator returns a generator drawing suffixes from intn, which must
// return a value in [0, n). A nil intn uses math/rand.
func NewGenerator(intn func(n int) int) *Generator {
	if intn == nil {
		intn = rand.IntN
	}
	return &Generator{intn: intn, maxAttempts: defaultMaxTries}
}

// Prefix is the trimmed, uppercased name cut or padded with X to four characters.
func Prefix(name string) string {
	runes := []rune(strings.ToUpper(strings.TrimSpace(name)))
	if len(runes) > prefixLen {
		runes = runes[:prefixLen]
	}
	for len(runes) < prefixLen {
		runes = append(runes, prefixPad)
	}
	return string(runes)
}

func (g *Generator) GenerateID(name string) string {
	return fmt.Sprintf("%s%d", Prefix(name), suffixMin+g.intn(suffixSlots))
}

// GenerateUniqueID draws ids until one is not in existing. It gives up with
// ErrCapacityExceeded when the prefix has no free suffix or the attempt
// budget runs out.
func (g *Generator) GenerateUniqueID(name string, existing []string) (string, error) {
	prefix := Prefix(name)
	taken := make(map[string]struct{}, len(existing))
	used := 0
	for _, id := range existing {
		if _, dup := taken[id]; dup {
			continue
		}
		taken[id] = struct{}{}
		if isIssued(prefix, id) {
			used++
		}
	}
	if used >= suffixSlots {
		return "", fmt.Errorf("prefix %s: %w", prefix, ErrCapacityExceeded)
	}

	for i := 0; i < g.maxAttempts; i++ {
		id := g.GenerateID(name)
		if _, ok := taken[id]; !ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("prefix %s after %d attempts: %w", prefix, g.maxAttempts, ErrCapacityExceeded)
}

func isIssued(prefix, id string) bool {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || len(suffix) != 3 {
		return false
	}
	n := 0
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
		n = n*10 + int(r-'0')
	}
	return n >= suffixMin && n <= suffixMax
}

var defaultGenerator = NewGenerator(nil)

func GenerateID(name string) string {
	return defaultGenerator.GenerateID(name)
}

func GenerateUniqueID(name string, existing []string) (string, error) {
	return defaultGenerator.GenerateUniqueID(name, existing)
}
