package dispatch

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/sugawarayuuta/sonnet"
)

// ErrInvalidDecoyTable is returned when a decoy table is incomplete or its
// tokens are not pairwise distinct.
var ErrInvalidDecoyTable = errors.New("invalid decoy table")

// DecoyFileName is written under the server root so operators can look up
// the tokens of the running process.
const DecoyFileName = ".decoy_methods.json"

// maxTokenAttempts bounds the retries spent looking for an unused token.
const maxTokenAttempts = 1000

var (
	defaultPrefixes = []string{
		"CHECK", "SYNC", "VERIFY", "UPDATE", "QUERY",
		"REPORT", "SUBMIT", "VALIDATE", "PROCESS", "EXECUTE",
	}
	defaultSuffixes = []string{
		"DATA", "STATUS", "INFO", "CONTENT", "RESOURCE",
		"ITEM", "OBJECT", "RECORD", "ENTRY", "",
	}
)

// TokenGenerator supplies candidate decoy tokens.
type TokenGenerator interface {
	Token() (string, error)
}

// WordListGenerator joins a random prefix with a random (possibly empty)
// suffix, e.g. "SYNCRECORD" or "VERIFY".
type WordListGenerator struct {
	Prefixes []string
	Suffixes []string
}

// DefaultGenerator returns the built-in word lists.
func DefaultGenerator() WordListGenerator {
	return WordListGenerator{Prefixes: defaultPrefixes, Suffixes: defaultSuffixes}
}

// Token draws one candidate using crypto/rand.
func (g WordListGenerator) Token() (string, error) {
	if len(g.Prefixes) == 0 {
		return "", errors.New("word list generator has no prefixes")
	}
	prefix, err := pick(g.Prefixes)
	if err != nil {
		return "", err
	}
	if len(g.Suffixes) == 0 {
		return prefix, nil
	}
	suffix, err := pick(g.Suffixes)
	if err != nil {
		return "", err
	}
	return prefix + suffix, nil
}

func pick(words []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return words[n.Int64()], nil
}

// DecoyTable is the per-process bijection between operations and tokens.
// It is immutable after construction and safe for concurrent reads.
type DecoyTable struct {
	tokens map[Operation]string
	ops    map[string]Operation
}

// NewDecoyTable validates that tokens covers every operation with non-empty,
// pairwise distinct values.
func NewDecoyTable(tokens map[Operation]string) (*DecoyTable, error) {
	d := &DecoyTable{
		tokens: make(map[Operation]string, len(Operations)),
		ops:    make(map[string]Operation, len(Operations)),
	}
	for _, op := range Operations {
		token, ok := tokens[op]
		if !ok || token == "" {
			return nil, fmt.Errorf("%w: no token for %s", ErrInvalidDecoyTable, op)
		}
		if other, dup := d.ops[token]; dup {
			return nil, fmt.Errorf("%w: %s and %s share token %q", ErrInvalidDecoyTable, other, op, token)
		}
		d.tokens[op] = token
		d.ops[token] = op
	}
	return d, nil
}

// GenerateDecoyTable draws one token per operation from gen, rejecting
// duplicates and anything listed in reserved (typically the fixed methods).
func GenerateDecoyTable(gen TokenGenerator, reserved []string) (*DecoyTable, error) {
	used := make(map[string]bool, len(reserved)+len(Operations))
	for _, m := range reserved {
		used[m] = true
	}

	tokens := make(map[Operation]string, len(Operations))
	for _, op := range Operations {
		var token string
		for attempt := 0; ; attempt++ {
			if attempt == maxTokenAttempts {
				return nil, fmt.Errorf("%w: could not find a free token for %s", ErrInvalidDecoyTable, op)
			}
			t, err := gen.Token()
			if err != nil {
				return nil, err
			}
			if t != "" && !used[t] {
				token = t
				break
			}
		}
		used[token] = true
		tokens[op] = token
	}
	return NewDecoyTable(tokens)
}

// Token returns the token standing in for op.
func (d *DecoyTable) Token(op Operation) string {
	return d.tokens[op]
}

// Lookup maps a request method back to its operation.
func (d *DecoyTable) Lookup(method string) (Operation, bool) {
	op, ok := d.ops[method]
	return op, ok
}

// Names returns the table keyed by operation name.
func (d *DecoyTable) Names() map[string]string {
	out := make(map[string]string, len(d.tokens))
	for op, token := range d.tokens {
		out[op.String()] = token
	}
	return out
}

// WriteFile stores the table as JSON with owner-only permissions.
func (d *DecoyTable) WriteFile(path string) error {
	data, err := sonnet.Marshal(d.Names())
	if err != nil {
		return fmt.Errorf("encode decoy table: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	// O_CREATE does not tighten an existing file's mode.
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return f.Close()
}

// ReadDecoyFile loads a table previously written by WriteFile.
func ReadDecoyFile(path string) (*DecoyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names map[string]string
	if err := sonnet.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	tokens := make(map[Operation]string, len(names))
	for name, token := range names {
		op, err := ParseOperation(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDecoyTable, err)
		}
		tokens[op] = token
	}
	return NewDecoyTable(tokens)
}
