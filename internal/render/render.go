// Package render maps a generated rule set onto the document schemas consumed
// by the policy engines under test.
package render

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"sigs.k8s.io/yaml"

	"policy-bench/internal/model"
	"policy-bench/internal/utils"
)

type Format string

const (
	FormatJSON      Format = "json"
	FormatFalco     Format = "falco"
	FormatKloudKnox Format = "kloudknox"
	FormatTetragon  Format = "tetragon"
)

// Layout selects how a rule set is split into policy documents for the
// formats that have a choice.
type Layout string

const (
	// LayoutPerRule emits one document per rule.
	LayoutPerRule Layout = "per-rule"
	// LayoutChunked packs up to Options.ChunkSize rules into each document.
	LayoutChunked Layout = "chunked"
)

const (
	DefaultChunkSize  = 500
	DefaultNamespace  = "bench-policy"
	DefaultNamePrefix = "bench-scale"
)

type Options struct {
	Layout     Layout
	ChunkSize  int
	Namespace  string
	NamePrefix string
}

func DefaultOptions() Options {
	return Options{
		Layout:     LayoutChunked,
		ChunkSize:  DefaultChunkSize,
		Namespace:  DefaultNamespace,
		NamePrefix: DefaultNamePrefix,
	}
}

// Renderer writes a rule set in one target schema and reports how many
// documents it wrote.
type Renderer interface {
	Render(w io.Writer, set *model.RuleSet) (int, error)
}

// New returns the renderer for format.
func New(format Format, opts Options) (Renderer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return JSONRenderer{}, nil
	case FormatFalco:
		return FalcoRenderer{}, nil
	case FormatKloudKnox:
		return KloudKnoxRenderer{Options: opts}, nil
	case FormatTetragon:
		return TetragonRenderer{Options: opts}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatFalco, FormatKloudKnox, FormatTetragon:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, falco, kloudknox or tetragon)", s)
	}
}

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(s); l {
	case LayoutPerRule, LayoutChunked:
		return l, nil
	default:
		return "", fmt.Errorf("unknown layout %q (want per-rule or chunked)", s)
	}
}

func (o Options) validate() error {
	switch o.Layout {
	case LayoutPerRule, LayoutChunked:
	default:
		return fmt.Errorf("unknown layout %q", o.Layout)
	}
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.NamePrefix == "" {
		return fmt.Errorf("name prefix must not be empty")
	}
	return nil
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func (o Options) groupSize() int {
	if o.Layout == LayoutPerRule {
		return 1
	}
	return o.ChunkSize
}

// exactCIDR is the single-address network an exact rule matches.
func exactCIDR(r model.ExactRule) string {
	return utils.HostCIDR(net.ParseIP(r.IP))
}

// chunkName keeps the bare prefix when everything fits in one document so
// that small fixtures keep a stable name.
func chunkName(prefix string, index, total int) string {
	if total <= 1 {
		return prefix
	}
	return indexedName(prefix, index)
}

func indexedName(prefix string, index int) string {
	return fmt.Sprintf("%s-%04d", prefix, index)
}

// writeDocuments writes each object as one YAML document, separated by
// "---" lines.
func writeDocuments[T any](w io.Writer, docs []T) (int, error) {
	var buf bytes.Buffer
	for i := range docs {
		out, err := yaml.Marshal(docs[i])
		if err != nil {
			return 0, fmt.Errorf("failed to marshal document %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(out)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(docs), nil
}
