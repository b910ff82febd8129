package records

import (
	"fmt"
	"io"
)

// Source kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the Source for kind and a Closer that releases it.
func Open(kind, path string) (Source, io.Closer, error) {
	switch kind {
	case KindFile:
		return NewFileSource(path), nopCloser{}, nil
	case KindSQLite:
		src, err := OpenSQLiteSource(path)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("unknown records type %q (must be %q or %q)", kind, KindFile, KindSQLite)
	}
}
