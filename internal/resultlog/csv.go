package resultlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// utf8BOM is written at the start of new files so spreadsheet tools detect
// the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVLog stores entries in a CSV file with the header
// Question,Expected Answer,Generated Answer,Accuracy,Duration,Pass.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

var _ Log = (*CSVLog)(nil)

// NewCSVLog returns a log backed by path. The file is created on first Append.
func NewCSVLog(path string) *CSVLog {
	return &CSVLog{path: path}
}

// Path returns the backing file path.
func (l *CSVLog) Path() string { return l.path }

// Append encodes all entries and writes them with a single append. A new
// file is published complete with BOM and header through an exclusive link,
// so concurrent writers in other processes never duplicate the header.
func (l *CSVLog) Append(_ context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := encodeRows(entries)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return eris.Wrap(err, "resultlog: create dir")
	}

	info, err := os.Stat(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		created, err := l.create(rows)
		if err != nil || created {
			return err
		}
	case err != nil:
		return eris.Wrap(err, "resultlog: stat")
	case info.Size() == 0:
		head, err := headerBytes()
		if err != nil {
			return err
		}
		rows = append(head, rows...)
	}
	return l.appendBytes(rows)
}

// create publishes a new file holding the header and rows. It reports
// false when another writer created the file first.
func (l *CSVLog) create(rows []byte) (bool, error) {
	head, err := headerBytes()
	if err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".results-*.csv")
	if err != nil {
		return false, eris.Wrap(err, "resultlog: create temp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(head, rows...)); err != nil {
		tmp.Close()
		return false, eris.Wrap(err, "resultlog: write temp")
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return false, eris.Wrap(err, "resultlog: chmod temp")
	}
	if err := tmp.Close(); err != nil {
		return false, eris.Wrap(err, "resultlog: close temp")
	}

	if err := os.Link(tmp.Name(), l.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, eris.Wrap(err, "resultlog: publish")
	}
	return true, nil
}

func (l *CSVLog) appendBytes(b []byte) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrap(err, "resultlog: open")
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return eris.Wrap(err, "resultlog: append")
	}
	return eris.Wrap(f.Close(), "resultlog: close")
}

func encodeRows(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	enc := csvutil.NewEncoder(w)
	enc.AutoHeader = false
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, eris.Wrap(err, "resultlog: encode entry")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "resultlog: flush csv")
	}
	return buf.Bytes(), nil
}

// headerBytes renders the BOM and the header line.
func headerBytes() ([]byte, error) {
	cols, err := csvutil.Header(Entry{}, "csv")
	if err != nil {
		return nil, eris.Wrap(err, "resultlog: header")
	}
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, eris.Wrap(err, "resultlog: write header")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "resultlog: flush header")
	}
	return buf.Bytes(), nil
}

// Entries reads the whole file and returns the requested slice of it. A
// missing file is an empty log.
func (l *CSVLog) Entries(_ context.Context, n int, order Order) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	} else if err != nil {
		return nil, eris.Wrap(err, "resultlog: open")
	}
	defer f.Close()

	all, err := decodeCSV(f)
	if err != nil {
		return nil, err
	}
	return pick(all, n, order), nil
}

func decodeCSV(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	dec, err := csvutil.NewDecoder(csv.NewReader(br))
	if errors.Is(err, io.EOF) {
		return []Entry{}, nil
	} else if err != nil {
		return nil, eris.Wrap(err, "resultlog: read header")
	}

	var all []Entry
	for {
		var e Entry
		if err := dec.Decode(&e); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "resultlog: decode row %d", len(all)+1)
		}
		all = append(all, e)
	}
	return all, nil
}

// Clear deletes the backing file.
func (l *CSVLog) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrap(err, "resultlog: clear")
	}
	return nil
}
