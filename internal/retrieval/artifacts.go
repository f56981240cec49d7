package retrieval

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/qaerr"
)

// Artifact file names inside an index directory. They are always written and
// read as a pair.
const (
	VectorsFile = "index.vec"
	MetaFile    = "index.json"
)

var vecMagic = [4]byte{'H', 'Q', 'A', 'V'}

const vecVersion uint32 = 1

type indexMeta struct {
	Model     string    `json:"model"`
	Hash      string    `json:"hash"`
	Dim       int       `json:"dim"`
	Count     int       `json:"count"`
	BuiltAt   time.Time `json:"built_at"`
	Documents []string  `json:"documents"`
}

// Save writes the vector matrix and the document/metadata file into dir.
// Each file is written to a temporary name and renamed into place; the
// metadata file goes last.
func Save(dir string, ix *Index) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "index: create dir")
	}

	var buf bytes.Buffer
	buf.Write(vecMagic[:])
	for _, v := range []uint32{vecVersion, uint32(len(ix.vectors)), uint32(ix.dim)} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	for _, v := range ix.vectors {
		buf.Write(encodeFloat32s(v))
	}
	if err := writeAtomic(filepath.Join(dir, VectorsFile), buf.Bytes()); err != nil {
		return err
	}

	meta, err := json.Marshal(indexMeta{
		Model:     ix.model,
		Hash:      ix.hash,
		Dim:       ix.dim,
		Count:     len(ix.docs),
		BuiltAt:   ix.builtAt,
		Documents: ix.docs,
	})
	if err != nil {
		return eris.Wrap(err, "index: encode metadata")
	}
	return writeAtomic(filepath.Join(dir, MetaFile), meta)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return eris.Wrapf(err, "index: create temp for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "index: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "index: close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "index: rename %s", path)
	}
	return nil
}

// Exists reports whether both artifacts are present in dir.
func Exists(dir string) bool {
	for _, name := range []string{VectorsFile, MetaFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Load reads a persisted index. found is false when either artifact is
// absent. Inconsistent artifacts yield a *qaerr.IndexLoadError.
func Load(dir string) (ix *Index, found bool, err error) {
	vecPath := filepath.Join(dir, VectorsFile)
	metaPath := filepath.Join(dir, MetaFile)

	vecData, err := os.ReadFile(vecPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, &qaerr.IndexLoadError{Path: vecPath, Msg: "read vectors", Err: err}
	}
	metaData, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, &qaerr.IndexLoadError{Path: metaPath, Msg: "read metadata", Err: err}
	}

	vectors, dim, err := decodeMatrix(vecData)
	if err != nil {
		return nil, true, &qaerr.IndexLoadError{Path: vecPath, Msg: "decode vectors", Err: err}
	}

	var meta indexMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, true, &qaerr.IndexLoadError{Path: metaPath, Msg: "decode metadata", Err: err}
	}
	if len(meta.Documents) != len(vectors) {
		return nil, true, &qaerr.IndexLoadError{Path: dir,
			Msg: fmt.Sprintf("document count %d does not match vector count %d", len(meta.Documents), len(vectors))}
	}
	if len(vectors) > 0 && meta.Dim != dim {
		return nil, true, &qaerr.IndexLoadError{Path: dir,
			Msg: fmt.Sprintf("metadata dimension %d does not match vectors %d", meta.Dim, dim)}
	}
	if h := dataset.HashDocuments(meta.Documents); h != meta.Hash {
		return nil, true, &qaerr.IndexLoadError{Path: metaPath, Msg: "document hash mismatch"}
	}

	return &Index{
		model:   meta.Model,
		hash:    meta.Hash,
		dim:     dim,
		builtAt: meta.BuiltAt,
		vectors: vectors,
		docs:    meta.Documents,
	}, true, nil
}

func decodeMatrix(b []byte) ([][]float32, int, error) {
	const headerLen = 16
	if len(b) < headerLen {
		return nil, 0, fmt.Errorf("file too short (%d bytes)", len(b))
	}
	if !bytes.Equal(b[:4], vecMagic[:]) {
		return nil, 0, fmt.Errorf("bad magic %q", b[:4])
	}
	version := binary.LittleEndian.Uint32(b[4:])
	if version != vecVersion {
		return nil, 0, fmt.Errorf("unsupported version %d", version)
	}
	count := int(binary.LittleEndian.Uint32(b[8:]))
	dim := int(binary.LittleEndian.Uint32(b[12:]))

	body := b[headerLen:]
	if len(body) != count*dim*4 {
		return nil, 0, fmt.Errorf("body is %d bytes, want %d for %dx%d", len(body), count*dim*4, count, dim)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		v, err := decodeFloat32s(body[i*dim*4 : (i+1)*dim*4])
		if err != nil {
			return nil, 0, err
		}
		vectors[i] = v
	}
	return vectors, dim, nil
}
