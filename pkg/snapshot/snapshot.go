// Package snapshot implements the engine's on-disk persistence codec: a
// single file holding a small manifest plus one length-prefixed section
// per index structure (HNSW graph, LSH bands, BM25 postings, PQ
// codebooks, stored embeddings, document metadata), closed out with a
// checksum over the whole body. The section-and-checksum discipline
// mirrors the teacher's write-ahead log entry format — magic header,
// versioned envelope, CRC32 integrity check — adapted here to a single
// snapshot file instead of an append-only log.
//
// A missing or mismatched checksum is always treated as "no usable
// snapshot": Load returns ErrCorrupted and the caller is expected to
// fall back to a full rebuild rather than trust partial data.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// magic identifies a retrievekit snapshot file.
var magic = [4]byte{'R', 'K', 'S', 'N'}

// formatVersion is bumped whenever the section layout changes
// incompatibly.
const formatVersion uint32 = 1

// ErrCorrupted is returned by Load when the trailing checksum does not
// match the snapshot body, or the header is malformed.
var ErrCorrupted = errors.New("snapshot: corrupted or unrecognized file")

// Manifest carries the metadata needed to validate a snapshot against
// the engine configuration attempting to load it, and to report basic
// facts without decoding every section.
type Manifest struct {
	Dimension     int    `json:"dimension"`
	HNSWM         int    `json:"hnsw_m"`
	PQM           int    `json:"pq_m"`
	PQK           int    `json:"pq_k"`
	NumBands      int    `json:"num_bands"`
	RowsPerBand   int    `json:"rows_per_band"`
	Generation    uint64 `json:"generation"`
	DocumentCount int    `json:"document_count"`
}

// sectionNames enumerates the fixed set of sections a snapshot carries.
// Order is significant: sections are written and read in this order.
var sectionNames = []string{
	"manifest",
	"hnsw",
	"lsh",
	"bm25",
	"pq",
	"embeddings",
	"metadata",
}

// Sections holds the raw encoded bytes for each part of a snapshot. The
// engine is responsible for encoding/decoding its own structures into
// and out of these byte slices — this package only handles the
// container format, not the index-specific layouts.
type Sections struct {
	Manifest   Manifest
	HNSW       []byte
	LSH        []byte
	BM25       []byte
	PQ         []byte
	Embeddings []byte
	Metadata   []byte
}

// Write encodes sections to path as a single framed, checksummed file.
// The bytes go to a temporary file beside path, which is renamed over
// path only once fully written, so a failed write leaves any existing
// file at path unchanged.
func Write(path string, sections Sections) (err error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("snapshot: create %q: %w", tmpPath, err)
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	manifestBytes, err := json.Marshal(sections.Manifest)
	if err != nil {
		return fmt.Errorf("snapshot: encode manifest: %w", err)
	}

	var body bytes.Buffer
	payloads := [][]byte{
		manifestBytes,
		sections.HNSW,
		sections.LSH,
		sections.BM25,
		sections.PQ,
		sections.Embeddings,
		sections.Metadata,
	}
	for i, payload := range payloads {
		if err := writeSection(&body, sectionNames[i], payload); err != nil {
			return err
		}
	}

	checksum := crc32.ChecksumIEEE(body.Bytes())

	w := bufio.NewWriter(f)
	if _, err := w.Write(magic[:]); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, formatVersion); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("snapshot: write body: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, checksum); err != nil {
		return fmt.Errorf("snapshot: write checksum: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("snapshot: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot: close %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("snapshot: rename %q: %w", tmpPath, err)
	}
	return nil
}

func writeSection(w io.Writer, name string, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("snapshot: write %s length: %w", name, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("snapshot: write %s body: %w", name, err)
	}
	return nil
}

// Load decodes and validates a snapshot file written by Write. Any
// structural or checksum mismatch returns ErrCorrupted.
func Load(path string) (*Sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %q: %w", path, err)
	}

	if len(data) < 4+4+4 {
		return nil, ErrCorrupted
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, ErrCorrupted
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupted, version)
	}

	body := data[8 : len(data)-4]
	storedChecksum := binary.BigEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != storedChecksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	r := bytes.NewReader(body)
	payloads := make([][]byte, len(sectionNames))
	for i, name := range sectionNames {
		payload, err := readSection(r, name)
		if err != nil {
			return nil, err
		}
		payloads[i] = payload
	}

	var manifest Manifest
	if err := json.Unmarshal(payloads[0], &manifest); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupted, err)
	}

	return &Sections{
		Manifest:   manifest,
		HNSW:       payloads[1],
		LSH:        payloads[2],
		BM25:       payloads[3],
		PQ:         payloads[4],
		Embeddings: payloads[5],
		Metadata:   payloads[6],
	}, nil
}

func readSection(r io.Reader, name string) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("%w: %s length: %v", ErrCorrupted, name, err)
	}
	if length == 0 {
		return nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrCorrupted, name, err)
	}
	return payload, nil
}
