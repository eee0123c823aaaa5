// Package backup implements export and import of a credential pool's
// contents as a ZIP archive, with an optional password-derived cipher
// layer over each credential file.
package backup

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"copilot-gateway/internal/pool"
)

const metadataFileName = "metadata.json"

type archiveMetadata struct {
	Version       string   `json:"version"`
	CreatedAt     string   `json:"created_at"`
	AccountsCount int      `json:"accounts_count"`
	Accounts      []string `json:"accounts"`
	HasPassword   bool     `json:"has_password"`
}

// Engine exports and imports a pool's credentials as ZIP archives.
type Engine struct {
	pool  *pool.Pool
	state *State
}

// NewEngine builds an Engine operating over p, tracking progress in st.
func NewEngine(p *pool.Pool, st *State) *Engine {
	return &Engine{pool: p, state: st}
}

// Export writes a ZIP archive of the pool's current credentials to w.
// When password is non-empty, each credential file is AES-256-CTR
// encrypted under a scrypt-derived key before being written.
func (e *Engine) Export(w io.Writer, password string) (err error) {
	e.state.Begin(OperationExport)
	snap := e.pool.Snapshot()
	defer func() { e.state.Finish(len(snap), err) }()

	var key []byte
	if password != "" {
		key, err = deriveArchiveKey(password)
		if err != nil {
			return fmt.Errorf("backup: derive key: %w", err)
		}
	}

	zw := zip.NewWriter(w)
	defer func() {
		if cerr := zw.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	accountNames := make([]string, 0, len(snap))
	for i, cred := range snap {
		name := fmt.Sprintf("account_%d", i+1)
		accountNames = append(accountNames, name)

		entryName := "tokens/" + name + ".txt"
		payload := []byte(cred.Token)
		if key != nil {
			payload, err = encryptEntry(key, entryName, payload)
			if err != nil {
				return fmt.Errorf("backup: encrypt %s: %w", entryName, err)
			}
		}

		fw, err2 := zw.Create(entryName)
		if err2 != nil {
			return fmt.Errorf("backup: create %s: %w", entryName, err2)
		}
		if _, err2 := fw.Write(payload); err2 != nil {
			return fmt.Errorf("backup: write %s: %w", entryName, err2)
		}

		e.state.SetProgress(float64(i+1) / float64(max(len(snap), 1)))
	}

	meta := archiveMetadata{
		Version:       "1.0",
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		AccountsCount: len(snap),
		Accounts:      accountNames,
		HasPassword:   password != "",
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("backup: marshal metadata: %w", err)
	}
	mw, err := zw.Create(metadataFileName)
	if err != nil {
		return fmt.Errorf("backup: create metadata entry: %w", err)
	}
	if _, err = mw.Write(metaBytes); err != nil {
		return fmt.Errorf("backup: write metadata: %w", err)
	}

	return nil
}

// Import reads a ZIP archive produced by Export and registers every valid
// credential it contains into the pool. Entries that fail format
// validation or decryption are skipped, not fatal to the whole import.
// It returns the tokens that were actually inserted.
func (e *Engine) Import(r io.ReaderAt, size int64, password string) (inserted []string, err error) {
	e.state.Begin(OperationImport)
	defer func() { e.state.Finish(len(inserted), err) }()

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("backup: open archive: %w", err)
	}

	var key []byte
	if password != "" {
		key, err = deriveArchiveKey(password)
		if err != nil {
			return nil, fmt.Errorf("backup: derive key: %w", err)
		}
	}

	tokenFiles := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.Name == metadataFileName || f.FileInfo().IsDir() {
			continue
		}
		tokenFiles = append(tokenFiles, f)
	}

	for i, f := range tokenFiles {
		rc, oerr := f.Open()
		if oerr != nil {
			continue
		}
		raw, rerr := io.ReadAll(rc)
		rc.Close()
		if rerr != nil {
			continue
		}

		if key != nil {
			raw, rerr = decryptEntry(key, f.Name, raw)
			if rerr != nil {
				continue
			}
		}

		token := string(bytes.TrimSpace(raw))
		if !pool.IsValidTokenFormat(token) {
			continue
		}
		if addErr := e.pool.Add(token, 0, 0); addErr != nil {
			continue
		}
		inserted = append(inserted, token)

		e.state.SetProgress(float64(i+1) / float64(max(len(tokenFiles), 1)))
	}

	return inserted, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
