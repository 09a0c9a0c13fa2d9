// Package store archives finalized proofs and in-progress session
// snapshots in a local SQLite database.
//
// Security model:
//  1. File permissions: 0600 for the database and key file, 0700 directory
//  2. Append-only proofs: records are never modified after insertion
//  3. Chain linking: each proof record references the previous record hash
//  4. Integrity: every record carries an HMAC keyed from archive.key
//  5. Snapshots: sealed with per-session subkeys of the archive key
package store

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dabhunt/krita-certified-human-made/internal/classify"
	"github.com/dabhunt/krita-certified-human-made/internal/crypto"
	"github.com/dabhunt/krita-certified-human-made/internal/proof"
)

const (
	dbFile  = "archive.db"
	keyFile = "archive.key"

	recordLabel    = "chm-archive-record-v1"
	integrityLabel = "chm-archive-integrity-v1"
	macKeyInfo     = "chm/archive/hmac/v1"
	snapshotInfo   = "chm/archive/snapshot/v1/"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrDuplicateProof = errors.New("store: proof already archived")
	ErrIntegrity      = errors.New("store: archive integrity compromised")
)

// Archive is the local proof store. One archive serves one artist
// installation; concurrent use from multiple goroutines is safe.
type Archive struct {
	db        *sql.DB
	masterKey []byte
	macKey    []byte

	mu          sync.RWMutex
	lastHash    [32]byte
	integrityOK bool
}

// Open opens or creates the archive under dir. The directory holds
// archive.db and archive.key; the key is generated on first open and
// never leaves the directory.
//
// On an existing archive the proof chain is verified before the archive
// is returned. A verification failure still returns the archive so
// callers can read and report, but writes are refused until
// VerifyIntegrity succeeds.
func Open(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: create archive directory: %w", err)
	}

	masterKey, err := loadOrCreateKey(filepath.Join(dir, keyFile))
	if err != nil {
		return nil, err
	}
	macKey, err := crypto.DeriveMACKey(masterKey, macKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("store: derive mac key: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	isNew := false
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		isNew = true
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := validateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	// The file exists once migrations ran; tighten it before use.
	if err := os.Chmod(dbPath, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set database permissions: %w", err)
	}

	a := &Archive{
		db:        db,
		masterKey: masterKey,
		macKey:    macKey,
	}

	if isNew {
		if err := a.initializeIntegrity(); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: initialize integrity: %w", err)
		}
		a.integrityOK = true
		return a, nil
	}

	a.mu.Lock()
	err = a.verifyChainLocked()
	a.integrityOK = err == nil
	a.mu.Unlock()
	if err != nil {
		// Leave the handle open for read-only inspection.
		return a, fmt.Errorf("store: integrity verification failed: %w", err)
	}
	return a, nil
}

// Close releases the database and wipes key material.
func (a *Archive) Close() error {
	for i := range a.masterKey {
		a.masterKey[i] = 0
	}
	for i := range a.macKey {
		a.macKey[i] = 0
	}
	return a.db.Close()
}

// IntegrityOK reports whether the archive passed its last verification.
func (a *Archive) IntegrityOK() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.integrityOK
}

// loadOrCreateKey reads the archive master key, generating it on first use.
func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != crypto.KeySize {
			return nil, fmt.Errorf("store: key file %s holds %d bytes, want %d", path, len(key), crypto.KeySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read key file: %w", err)
	}

	key = make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("store: generate archive key: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("store: write key file: %w", err)
	}
	return key, nil
}

// initializeIntegrity seeds the chain for a fresh archive.
func (a *Archive) initializeIntegrity() error {
	var zeroHash [32]byte
	a.lastHash = zeroHash

	mac := a.integrityHMAC(zeroHash, 0)
	_, err := a.db.Exec(`
		INSERT INTO integrity (id, chain_hash, proof_count, last_verified, hmac)
		VALUES (1, ?, 0, ?, ?)`,
		zeroHash[:], time.Now().UnixNano(), mac,
	)
	return err
}

// SaveProof appends a finalized proof to the archive chain. Each session
// archives at most one proof; a second save for the same session returns
// ErrDuplicateProof.
func (a *Archive) SaveProof(p *proof.Proof) error {
	if p == nil {
		return errors.New("store: nil proof")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.integrityOK {
		return fmt.Errorf("%w: refusing to write", ErrIntegrity)
	}

	data, err := p.ToJSON()
	if err != nil {
		return fmt.Errorf("store: serialize proof: %w", err)
	}

	sessionID := p.SessionID.String()
	createdAt := time.Now().UnixNano()
	prev := a.lastHash
	recordHash := computeRecordHash(sessionID, createdAt, data, prev[:])
	recordMAC := a.recordHMAC(sessionID, createdAt, data, prev[:])

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM proofs WHERE session_id = ?`, sessionID).Scan(&existing); err != nil {
		return fmt.Errorf("store: check duplicate: %w", err)
	}
	if existing > 0 {
		return ErrDuplicateProof
	}

	result, err := tx.Exec(`
		INSERT INTO proofs (session_id, classification, confidence, document_name, created_at, proof_json, previous_hash, record_hash, hmac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(p.Classification), p.Confidence, p.DocumentName,
		createdAt, data, prev[:], recordHash[:], recordMAC,
	)
	if err != nil {
		return fmt.Errorf("store: insert proof: %w", err)
	}

	count, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: last insert id: %w", err)
	}
	integrityMAC := a.integrityHMAC(recordHash, count)
	if _, err := tx.Exec(`
		UPDATE integrity SET chain_hash = ?, proof_count = ?, last_verified = ?, hmac = ? WHERE id = 1`,
		recordHash[:], count, time.Now().UnixNano(), integrityMAC,
	); err != nil {
		return fmt.Errorf("store: update integrity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	a.lastHash = recordHash
	return nil
}

// GetProof loads an archived proof by session ID. The record's HMAC is
// rechecked before the proof is parsed.
func (a *Archive) GetProof(sessionID string) (*proof.Proof, error) {
	var createdAt int64
	var data, prev, mac []byte
	err := a.db.QueryRow(`
		SELECT created_at, proof_json, previous_hash, hmac
		FROM proofs WHERE session_id = ?`, sessionID,
	).Scan(&createdAt, &data, &prev, &mac)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load proof: %w", err)
	}

	want := a.recordHMAC(sessionID, createdAt, data, prev)
	if !hmac.Equal(mac, want) {
		return nil, fmt.Errorf("%w: proof %s failed HMAC check", ErrIntegrity, sessionID)
	}
	return proof.FromJSON(data)
}

// ProofRecord is one row of the archive listing.
type ProofRecord struct {
	SessionID      string
	Classification classify.Classification
	Confidence     float64
	DocumentName   string
	CreatedAt      time.Time
}

// ListProofs returns the archived proofs in chain order.
func (a *Archive) ListProofs() ([]ProofRecord, error) {
	rows, err := a.db.Query(`
		SELECT session_id, classification, confidence, document_name, created_at
		FROM proofs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list proofs: %w", err)
	}
	defer rows.Close()

	var records []ProofRecord
	for rows.Next() {
		var r ProofRecord
		var cls string
		var docName sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.SessionID, &cls, &r.Confidence, &docName, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan proof record: %w", err)
		}
		r.Classification = classify.Classification(cls)
		r.DocumentName = docName.String
		r.CreatedAt = time.Unix(0, createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate proofs: %w", err)
	}
	return records, nil
}

// VerifyIntegrity rechecks the whole proof chain and updates the
// archive's write gate.
func (a *Archive) VerifyIntegrity() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.verifyChainLocked(); err != nil {
		a.integrityOK = false
		return err
	}
	a.integrityOK = true
	a.db.Exec(`UPDATE integrity SET last_verified = ? WHERE id = 1`, time.Now().UnixNano())
	return nil
}

// verifyChainLocked walks every proof record, checking chain linkage,
// per-record HMACs, and the integrity head. Caller holds a.mu.
func (a *Archive) verifyChainLocked() error {
	var chainHash, storedMAC []byte
	var proofCount int64
	err := a.db.QueryRow(`SELECT chain_hash, proof_count, hmac FROM integrity WHERE id = 1`).
		Scan(&chainHash, &proofCount, &storedMAC)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("integrity record missing")
		}
		return fmt.Errorf("read integrity record: %w", err)
	}

	var head [32]byte
	copy(head[:], chainHash)
	if !hmac.Equal(storedMAC, a.integrityHMAC(head, proofCount)) {
		return errors.New("integrity record HMAC mismatch")
	}

	rows, err := a.db.Query(`
		SELECT id, session_id, created_at, proof_json, previous_hash, record_hash, hmac
		FROM proofs ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("query proofs: %w", err)
	}
	defer rows.Close()

	var lastHash [32]byte
	var count int64
	for rows.Next() {
		var id, createdAt int64
		var sessionID string
		var data, prev, recordHash, recordMAC []byte
		if err := rows.Scan(&id, &sessionID, &createdAt, &data, &prev, &recordHash, &recordMAC); err != nil {
			return fmt.Errorf("scan proof %d: %w", id, err)
		}

		if !bytes.Equal(prev, lastHash[:]) {
			return fmt.Errorf("chain break at proof %d: previous hash mismatch", id)
		}
		if !hmac.Equal(recordMAC, a.recordHMAC(sessionID, createdAt, data, prev)) {
			return fmt.Errorf("proof %d HMAC mismatch", id)
		}
		computed := computeRecordHash(sessionID, createdAt, data, prev)
		if !bytes.Equal(recordHash, computed[:]) {
			return fmt.Errorf("proof %d record hash mismatch", id)
		}

		copy(lastHash[:], recordHash)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate proofs: %w", err)
	}

	if count != proofCount {
		return fmt.Errorf("proof count mismatch: integrity says %d, found %d", proofCount, count)
	}
	if !bytes.Equal(chainHash, lastHash[:]) {
		return errors.New("chain head mismatch")
	}

	a.lastHash = lastHash
	return nil
}

// Stats summarizes the archive contents.
type Stats struct {
	ProofCount    int64
	SnapshotCount int64
	OldestProof   time.Time
	NewestProof   time.Time
	ChainHash     string
	IntegrityOK   bool
}

// GetStats reports archive counters and the current chain head.
func (a *Archive) GetStats() (*Stats, error) {
	stats := &Stats{IntegrityOK: a.IntegrityOK()}

	if err := a.db.QueryRow(`SELECT COUNT(*) FROM proofs`).Scan(&stats.ProofCount); err != nil {
		return nil, fmt.Errorf("store: count proofs: %w", err)
	}
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&stats.SnapshotCount); err != nil {
		return nil, fmt.Errorf("store: count snapshots: %w", err)
	}

	var oldest, newest sql.NullInt64
	if err := a.db.QueryRow(`SELECT MIN(created_at), MAX(created_at) FROM proofs`).Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("store: proof time range: %w", err)
	}
	if oldest.Valid {
		stats.OldestProof = time.Unix(0, oldest.Int64)
		stats.NewestProof = time.Unix(0, newest.Int64)
	}

	var chainHash []byte
	if err := a.db.QueryRow(`SELECT chain_hash FROM integrity WHERE id = 1`).Scan(&chainHash); err != nil {
		return nil, fmt.Errorf("store: read chain head: %w", err)
	}
	stats.ChainHash = hex.EncodeToString(chainHash)
	return stats, nil
}

// HMAC helpers

func (a *Archive) integrityHMAC(chainHash [32]byte, proofCount int64) []byte {
	h := hmac.New(sha256.New, a.macKey)
	h.Write([]byte(integrityLabel))
	h.Write(chainHash[:])
	h.Write(i64be(proofCount))
	return h.Sum(nil)
}

func (a *Archive) recordHMAC(sessionID string, createdAt int64, proofJSON, previousHash []byte) []byte {
	h := hmac.New(sha256.New, a.macKey)
	h.Write([]byte(recordLabel))
	h.Write([]byte(sessionID))
	h.Write(i64be(createdAt))
	h.Write(proofJSON)
	h.Write(previousHash)
	return h.Sum(nil)
}

func computeRecordHash(sessionID string, createdAt int64, proofJSON, previousHash []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(recordLabel))
	h.Write([]byte(sessionID))
	h.Write(i64be(createdAt))
	h.Write(proofJSON)
	h.Write(previousHash)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func i64be(n int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return b[:]
}
