package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dabhunt/krita-certified-human-made/internal/crypto"
	"github.com/dabhunt/krita-certified-human-made/internal/session"
)

// Snapshots are recovery material, not evidence: they are sealed under a
// per-session subkey of the archive key, overwritten in place by each
// checkpoint, and deleted once the session finalizes. They do not
// participate in the proof chain, so a broken chain never blocks saving
// an artist's in-progress work.

// SaveSnapshot encrypts and upserts the session snapshot.
func (a *Archive) SaveSnapshot(snap *session.Snapshot) error {
	if snap == nil {
		return errors.New("store: nil snapshot")
	}
	if snap.SessionID == "" {
		return errors.New("store: snapshot missing session id")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: serialize snapshot: %w", err)
	}

	key, err := a.snapshotKey(snap.SessionID)
	if err != nil {
		return err
	}
	defer key.Wipe()

	blob, err := crypto.Encrypt(data, key)
	if err != nil {
		return fmt.Errorf("store: seal snapshot: %w", err)
	}

	_, err = a.db.Exec(`
		INSERT INTO snapshots (session_id, ciphertext, nonce, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			nonce      = excluded.nonce,
			updated_at = excluded.updated_at`,
		snap.SessionID, blob.Ciphertext, blob.Nonce, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot decrypts the stored snapshot for a session.
func (a *Archive) LoadSnapshot(sessionID string) (*session.Snapshot, error) {
	var ciphertext, nonce []byte
	err := a.db.QueryRow(`
		SELECT ciphertext, nonce FROM snapshots WHERE session_id = ?`, sessionID,
	).Scan(&ciphertext, &nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load snapshot: %w", err)
	}

	key, err := a.snapshotKey(sessionID)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	data, err := crypto.Decrypt(&crypto.EncryptedBlob{Ciphertext: ciphertext, Nonce: nonce}, key)
	if err != nil {
		return nil, fmt.Errorf("store: unseal snapshot %s: %w", sessionID, err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: parse snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns session IDs with stored snapshots, most recently
// updated first.
func (a *Archive) ListSnapshots() ([]string, error) {
	rows, err := a.db.Query(`SELECT session_id FROM snapshots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate snapshots: %w", err)
	}
	return ids, nil
}

// DeleteSnapshot removes a session's snapshot. Deleting an absent
// snapshot is not an error; finalize paths call this unconditionally.
func (a *Archive) DeleteSnapshot(sessionID string) error {
	if _, err := a.db.Exec(`DELETE FROM snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: delete snapshot: %w", err)
	}
	return nil
}

func (a *Archive) snapshotKey(sessionID string) (*crypto.EncryptionKey, error) {
	key, err := crypto.DeriveSubkey(a.masterKey, snapshotInfo+sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: derive snapshot key: %w", err)
	}
	return key, nil
}
