// Package checkpoint implements the Checkpointer contract (spec.md §6):
// per-edge-crossing persistence of a cycle's State, keyed by
// thread_id = "bot_<id>". Three implementations are provided: a sqlite
// table (grounded on internal/store's connection, for single-process
// deployments), an S3 object-per-checkpoint store (grounded on the domain
// dependency inventory's aws-sdk-go-v2/service/s3, for deployments that
// want checkpoints outside the local disk), and an in-memory map, which
// spec.md §6 calls out as an acceptable fallback when neither is
// configured.
package checkpoint

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/helion-systems/helion/internal/domain"
)

// Store is the full Checkpointer contract: save the latest state for a
// thread, and load it back for resume-after-restart.
type Store interface {
	Save(ctx context.Context, threadID string, state *domain.State) error
	Load(ctx context.Context, threadID string) (*domain.State, bool, error)
}

// ThreadID builds the canonical thread_id for a bot's checkpoint stream.
func ThreadID(botID int64) string {
	return fmt.Sprintf("bot_%d", botID)
}

// Memory is an in-memory Store, the fallback when no durable checkpoint
// backend is configured. State does not survive a process restart.
type Memory struct {
	mu    sync.RWMutex
	state map[string]*domain.State
}

// NewMemory builds an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{state: make(map[string]*domain.State)}
}

func (m *Memory) Save(_ context.Context, threadID string, state *domain.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *state
	m.state[threadID] = &clone
	return nil
}

func (m *Memory) Load(_ context.Context, threadID string) (*domain.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state[threadID]
	if !ok {
		return nil, false, nil
	}
	clone := *state
	return &clone, true, nil
}

// SQLite is a Store backed by the checkpoints table created by
// internal/store's migration.
type SQLite struct {
	conn *sql.DB
}

// NewSQLite wraps an already-open *sql.DB (see store.DB.Conn) for
// checkpoint persistence.
func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{conn: conn}
}

func (s *SQLite) Save(ctx context.Context, threadID string, state *domain.State) error {
	payload, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to encode state for %s: %w", threadID, err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		threadID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("checkpoint: failed to save state for %s: %w", threadID, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, threadID string) (*domain.State, bool, error) {
	var payload []byte
	err := s.conn.QueryRowContext(ctx, `SELECT state FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: failed to load state for %s: %w", threadID, err)
	}
	var state domain.State
	if err := msgpack.Unmarshal(payload, &state); err != nil {
		return nil, false, fmt.Errorf("checkpoint: failed to decode state for %s: %w", threadID, err)
	}
	return &state, true, nil
}

// S3Client is the subset of *s3.Client used for checkpoint object
// read/write, narrowed for testability.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 is a Store that persists one object per thread under a configured
// bucket/prefix, for deployments that keep all durable state off local
// disk.
type S3 struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 builds an S3-backed Store against an already-configured client.
func NewS3(client S3Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(threadID string) string {
	if s.prefix == "" {
		return threadID + ".msgpack"
	}
	return s.prefix + "/" + threadID + ".msgpack"
}

func (s *S3) Save(ctx context.Context, threadID string, state *domain.State) error {
	payload, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to encode state for %s: %w", threadID, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(threadID)),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return fmt.Errorf("checkpoint: failed to put object for %s: %w", threadID, err)
	}
	return nil
}

func (s *S3) Load(ctx context.Context, threadID string) (*domain.State, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(threadID)),
	})
	if err != nil {
		var nsk *s3.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("checkpoint: failed to get object for %s: %w", threadID, err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: failed to read object for %s: %w", threadID, err)
	}
	var state domain.State
	if err := msgpack.Unmarshal(payload, &state); err != nil {
		return nil, false, fmt.Errorf("checkpoint: failed to decode state for %s: %w", threadID, err)
	}
	return &state, true, nil
}
