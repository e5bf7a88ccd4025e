/*
Copyright (C) 2026  bookie contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package ledgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ulikunitz/xz"

	"github.com/bookienode/bookie/internal/bookerrs"
)

// S3Options configures the cold-storage backend, generalized from the
// teacher's S3Factory (storage/persistence-s3.go): endpoint, bucket and
// static credentials for S3-compatible object stores (AWS, MinIO, etc).
type S3Options struct {
	Bucket          string
	Prefix          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Storage is a LedgerStorage backend for S3-compatible object storage.
// Entries accumulate in an in-memory per-ledger buffer and are flushed as
// xz-compressed objects on Flush/Checkpoint — cold storage trades flush
// latency for the far better compression ratio xz gives over lz4 on
// archival data, matching the domain-stack rationale for picking xz here
// versus lz4 in the journal. Grounded on storage/persistence-s3.go's
// ensureOpen lazy-client pattern and segment-object model.
type S3Storage struct {
	opts   S3Options
	client *s3.Client

	mu      sync.Mutex
	ledgers map[uint64]*s3Ledger
}

type s3Ledger struct {
	mu      sync.Mutex
	entries map[int64][]byte
	lac     int64
	meta    ledgerMeta
	loaded  bool
}

// NewS3Storage constructs the backend; the client connects lazily on
// first use (ensureOpen), mirroring the teacher.
func NewS3Storage(opts S3Options) *S3Storage {
	return &S3Storage{opts: opts, ledgers: make(map[uint64]*s3Ledger)}
}

func (s *S3Storage) ensureOpen(ctx context.Context) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	var optFns []func(*awsconfig.LoadOptions) error
	if s.opts.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(s.opts.Region))
	}
	if s.opts.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.opts.AccessKeyID, s.opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: s3 config", err)
	}
	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s.client, nil
}

func (s *S3Storage) objectKey(ledgerID uint64, suffix string) string {
	return fmt.Sprintf("%s/ledgers/%016x/%s", s.opts.Prefix, ledgerID, suffix)
}

func (s *S3Storage) getLedger(ledgerID uint64) *s3Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[ledgerID]
	if !ok {
		l = &s3Ledger{entries: make(map[int64][]byte), lac: -1}
		s.ledgers[ledgerID] = l
	}
	return l
}

func (s *S3Storage) AddEntry(ledgerID uint64, entryID int64, data []byte) error {
	l := s.getLedger(ledgerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entryID] = append([]byte(nil), data...)
	if entryID > l.lac {
		l.lac = entryID
	}
	return nil
}

func (s *S3Storage) GetEntry(ledgerID uint64, entryID int64) ([]byte, error) {
	l := s.getLedger(ledgerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if data, ok := l.entries[entryID]; ok {
		return data, nil
	}
	return nil, bookerrs.ErrNoEntry
}

func (s *S3Storage) LastAddConfirmed(ledgerID uint64) (int64, error) {
	l := s.getLedger(ledgerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lac, nil
}

func (s *S3Storage) ReadMasterKey(ledgerID uint64) ([]byte, bool, error) {
	l := s.getLedger(ledgerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.meta.MasterKey) == 0 {
		return nil, false, nil
	}
	return l.meta.MasterKey, true, nil
}

func (s *S3Storage) WriteMasterKeyIfAbsent(ledgerID uint64, key []byte) error {
	l := s.getLedger(ledgerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.meta.MasterKey) > 0 {
		return nil
	}
	l.meta.MasterKey = append([]byte(nil), key...)
	return nil
}

func (s *S3Storage) SetFenced(ledgerID uint64) error {
	l := s.getLedger(ledgerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.meta.Fenced = true
	return nil
}

func (s *S3Storage) IsFenced(ledgerID uint64) (bool, error) {
	l := s.getLedger(ledgerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.Fenced, nil
}

// Flush pushes every ledger's accumulated entries and metadata to S3 as
// one xz-compressed object each, matching the teacher's s3WriteCloser
// buffer-then-PutObject pattern (storage/persistence-s3.go) rather than
// streaming multipart uploads — entry logs here are expected to be
// check-pointed often enough to stay small.
func (s *S3Storage) Flush() error {
	ctx := context.Background()
	client, err := s.ensureOpen(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ids := make([]uint64, 0, len(s.ledgers))
	for id := range s.ledgers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		l := s.ledgers[id]
		if err := s.flushLedger(ctx, client, id, l); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Storage) flushLedger(ctx context.Context, client *s3.Client, id uint64, l *s3Ledger) error {
	l.mu.Lock()
	entries := make(map[int64][]byte, len(l.entries))
	for k, v := range l.entries {
		entries[k] = v
	}
	meta := l.meta
	l.mu.Unlock()

	payload, err := json.Marshal(struct {
		Entries map[int64][]byte `json:"entries"`
		Meta    ledgerMeta       `json:"meta"`
	}{Entries: entries, Meta: meta})
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: s3 marshal", err)
	}

	var compressed bytes.Buffer
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	compressed.Write(lenPrefix[:])
	xw, err := xz.NewWriter(&compressed)
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: xz writer", err)
	}
	if _, err := xw.Write(payload); err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: xz write", err)
	}
	if err := xw.Close(); err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: xz close", err)
	}

	key := s.objectKey(id, "snapshot.xz")
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(compressed.Bytes()),
	})
	if err != nil {
		return bookerrs.Wrap(bookerrs.CodeDiskError, "ledgerstore: s3 put "+key, err)
	}
	return nil
}

func (s *S3Storage) Checkpoint() error { return s.Flush() }

func (s *S3Storage) Close() error { return nil }
