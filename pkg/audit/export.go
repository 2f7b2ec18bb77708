package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/idis-platform/idis/pkg/canonical"
)

var (
	// ErrEmptyTenantID is returned when tenant ID is empty.
	ErrEmptyTenantID = errors.New("audit: tenant_id must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrStoreNotConfigured is returned when export is invoked without a backing chain store.
	ErrStoreNotConfigured = errors.New("audit: chain store not configured (fail-closed)")
)

// ExportRequest defines what to export.
type ExportRequest struct {
	TenantID  string    `json:"tenant_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Exporter builds auditor evidence packs from a tenant's hash chain.
// The chain is verified before anything is written: a tampered chain
// must fail the export, not ship inside it.
type Exporter struct {
	store *ChainStore
}

// NewExporter creates an exporter over the given chain store.
func NewExporter(s *ChainStore) *Exporter {
	return &Exporter{store: s}
}

// GeneratePack creates a zip with the tenant's chained events, a
// manifest carrying the chain head, and a README. It returns the zip
// bytes and their sha256 checksum.
func (e *Exporter) GeneratePack(_ context.Context, req ExportRequest) ([]byte, string, error) {
	if req.TenantID == "" {
		return nil, "", ErrEmptyTenantID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.store == nil {
		return nil, "", ErrStoreNotConfigured
	}

	var entries []ChainEntry
	head := chainGenesis
	if err := e.store.VerifyChain(req.TenantID); err != nil && !errors.Is(err, ErrUnknownTenant) {
		return nil, "", fmt.Errorf("audit: chain verification failed before export: %w", err)
	} else if err == nil {
		entries, err = e.store.Entries(req.TenantID)
		if err != nil {
			return nil, "", err
		}
		head, err = e.store.Head(req.TenantID)
		if err != nil {
			return nil, "", err
		}
	}

	selected := make([]ChainEntry, 0, len(entries))
	for _, entry := range entries {
		if !req.StartTime.IsZero() && entry.Event.OccurredAt.Before(req.StartTime) {
			continue
		}
		if !req.EndTime.IsZero() && entry.Event.OccurredAt.After(req.EndTime) {
			continue
		}
		selected = append(selected, entry)
	}

	var eventLines bytes.Buffer
	for _, entry := range selected {
		line, err := canonical.Marshal(entry)
		if err != nil {
			return nil, "", fmt.Errorf("audit: canonicalize entry %d: %w", entry.Sequence, err)
		}
		eventLines.Write(line)
		eventLines.WriteByte('\n')
	}

	manifest := map[string]any{
		"tenant_id":    req.TenantID,
		"generated_at": time.Now().UTC(),
		"event_count":  len(selected),
		"chain_head":   head,
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.jsonl")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventLines.Bytes())

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Audit evidence pack for tenant %s\nGenerated at %s\nVerify entries against chain_head in manifest.json\n",
		req.TenantID, time.Now().UTC().Format(time.RFC3339))

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}
