package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/types"
)

const exportVersion = 1

// ExportDocument is the portable memory dump. Vault envelopes travel sealed;
// the checksum covers the memory payload only.
type ExportDocument struct {
	Version    int            `json:"version"`
	User       string         `json:"user"`
	ExportedAt string         `json:"exported_at"`
	Memories   []types.Memory `json:"memories"`
	Checksum   string         `json:"checksum"`
}

// ExportMemories dumps a user's memories with an integrity checksum
func (s *Service) ExportMemories(ctx context.Context, user string, includeForgotten bool) (*ExportDocument, error) {
	if user == "" {
		user = s.Cfg.DefaultUser
	}

	filter := store.MemoryFilter{User: user}
	if includeForgotten {
		filter.States = []types.ForgottenState{
			types.StateActive, types.StateSuppressed, types.StateArchived, types.StatePendingDelete,
		}
	}
	memories, err := s.Store.FindMemories(ctx, filter)
	if err != nil {
		return nil, err
	}

	doc := &ExportDocument{
		Version:    exportVersion,
		User:       user,
		ExportedAt: s.now().UTC().Format("2006-01-02T15:04:05Z"),
		Memories:   memories,
	}
	doc.Checksum, err = checksumMemories(memories)
	if err != nil {
		return nil, err
	}
	logging.Info("service", "exported %d memories for %s", len(memories), user)
	return doc, nil
}

// ImportResult reports what an import touched
type ImportResult struct {
	Imported      int `json:"imported"`
	Skipped       int `json:"skipped"`
	LoopsCreated  int `json:"loops_created"`
	EventsCreated int `json:"events_created"`
}

// ImportMemories restores an export document. Existing ids are skipped, not
// overwritten. skipRederivation keeps loops and events from being recreated.
func (s *Service) ImportMemories(ctx context.Context, doc *ExportDocument, skipRederivation bool) (*ImportResult, error) {
	if doc == nil || len(doc.Memories) == 0 {
		return nil, errs.E(errs.InvalidInput, "export document is empty")
	}
	sum, err := checksumMemories(doc.Memories)
	if err != nil {
		return nil, err
	}
	if doc.Checksum != "" && doc.Checksum != sum {
		return nil, errs.E(errs.PreconditionFailed, "export checksum mismatch")
	}

	res := &ImportResult{}
	for i := range doc.Memories {
		m := doc.Memories[i]

		// Imported vectors always rebuild locally
		if m.Tier != types.TierVault && m.Forgotten == types.StateActive {
			m.VectorState = types.VectorPending
		} else {
			m.VectorState = types.VectorSkipped
		}

		err := s.Store.InsertMemory(ctx, &m)
		if errs.Is(err, errs.Conflict) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, err
		}
		res.Imported++

		if !skipRederivation {
			loops, events := s.Pipeline.Rederive(ctx, &m)
			res.LoopsCreated += loops
			res.EventsCreated += events
		}
	}
	logging.Info("service", "imported %d memories (%d skipped)", res.Imported, res.Skipped)
	return res, nil
}

// checksumMemories hashes the canonical JSON of the memory payload
func checksumMemories(memories []types.Memory) (string, error) {
	b, err := json.Marshal(memories)
	if err != nil {
		return "", fmt.Errorf("failed to marshal export payload: %w", err)
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
