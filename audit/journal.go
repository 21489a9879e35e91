package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/rs/zerolog/log"
)

const genesisHash = "genesis"

var (
	// ErrChainBroken is returned when a record's hash or back-link does not match
	ErrChainBroken = errors.New("execution journal hash chain is broken")

	// ErrLifecycleViolation is returned when an executed action lacks its
	// simulated and authorized records
	ErrLifecycleViolation = errors.New("execution lifecycle violated")
)

// Journal is the append-only, hash-chained log of execution records. Records
// are kept in memory and forwarded to every configured sink.
type Journal struct {
	mu       sync.RWMutex
	records  []types.ExecutionRecord
	byAction map[string][]int
	sequence uint64
	head     string
	sinks    []interfaces.RecordSink
	now      func() time.Time
}

// NewJournal creates an empty journal writing through to sinks
func NewJournal(sinks ...interfaces.RecordSink) *Journal {
	return &Journal{
		byAction: make(map[string][]int),
		head:     genesisHash,
		sinks:    sinks,
		now:      time.Now,
	}
}

// LoadJournal restores a journal from source and verifies its chain before
// accepting new records
func LoadJournal(ctx context.Context, source interfaces.RecordSource, sinks ...interfaces.RecordSink) (*Journal, error) {
	records, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution records: %w", err)
	}

	j := NewJournal(sinks...)
	for _, rec := range records {
		j.store(*rec)
		j.sequence = rec.Sequence
		j.head = rec.Hash
	}
	if err := j.Verify(); err != nil {
		return nil, err
	}

	log.Info().Int("records", len(records)).Msg("Execution journal restored")
	return j, nil
}

// Append seals rec into the chain and forwards it to the sinks. The record is
// part of the journal even when a sink fails; the sink error is returned.
func (j *Journal) Append(ctx context.Context, rec types.ExecutionRecord) (types.ExecutionRecord, error) {
	j.mu.Lock()

	j.sequence++
	rec.ID = uuid.New().String()
	rec.Sequence = j.sequence
	if rec.Timestamp.IsZero() {
		rec.Timestamp = j.now()
	}
	// Millisecond precision survives every sink round trip
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Millisecond)
	rec.PrevHash = j.head
	rec.Hash = ""

	hash, err := hashRecord(&rec)
	if err != nil {
		j.sequence--
		j.mu.Unlock()
		return types.ExecutionRecord{}, fmt.Errorf("failed to hash execution record: %w", err)
	}
	rec.Hash = hash
	j.head = hash
	j.store(rec)
	sinks := j.sinks
	j.mu.Unlock()

	log.Debug().
		Uint64("sequence", rec.Sequence).
		Str("actionId", rec.ActionID).
		Str("status", string(rec.Status)).
		Msg("Execution record appended")

	var sinkErr error
	for _, sink := range sinks {
		if err := sink.Append(ctx, &rec); err != nil {
			log.Error().Err(err).Uint64("sequence", rec.Sequence).Msg("Failed to forward execution record to sink")
			sinkErr = errors.Join(sinkErr, err)
		}
	}
	return rec, sinkErr
}

// LogExecution records the terminal result of an action: executed when the
// outcome succeeded, failed otherwise
func (j *Journal) LogExecution(ctx context.Context, action types.Action, outcome *types.Outcome) (types.ExecutionRecord, error) {
	rec := types.ExecutionRecord{
		ActionID:    action.ID,
		RuleID:      action.RuleID,
		ActionType:  action.Type(),
		Status:      types.StatusFailed,
		RealOutcome: outcome,
	}
	if outcome != nil {
		rec.SnapshotRevision = outcome.SnapshotRevision
		rec.Reason = outcome.Reason
		if outcome.Success {
			rec.Status = types.StatusExecuted
		}
	}
	return j.Append(ctx, rec)
}

// History returns every record in append order
func (j *Journal) History() []types.ExecutionRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]types.ExecutionRecord, len(j.records))
	copy(out, j.records)
	return out
}

// ForAction returns the records of one action in append order
func (j *Journal) ForAction(actionID string) []types.ExecutionRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	idx := j.byAction[actionID]
	out := make([]types.ExecutionRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, j.records[i])
	}
	return out
}

// Len returns the number of records
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}

// Verify recomputes every hash and back-link
func (j *Journal) Verify() error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	prev := genesisHash
	for i := range j.records {
		rec := j.records[i]
		if rec.PrevHash != prev {
			return fmt.Errorf("%w: record %d does not link to its predecessor", ErrChainBroken, rec.Sequence)
		}
		want := rec.Hash
		rec.Hash = ""
		got, err := hashRecord(&rec)
		if err != nil {
			return fmt.Errorf("failed to hash record %d: %w", rec.Sequence, err)
		}
		if got != want {
			return fmt.Errorf("%w: record %d hash mismatch", ErrChainBroken, rec.Sequence)
		}
		prev = want
	}
	return nil
}

// CheckLifecycle scans the history and fails if any executed action was not
// preceded by a simulated and then an authorized record
func (j *Journal) CheckLifecycle() error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for actionID, idx := range j.byAction {
		simulated, authorized := false, false
		for _, i := range idx {
			switch j.records[i].Status {
			case types.StatusSimulated:
				simulated = true
			case types.StatusAuthorized:
				if !simulated {
					return fmt.Errorf("%w: action %s authorized before simulation", ErrLifecycleViolation, actionID)
				}
				authorized = true
			case types.StatusExecuted:
				if !simulated || !authorized {
					return fmt.Errorf("%w: action %s executed without simulation and authorization", ErrLifecycleViolation, actionID)
				}
			}
		}
	}
	return nil
}

// Close closes every sink
func (j *Journal) Close() error {
	var errs error
	for _, sink := range j.sinks {
		errs = errors.Join(errs, sink.Close())
	}
	return errs
}

func (j *Journal) store(rec types.ExecutionRecord) {
	j.records = append(j.records, rec)
	j.byAction[rec.ActionID] = append(j.byAction[rec.ActionID], len(j.records)-1)
}

// hashRecord returns the SHA-256 of the canonical JSON form of rec
func hashRecord(rec *types.ExecutionRecord) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
