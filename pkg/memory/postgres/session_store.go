package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/parley/pkg/types"
)

// LoadTranscript implements [memory.TranscriptStore].
func (s *Store) LoadTranscript(ctx context.Context, sessionID string) (types.Aggregate, error) {
	const q = `
		SELECT segments, full_text, total_words, speaker_count, avg_confidence
		FROM   session_transcripts
		WHERE  session_id = $1`

	var (
		agg types.Aggregate
		raw []byte
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&raw,
		&agg.FullText,
		&agg.TotalWords,
		&agg.SpeakerCount,
		&agg.AvgConfidence,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Aggregate{}, nil
	}
	if err != nil {
		return types.Aggregate{}, fmt.Errorf("transcript store: load: %w", err)
	}
	if err := json.Unmarshal(raw, &agg.Segments); err != nil {
		return types.Aggregate{}, fmt.Errorf("transcript store: decode segments: %w", err)
	}
	return agg, nil
}

// SaveTranscript implements [memory.TranscriptStore]. Segments and counters
// are written in one statement so a reader never sees them disagree.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, agg types.Aggregate) error {
	const q = `
		INSERT INTO session_transcripts
		    (session_id, segments, full_text, total_words, speaker_count, avg_confidence, updated_at)
		VALUES ($1, $2::jsonb, $3, $4, $5, $6, now())
		ON CONFLICT (session_id) DO UPDATE SET
		    segments       = EXCLUDED.segments,
		    full_text      = EXCLUDED.full_text,
		    total_words    = EXCLUDED.total_words,
		    speaker_count  = EXCLUDED.speaker_count,
		    avg_confidence = EXCLUDED.avg_confidence,
		    updated_at     = now()`

	segs := agg.Segments
	if segs == nil {
		segs = []types.Segment{}
	}
	raw, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("transcript store: encode segments: %w", err)
	}

	_, err = s.pool.Exec(ctx, q,
		sessionID,
		string(raw),
		agg.FullText,
		agg.TotalWords,
		agg.SpeakerCount,
		agg.AvgConfidence,
	)
	if err != nil {
		return fmt.Errorf("transcript store: save: %w", err)
	}
	return nil
}

// AppendChat implements [memory.ChatStore]. The append happens inside the
// database so concurrent writers cannot overwrite each other's messages.
func (s *Store) AppendChat(ctx context.Context, sessionID string, msg types.ChatMessage) error {
	const q = `
		INSERT INTO session_transcripts (session_id, chat_messages, updated_at)
		VALUES ($1, jsonb_build_array($2::jsonb), now())
		ON CONFLICT (session_id) DO UPDATE SET
		    chat_messages = session_transcripts.chat_messages || jsonb_build_array($2::jsonb),
		    updated_at    = now()`

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chat store: encode message: %w", err)
	}
	if _, err := s.pool.Exec(ctx, q, sessionID, string(raw)); err != nil {
		return fmt.Errorf("chat store: append: %w", err)
	}
	return nil
}

// ChatHistory implements [memory.ChatStore].
func (s *Store) ChatHistory(ctx context.Context, sessionID string) ([]types.ChatMessage, error) {
	const q = `SELECT chat_messages FROM session_transcripts WHERE session_id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []types.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat store: history: %w", err)
	}

	msgs := []types.ChatMessage{}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("chat store: decode messages: %w", err)
	}
	return msgs, nil
}
