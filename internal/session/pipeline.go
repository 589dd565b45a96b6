package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/protocol"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/types"
)

func (co *Coordinator) fragment(ctx context.Context, c *Conn, cmd protocol.TranscriptFragment) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return fmt.Errorf("%w: fragment text is empty", ErrInvalidCommand)
	}
	return co.ingest(ctx, c, cmd.SessionID, text, cmd.Confidence, cmd.Language)
}

// audio transcribes a chunk outside the session lane. A failed or empty
// transcription produces no segment and no error event.
func (co *Coordinator) audio(ctx context.Context, c *Conn, cmd protocol.AudioChunk) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	if co.stt == nil {
		return fmt.Errorf("%w: server-side transcription is not configured", ErrInvalidCommand)
	}

	lang := cmd.Language
	if lang == "" {
		lang = co.Settings().DefaultLanguage
	}
	start := time.Now()
	res, err := co.stt.Transcribe(ctx, stt.Request{
		Audio:    cmd.Audio,
		MimeType: cmd.MimeType,
		Language: lang,
	})
	co.metrics.RecordSTT(ctx, time.Since(start))
	if err != nil {
		slog.Warn("session: transcription failed, chunk dropped",
			"session_id", cmd.SessionID,
			"participant_id", c.participant.ID,
			"err", err,
		)
		return nil
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		slog.Debug("session: empty transcription", "session_id", cmd.SessionID, "participant_id", c.participant.ID)
		return nil
	}
	if res.Language != "" {
		lang = res.Language
	}
	return co.ingest(ctx, c, cmd.SessionID, text, res.Confidence, lang)
}

// ingest applies name correction and enhancement, then merges the fragment
// inside the session lane. Once queued the merge runs to completion even if
// c disconnects.
func (co *Coordinator) ingest(ctx context.Context, c *Conn, sessionID, text string, confidence float64, language string) error {
	set := co.Settings()
	if confidence <= 0 {
		confidence = set.DefaultConfidence
	}
	confidence = min(confidence, 1)
	if language == "" {
		language = set.DefaultLanguage
	}

	if set.CorrectNames {
		members := co.reg.MembersOf(sessionID)
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.DisplayName)
		}
		var fixes []transcript.Correction
		text, fixes = co.names.Correct(text, names)
		if len(fixes) > 0 {
			slog.Debug("session: corrected names", "session_id", sessionID, "count", len(fixes))
		}
	}
	if set.Enhance && co.enhancer != nil {
		start := time.Now()
		enhanced, err := co.enhancer.Enhance(ctx, text)
		co.metrics.RecordLLM(ctx, "enhance", time.Since(start))
		if err != nil {
			slog.Warn("session: enhancement failed, using original text", "session_id", sessionID, "err", err)
		} else if strings.TrimSpace(enhanced) != "" {
			text = enhanced
		}
	}

	f := types.Fragment{
		SpeakerID:   c.participant.ID,
		SpeakerName: c.participant.DisplayName,
		Text:        text,
		Confidence:  confidence,
		Language:    language,
	}
	wctx := context.WithoutCancel(ctx)
	return co.seq.Do(sessionID, func() error {
		start := time.Now()
		agg, err := co.store.LoadTranscript(wctx, sessionID)
		if err != nil {
			return fmt.Errorf("session: load transcript: %w", err)
		}
		res, err := co.merger.Merge(agg.Segments, f)
		if err != nil {
			return err
		}
		if !res.Kind.Changed() {
			co.metrics.RecordMerge(wctx, res.Kind.String(), time.Since(start))
			return nil
		}

		next := transcript.Recompute(res.Segments)
		if err := co.commit(wctx, sessionID, next); err != nil {
			return err
		}
		co.metrics.RecordMerge(wctx, res.Kind.String(), time.Since(start))

		seg, _ := res.Affected()
		co.hub.Broadcast(sessionID, protocol.NewEvent(protocol.EventTranscriptUpdated, protocol.TranscriptUpdated{
			SessionID: sessionID,
			Segment:   seg,
			Aggregate: next.Counters(),
		}))
		return nil
	})
}

// commit verifies agg and persists it. Nothing is stored when either step
// fails. Must run inside the session lane.
func (co *Coordinator) commit(ctx context.Context, sessionID string, agg types.Aggregate) error {
	if err := transcript.Verify(agg); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := co.store.SaveTranscript(ctx, sessionID, agg); err != nil {
		return fmt.Errorf("session: save transcript: %w", err)
	}
	return nil
}

func (co *Coordinator) editSegment(ctx context.Context, c *Conn, cmd protocol.SegmentEdit) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	if strings.TrimSpace(cmd.Text) == "" {
		return fmt.Errorf("%w: segment text is empty", ErrInvalidCommand)
	}
	host, err := co.authz.IsHost(ctx, cmd.SessionID, c.participant.ID)
	if err != nil {
		return fmt.Errorf("session: check host: %w", err)
	}

	wctx := context.WithoutCancel(ctx)
	return co.seq.Do(cmd.SessionID, func() error {
		agg, err := co.store.LoadTranscript(wctx, cmd.SessionID)
		if err != nil {
			return fmt.Errorf("session: load transcript: %w", err)
		}
		if err := canModify(agg.Segments, cmd.SegmentID, c.participant.ID, host); err != nil {
			return err
		}
		next, seg, err := transcript.UpdateSegment(agg.Segments, cmd.SegmentID, cmd.Text)
		if err != nil {
			return err
		}
		if err := co.commit(wctx, cmd.SessionID, next); err != nil {
			return err
		}
		co.hub.Broadcast(cmd.SessionID, protocol.NewEvent(protocol.EventTranscriptUpdated, protocol.TranscriptUpdated{
			SessionID: cmd.SessionID,
			Segment:   seg,
			Aggregate: next.Counters(),
		}))
		return nil
	})
}

func (co *Coordinator) deleteSegment(ctx context.Context, c *Conn, cmd protocol.SegmentDelete) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	host, err := co.authz.IsHost(ctx, cmd.SessionID, c.participant.ID)
	if err != nil {
		return fmt.Errorf("session: check host: %w", err)
	}

	wctx := context.WithoutCancel(ctx)
	return co.seq.Do(cmd.SessionID, func() error {
		agg, err := co.store.LoadTranscript(wctx, cmd.SessionID)
		if err != nil {
			return fmt.Errorf("session: load transcript: %w", err)
		}
		if err := canModify(agg.Segments, cmd.SegmentID, c.participant.ID, host); err != nil {
			return err
		}
		next, err := transcript.DeleteSegment(agg.Segments, cmd.SegmentID)
		if err != nil {
			return err
		}
		if err := co.commit(wctx, cmd.SessionID, next); err != nil {
			return err
		}
		co.hub.Broadcast(cmd.SessionID, protocol.NewEvent(protocol.EventSegmentDeleted, protocol.SegmentDeleted{
			SessionID: cmd.SessionID,
			SegmentID: cmd.SegmentID,
			Aggregate: next.Counters(),
		}))
		return nil
	})
}

// canModify allows the segment's speaker and the session host.
func canModify(segs []types.Segment, segmentID, participantID string, host bool) error {
	i := transcript.Find(segs, segmentID)
	if i < 0 {
		return fmt.Errorf("%w: %q", transcript.ErrSegmentNotFound, segmentID)
	}
	if !host && segs[i].SpeakerID != participantID {
		return fmt.Errorf("%w: only the speaker or the host can modify a segment", ErrAuthorizationDenied)
	}
	return nil
}

// search answers the caller only. It reads the stored transcript without
// entering the session lane.
func (co *Coordinator) search(ctx context.Context, c *Conn, cmd protocol.SearchTranscript) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	query := strings.TrimSpace(cmd.Query)
	if query == "" {
		return fmt.Errorf("%w: search query is empty", ErrInvalidCommand)
	}
	agg, err := co.store.LoadTranscript(ctx, cmd.SessionID)
	if err != nil {
		return fmt.Errorf("session: load transcript: %w", err)
	}
	found := transcript.Search(agg.Segments, query, transcript.SearchOpts{
		SpeakerID:     cmd.SpeakerID,
		WholeWords:    cmd.WholeWords,
		CaseSensitive: cmd.CaseSensitive,
		After:         cmd.After,
		Before:        cmd.Before,
	})
	if found == nil {
		found = []types.Segment{}
	}
	c.send(protocol.NewEvent(protocol.EventSearchResults, protocol.SearchResults{
		SessionID: cmd.SessionID,
		Query:     query,
		Segments:  found,
	}))
	return nil
}
