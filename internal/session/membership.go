package session

import (
	"context"
	"fmt"

	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/protocol"
	"github.com/MrWong99/parley/pkg/types"
)

// join moves c into sessionID. A connection already in another session
// leaves it first; joining the current session again only re-sends the
// session-joined answer.
func (co *Coordinator) join(ctx context.Context, c *Conn, sessionID string) error {
	state, current := c.State()
	if state == StateDisconnected {
		return ErrDisconnected
	}

	ok, err := co.authz.CanAccess(ctx, sessionID, c.participant.ID)
	if err != nil {
		return fmt.Errorf("session: authorize join: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no access to session %q", ErrAuthorizationDenied, sessionID)
	}

	if state == StateInSession && current != sessionID {
		left, err := co.leave(ctx, c, current)
		if err != nil {
			return err
		}
		if left {
			c.send(protocol.NewEvent(protocol.EventSessionLeft, protocol.SessionLeft{SessionID: current}))
		}
	}

	wctx := context.WithoutCancel(ctx)
	return co.seq.Do(sessionID, func() error {
		joined, err := co.snapshot(wctx, sessionID)
		if err != nil {
			return err
		}

		c.mu.Lock()
		if c.state == StateDisconnected {
			c.mu.Unlock()
			return ErrDisconnected
		}
		members, added := co.reg.Join(sessionID, c.participant)
		c.state = StateInSession
		c.sessionID = sessionID
		c.mu.Unlock()

		if added && len(members) == 1 {
			co.metrics.AddSessions(wctx, 1)
		}
		joined.SessionID = sessionID
		joined.Members = members
		c.send(protocol.NewEvent(protocol.EventSessionJoined, joined))
		if added {
			co.hub.BroadcastExcept(sessionID, c.participant.ID, protocol.NewEvent(protocol.EventMemberJoined, protocol.MemberChange{
				SessionID:   sessionID,
				Participant: c.participant,
			}))
		}
		return nil
	})
}

func (co *Coordinator) leaveCommand(ctx context.Context, c *Conn, sessionID string) error {
	if err := c.requireSession(sessionID); err != nil {
		return err
	}
	left, err := co.leave(ctx, c, sessionID)
	if err != nil {
		return err
	}
	if !left {
		return ErrNotInSession
	}
	c.send(protocol.NewEvent(protocol.EventSessionLeft, protocol.SessionLeft{SessionID: sessionID}))
	return nil
}

// leave moves c from sessionID back to Authenticated. It reports false when
// c was no longer in that session by the time the task ran.
func (co *Coordinator) leave(ctx context.Context, c *Conn, sessionID string) (bool, error) {
	var left bool
	err := co.seq.Do(sessionID, func() error {
		c.mu.Lock()
		if c.state != StateInSession || c.sessionID != sessionID {
			c.mu.Unlock()
			return nil
		}
		c.state = StateAuthenticated
		c.sessionID = ""
		c.mu.Unlock()

		left = true
		co.removeMember(context.WithoutCancel(ctx), sessionID, c.participant)
		return nil
	})
	return left, err
}

// removeMember drops p from the room and tells the remaining members. Must
// run inside the session lane.
func (co *Coordinator) removeMember(ctx context.Context, sessionID string, p types.Participant) {
	if !co.reg.Leave(sessionID, p.ID) {
		return
	}
	if len(co.reg.MembersOf(sessionID)) == 0 {
		co.metrics.AddSessions(ctx, -1)
		co.recMu.Lock()
		delete(co.recording, sessionID)
		co.recMu.Unlock()
		return
	}
	co.hub.Broadcast(sessionID, protocol.NewEvent(protocol.EventMemberLeft, protocol.MemberChange{
		SessionID:   sessionID,
		Participant: p,
	}))
}

// snapshot loads the stored transcript and chat log of sessionID with their
// summary. Must run inside the session lane so the history matches the
// events that follow the join.
func (co *Coordinator) snapshot(ctx context.Context, sessionID string) (protocol.SessionJoined, error) {
	agg, err := co.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		return protocol.SessionJoined{}, fmt.Errorf("session: load transcript: %w", err)
	}
	history, err := co.store.ChatHistory(ctx, sessionID)
	if err != nil {
		return protocol.SessionJoined{}, fmt.Errorf("session: load chat history: %w", err)
	}
	rec := co.recordingOf(sessionID)

	speaking := make([]protocol.SpeakerDuration, 0)
	for _, st := range transcript.SpeakingTime(agg.Segments) {
		speaking = append(speaking, protocol.SpeakerDuration{
			SpeakerID:   st.SpeakerID,
			SpeakerName: st.SpeakerName,
			DurationMS:  st.Duration.Milliseconds(),
		})
	}
	segments := agg.Segments
	if segments == nil {
		segments = []types.Segment{}
	}
	if history == nil {
		history = []types.ChatMessage{}
	}
	return protocol.SessionJoined{
		Summary: protocol.Summary{
			SegmentCount:     len(agg.Segments),
			TotalWords:       agg.TotalWords,
			SpeakerCount:     agg.SpeakerCount,
			AvgConfidence:    agg.AvgConfidence,
			ChatMessageCount: len(history),
			IsRecording:      rec.recording,
			IsPaused:         rec.paused,
			SpeakingTime:     speaking,
		},
		Segments: segments,
		Messages: history,
	}, nil
}
