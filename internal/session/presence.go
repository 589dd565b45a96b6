package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/assist"
	"github.com/MrWong99/parley/pkg/protocol"
)

const insightsTimeout = time.Minute

// audioLevel relays the sender's level to the other members. Levels are not
// stored and skip the session lane.
func (co *Coordinator) audioLevel(c *Conn, cmd protocol.AudioLevel) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	co.hub.BroadcastExcept(cmd.SessionID, c.participant.ID, protocol.NewEvent(protocol.EventParticipantAudioLevel, protocol.ParticipantAudioLevel{
		SessionID:     cmd.SessionID,
		ParticipantID: c.participant.ID,
		Level:         min(max(cmd.Level, 0), 1),
		Timestamp:     time.Now(),
	}))
	return nil
}

func (co *Coordinator) participantStatus(c *Conn, cmd protocol.ParticipantStatus) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	co.hub.BroadcastExcept(cmd.SessionID, c.participant.ID, protocol.NewEvent(protocol.EventParticipantStatusChanged, protocol.ParticipantStatusChanged{
		SessionID:     cmd.SessionID,
		ParticipantID: c.participant.ID,
		Status:        cmd.Status,
		Timestamp:     time.Now(),
	}))
	return nil
}

// generateInsights summarises the stored transcript outside the session lane
// and sends the result to every member. A failed summary is delivered as
// placeholder insights with Fallback set.
func (co *Coordinator) generateInsights(ctx context.Context, c *Conn, cmd protocol.GenerateInsights) error {
	if err := c.requireSession(cmd.SessionID); err != nil {
		return err
	}
	if co.insights == nil {
		return fmt.Errorf("%w: insights are not available", ErrInvalidCommand)
	}
	agg, err := co.store.LoadTranscript(ctx, cmd.SessionID)
	if err != nil {
		return fmt.Errorf("session: load transcript: %w", err)
	}
	if strings.TrimSpace(agg.FullText) == "" {
		return fmt.Errorf("%w: session %q has no transcript yet", ErrNoTranscript, cmd.SessionID)
	}

	sctx, cancel := context.WithTimeout(ctx, insightsTimeout)
	defer cancel()
	start := time.Now()
	in, err := co.insights.Summarise(sctx, agg.FullText)
	co.metrics.RecordLLM(ctx, "insights", time.Since(start))

	ev := protocol.InsightsGenerated{
		SessionID:   cmd.SessionID,
		RequestedBy: c.participant.ID,
		Insights:    in,
	}
	if err != nil {
		slog.Warn("session: insights failed, sending fallback", "session_id", cmd.SessionID, "err", err)
		ev.Insights = assist.FallbackInsights()
		ev.Fallback = true
	}
	co.hub.Broadcast(cmd.SessionID, protocol.NewEvent(protocol.EventInsightsGenerated, ev))
	return nil
}
