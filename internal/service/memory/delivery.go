package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/chat"
)

// TimestampLayout is ISO-8601 with a numeric offset, never "Z".
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// TranscriptPayload is the body POSTed to the transcript endpoint.
type TranscriptPayload struct {
	Transcript string `json:"transcript"`
	Timestamp  string `json:"timestamp"`
}

// BuildPayload renders a snapshot. The transcript field is itself a JSON
// array of utterances, encoded as a string.
func (c *Client) BuildPayload(snap chat.Snapshot) (TranscriptPayload, error) {
	items := snap.Utterances
	if items == nil {
		items = []chat.Utterance{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return TranscriptPayload{}, fmt.Errorf("encode transcript: %w", err)
	}
	return TranscriptPayload{
		Transcript: string(encoded),
		Timestamp:  FormatTimestamp(snap.TakenAt, c.location),
	}, nil
}

// FormatTimestamp renders t in loc with an explicit offset.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(TimestampLayout)
}

// Deliver POSTs the snapshot once. The returned error is informational; the
// session never retries or rolls back on it.
func (c *Client) Deliver(ctx context.Context, snap chat.Snapshot) error {
	if c.transcriptURL == "" {
		log.Printf("[memory] transcript endpoint not configured, dropping transcript for session=%s", snap.SessionID)
		return nil
	}

	payload, err := c.BuildPayload(snap)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.transcriptURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build transcript request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[memory] transcript delivery unreachable session=%s: %v", snap.SessionID, err)
		return fmt.Errorf("post transcript: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Printf("[memory] transcript sent session=%s utterances=%d status=%d", snap.SessionID, len(snap.Utterances), resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transcript endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
