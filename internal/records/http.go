package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/domain"
)

const requestTimeout = 5 * time.Second

// maxFinalized caps the idempotence cache; only the most recent calls need
// duplicate suppression, and a session-long client must not grow forever.
const maxFinalized = 128

// HTTPSynchronizer talks to the call-record API:
// POST {base}/calls/initiate and PATCH {base}/calls/{callId}.
type HTTPSynchronizer struct {
	base   string
	token  string
	client *http.Client

	mu        sync.Mutex
	finalized map[domain.CallID]domain.CallStatus
	order     []domain.CallID
}

func NewHTTPSynchronizer(baseURL, authToken string) *HTTPSynchronizer {
	return &HTTPSynchronizer{
		base:      baseURL,
		token:     authToken,
		client:    &http.Client{Timeout: requestTimeout},
		finalized: make(map[domain.CallID]domain.CallStatus),
	}
}

type initiateRequest struct {
	CallerID    domain.UserID   `json:"callerId"`
	RecipientID domain.UserID   `json:"recipientId"`
	CallType    domain.CallType `json:"callType"`
}

type initiateResponse struct {
	CallID domain.CallID `json:"callId"`
	RoomID domain.RoomID `json:"roomId"`
}

func (s *HTTPSynchronizer) Initiate(ctx context.Context, caller, recipient domain.UserID, callType domain.CallType) (InitiateResult, error) {
	body, err := json.Marshal(initiateRequest{CallerID: caller, RecipientID: recipient, CallType: callType})
	if err != nil {
		return InitiateResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/calls/initiate", bytes.NewReader(body))
	if err != nil {
		return InitiateResult{}, err
	}
	s.prepare(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("initiate call record: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return InitiateResult{}, fmt.Errorf("initiate call record: status %d", resp.StatusCode)
	}
	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return InitiateResult{}, fmt.Errorf("initiate call record: %w", err)
	}
	return InitiateResult{CallID: out.CallID, RoomID: out.RoomID}, nil
}

type finalizeRequest struct {
	Status     domain.CallStatus `json:"status"`
	AcceptedAt *time.Time        `json:"acceptedAt,omitempty"`
	EndedAt    *time.Time        `json:"endedAt,omitempty"`
	Duration   int               `json:"duration"`
}

// Finalize patches the terminal status once per call; repeats for the same
// terminal status are answered locally without another request.
func (s *HTTPSynchronizer) Finalize(ctx context.Context, fin Finalization) error {
	s.mu.Lock()
	if prev, ok := s.finalized[fin.CallID]; ok && prev == fin.Status {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	payload := finalizeRequest{Status: fin.Status, Duration: fin.Duration}
	if !fin.ConnectedAt.IsZero() {
		t := fin.ConnectedAt
		payload.AcceptedAt = &t
	}
	if !fin.EndedAt.IsZero() {
		t := fin.EndedAt
		payload.EndedAt = &t
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, fmt.Sprintf("%s/calls/%s", s.base, fin.CallID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.prepare(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("finalize call record: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("finalize call record: status %d", resp.StatusCode)
	}

	s.markFinalized(fin.CallID, fin.Status)
	log.Info().Str("module", "records").Str("call_id", string(fin.CallID)).Str("status", string(fin.Status)).Int("duration", fin.Duration).Msg("call record finalized")
	return nil
}

// markFinalized records a successful finalize, evicting the oldest entry
// once the cache is full.
func (s *HTTPSynchronizer) markFinalized(id domain.CallID, status domain.CallStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.finalized[id]; !ok {
		s.order = append(s.order, id)
		if len(s.order) > maxFinalized {
			delete(s.finalized, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.finalized[id] = status
}

func (s *HTTPSynchronizer) prepare(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
