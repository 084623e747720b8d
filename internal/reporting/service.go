package reporting

import (
	"context"
	"errors"
	"time"

	"crm-voice/internal/history"
	"crm-voice/pkg/protocol"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Source lists ended-call records.
//
// IMPORTANT: implementations must enforce tenant filtering.
type Source interface {
	List(ctx context.Context, tenantID string, from, to time.Time) ([]history.Record, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: source not configured")
	}

	rows, err := s.src.List(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID, ReceiverID: req.ReceiverID, Range: req.Range}
	for _, r := range rows {
		if req.ReceiverID != "" && r.ReceiverID != req.ReceiverID {
			continue
		}
		out.TotalCalls++
		if r.Connected() {
			out.ConnectedCalls++
			out.TotalDurationSeconds += r.DurationSeconds
			if r.DurationSeconds > out.LongestDurationSeconds {
				out.LongestDurationSeconds = r.DurationSeconds
			}
			if r.EndReason == protocol.ReasonDisconnected {
				out.DisconnectedCalls++
			}
			continue
		}
		switch r.EndReason {
		case protocol.ReasonNoAnswer:
			out.NoAnswerCalls++
		case protocol.ReasonDisconnected:
			out.DisconnectedCalls++
		default:
			// cancelled, hung up while ringing, or shut down
			out.CancelledCalls++
		}
	}
	if out.ConnectedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.ConnectedCalls
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(out.ConnectedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}
