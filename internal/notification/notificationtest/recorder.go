// Package notificationtest provides an in-memory dispatcher for tests.
package notificationtest

import (
	"context"
	"sync"

	"github.com/smallbiznis/dojopay/internal/notification/domain"
)

// Recorder keeps every notification it receives and drops repeated references.
type Recorder struct {
	mu   sync.Mutex
	sent []domain.Notification
	seen map[string]struct{}
	Err  error
}

func NewRecorder() *Recorder {
	return &Recorder{seen: map[string]struct{}{}}
}

func (r *Recorder) Notify(ctx context.Context, n domain.Notification) (domain.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return domain.Result{Status: domain.StatusFailed}, r.Err
	}
	if n.Reference != "" {
		if _, ok := r.seen[n.Reference]; ok {
			return domain.Result{Status: domain.StatusDuplicate}, nil
		}
		r.seen[n.Reference] = struct{}{}
	}
	r.sent = append(r.sent, n)
	return domain.Result{Status: domain.StatusSent}, nil
}

// Sent returns the notifications of the given type, or all when typ is empty.
func (r *Recorder) Sent(typ domain.Type) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.sent {
		if typ == "" || n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}
