package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// KindSessionStarted marks class-start notifications.
const KindSessionStarted = "SESSION_STARTED"

// Notifier records one push notification per batch student when a session
// starts, so students not yet connected learn about the class out of band.
type Notifier struct {
	store interfaces.Store
}

// NewNotifier creates a store-backed notifier.
func NewNotifier(store interfaces.Store) *Notifier {
	return &Notifier{store: store}
}

// SessionStarted writes a notification record for every student in the
// batch. A single failed record is logged and skipped; the rest still go
// out.
func (n *Notifier) SessionStarted(ctx context.Context, batch *types.Batch, session *types.LiveSession) error {
	body := fmt.Sprintf("Class started for %s. Join with code %s.", batch.Name, session.SessionCode)
	now := time.Now().UTC()

	var failed int
	for _, studentID := range batch.StudentIDs {
		record := &types.Notification{
			ID:        uuid.New().String(),
			UserID:    studentID,
			BatchID:   batch.ID,
			Kind:      KindSessionStarted,
			Body:      body,
			CreatedAt: now,
		}
		if err := n.store.CreateNotification(ctx, record); err != nil {
			failed++
			log.Printf("Failed to create notification: user=%s batch=%s err=%v", studentID, batch.ID, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to notify %d of %d students", failed, len(batch.StudentIDs))
	}

	log.Printf("Session start notifications created: batch=%s session=%s students=%d",
		batch.ID, session.ID, len(batch.StudentIDs))
	return nil
}
