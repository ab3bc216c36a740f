package entitlement

import (
	"context"
	"time"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/session"
	"github.com/videncia/oraculo/internal/syncutil"
)

// Store is the single entry point for entitlement reads and writes. Every
// counter and flag lives in session storage under the per-service key
// patterns; nothing reads or writes those keys except through here.
// Counter updates are read-modify-write over session storage, so they are
// serialized per session.
type Store struct {
	sessions *session.Manager
	locks    *syncutil.ContextShardedMutex
}

// NewStore creates an entitlement store over the session manager.
func NewStore(sessions *session.Manager) *Store {
	return &Store{
		sessions: sessions,
		locks:    syncutil.NewContextShardedMutex(),
	}
}

// MayUserSend reports whether the service will accept the next message:
// full access, a bonus consultation in reserve, or free quota remaining.
func (s *Store) MayUserSend(ctx context.Context, sid string, svc catalog.ServiceConfig) (bool, error) {
	paid, err := s.sessions.GetBool(ctx, sid, svc.PaidKey())
	if err != nil {
		return false, err
	}
	if paid {
		return true, nil
	}
	bonus, err := s.sessions.GetInt(ctx, sid, svc.BonusKey)
	if err != nil {
		return false, err
	}
	if bonus > 0 {
		return true, nil
	}
	sent, err := s.sessions.GetInt(ctx, sid, svc.CountKey())
	if err != nil {
		return false, err
	}
	return sent < svc.FreeLimit, nil
}

// RecordMessageSent charges one unit of free quota. Callers that paid or
// consumed a bonus consultation for the send must not call this; gating
// itself is the caller's job via MayUserSend.
func (s *Store) RecordMessageSent(ctx context.Context, sid string, svc catalog.ServiceConfig) error {
	unlock, err := s.locks.LockContext(ctx, sid)
	if err != nil {
		return err
	}
	defer unlock()

	paid, err := s.sessions.GetBool(ctx, sid, svc.PaidKey())
	if err != nil {
		return err
	}
	if paid {
		return nil
	}
	sent, err := s.sessions.GetInt(ctx, sid, svc.CountKey())
	if err != nil {
		return err
	}
	return s.sessions.PutInt(ctx, sid, svc.CountKey(), sent+1)
}

// ConsumeBonusConsultation decrements the service's bonus consultation
// count if one is available. Returns whether one was consumed and how many
// remain. Never goes below zero.
func (s *Store) ConsumeBonusConsultation(ctx context.Context, sid string, svc catalog.ServiceConfig) (bool, int, error) {
	unlock, err := s.locks.LockContext(ctx, sid)
	if err != nil {
		return false, 0, err
	}
	defer unlock()

	bonus, err := s.sessions.GetInt(ctx, sid, svc.BonusKey)
	if err != nil {
		return false, 0, err
	}
	if bonus <= 0 {
		return false, 0, nil
	}
	remaining := bonus - 1
	if err := s.sessions.PutInt(ctx, sid, svc.BonusKey, remaining); err != nil {
		return false, bonus, err
	}
	return true, remaining, nil
}

// GrantBonusConsultations adds bonus consultations and reopens the
// conversation: a grant always clears a pending blocked message.
func (s *Store) GrantBonusConsultations(ctx context.Context, sid string, svc catalog.ServiceConfig, count int) error {
	if count <= 0 {
		return nil
	}
	unlock, err := s.locks.LockContext(ctx, sid)
	if err != nil {
		return err
	}
	defer unlock()

	bonus, err := s.sessions.GetInt(ctx, sid, svc.BonusKey)
	if err != nil {
		return err
	}
	if err := s.sessions.PutInt(ctx, sid, svc.BonusKey, bonus+count); err != nil {
		return err
	}
	return s.ClearBlocked(ctx, sid, svc)
}

// GrantFullAccess marks the service fully paid and clears any blocked
// message. Irreversible within the session.
func (s *Store) GrantFullAccess(ctx context.Context, sid string, svc catalog.ServiceConfig) error {
	if err := s.sessions.PutBool(ctx, sid, svc.PaidKey(), true); err != nil {
		return err
	}
	return s.ClearBlocked(ctx, sid, svc)
}

// MarkBlocked remembers the message awaiting payment for this service.
func (s *Store) MarkBlocked(ctx context.Context, sid string, svc catalog.ServiceConfig, messageID string) error {
	return s.sessions.PutString(ctx, sid, svc.BlockedKey(), messageID)
}

// IsBlocked reports whether the given message is the one pending behind
// the paywall. Always false once the service is fully paid, even if the
// stored id still matches.
func (s *Store) IsBlocked(ctx context.Context, sid string, svc catalog.ServiceConfig, messageID string) (bool, error) {
	paid, err := s.sessions.GetBool(ctx, sid, svc.PaidKey())
	if err != nil {
		return false, err
	}
	if paid {
		return false, nil
	}
	blocked, err := s.sessions.GetString(ctx, sid, svc.BlockedKey())
	if err != nil {
		return false, err
	}
	return blocked != "" && blocked == messageID, nil
}

// ClearBlocked forgets the pending blocked message, if any.
func (s *Store) ClearBlocked(ctx context.Context, sid string, svc catalog.ServiceConfig) error {
	return s.sessions.Delete(ctx, sid, svc.BlockedKey())
}

// ResetConversation resets the free counter and blocked marker for a new
// consultation. Paid access and bonus consultations persist: a paying
// user's unlock is never revoked by starting over.
func (s *Store) ResetConversation(ctx context.Context, sid string, svc catalog.ServiceConfig) error {
	if err := s.sessions.PutInt(ctx, sid, svc.CountKey(), 0); err != nil {
		return err
	}
	return s.ClearBlocked(ctx, sid, svc)
}

// Snapshot returns the service's current gate state.
func (s *Store) Snapshot(ctx context.Context, sid string, svc catalog.ServiceConfig) (ServiceEntitlement, error) {
	paid, err := s.sessions.GetBool(ctx, sid, svc.PaidKey())
	if err != nil {
		return ServiceEntitlement{}, err
	}
	sent, err := s.sessions.GetInt(ctx, sid, svc.CountKey())
	if err != nil {
		return ServiceEntitlement{}, err
	}
	bonus, err := s.sessions.GetInt(ctx, sid, svc.BonusKey)
	if err != nil {
		return ServiceEntitlement{}, err
	}
	blocked := ""
	if !paid {
		blocked, err = s.sessions.GetString(ctx, sid, svc.BlockedKey())
		if err != nil {
			return ServiceEntitlement{}, err
		}
	}
	return ServiceEntitlement{
		ServiceID:                   svc.ID,
		HasPaidFullAccess:           paid,
		FreeMessagesSent:            sent,
		FreeLimit:                   svc.FreeLimit,
		BonusConsultationsRemaining: bonus,
		BlockedMessageID:            blocked,
	}, nil
}

// --- Global wheel currencies ---

// Wheel returns the shared wheel currency state.
func (s *Store) Wheel(ctx context.Context, sid string) (WheelState, error) {
	spins, err := s.sessions.GetInt(ctx, sid, keyWheelSpins)
	if err != nil {
		return WheelState{}, err
	}
	state := WheelState{ExtraSpinsAvailable: spins}

	dateStr, err := s.sessions.GetString(ctx, sid, keyLastDailySpin)
	if err != nil {
		return WheelState{}, err
	}
	if dateStr != "" {
		if d, err := time.Parse(DailySpinDateLayout, dateStr); err == nil {
			state.LastDailySpinDate = &d
		} else {
			// Corrupted date: discard and treat the daily spin as unused.
			_ = s.sessions.Delete(ctx, sid, keyLastDailySpin)
		}
	}
	return state, nil
}

// GrantExtraSpins adds to the shared extra-spin pool.
func (s *Store) GrantExtraSpins(ctx context.Context, sid string, count int) error {
	if count <= 0 {
		return nil
	}
	unlock, err := s.locks.LockContext(ctx, sid)
	if err != nil {
		return err
	}
	defer unlock()

	spins, err := s.sessions.GetInt(ctx, sid, keyWheelSpins)
	if err != nil {
		return err
	}
	return s.sessions.PutInt(ctx, sid, keyWheelSpins, spins+count)
}

// ConsumeExtraSpin decrements the extra-spin pool if one is available.
func (s *Store) ConsumeExtraSpin(ctx context.Context, sid string) (bool, error) {
	unlock, err := s.locks.LockContext(ctx, sid)
	if err != nil {
		return false, err
	}
	defer unlock()

	spins, err := s.sessions.GetInt(ctx, sid, keyWheelSpins)
	if err != nil {
		return false, err
	}
	if spins <= 0 {
		return false, nil
	}
	if err := s.sessions.PutInt(ctx, sid, keyWheelSpins, spins-1); err != nil {
		return false, err
	}
	return true, nil
}

// MarkDailySpinUsed records that today's free spin has been consumed.
func (s *Store) MarkDailySpinUsed(ctx context.Context, sid string, today time.Time) error {
	return s.sessions.PutString(ctx, sid, keyLastDailySpin, today.Format(DailySpinDateLayout))
}

// --- Contact info & pending payment ---

// SaveContactInfo stores the lead-capture result for the session.
func (s *Store) SaveContactInfo(ctx context.Context, sid string, info ContactInfo) error {
	return s.sessions.PutJSON(ctx, sid, keyUserData, info)
}

// ContactInfo returns the captured contact info, or ErrNoContactInfo.
func (s *Store) ContactInfo(ctx context.Context, sid string) (ContactInfo, error) {
	var info ContactInfo
	ok, err := s.sessions.GetJSON(ctx, sid, keyUserData, &info)
	if err != nil {
		return ContactInfo{}, err
	}
	if !ok || info.Email == "" {
		return ContactInfo{}, ErrNoContactInfo
	}
	return info, nil
}

// SavePendingPayment stores the denied-send context for later replay.
func (s *Store) SavePendingPayment(ctx context.Context, sid string, p PendingPayment) error {
	return s.sessions.PutJSON(ctx, sid, keyPendingPayment, p)
}

// PendingPayment returns the stored context, or (nil, nil) when absent.
func (s *Store) PendingPayment(ctx context.Context, sid string) (*PendingPayment, error) {
	var p PendingPayment
	ok, err := s.sessions.GetJSON(ctx, sid, keyPendingPayment, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ClearPendingPayment drops the stored context.
func (s *Store) ClearPendingPayment(ctx context.Context, sid string) error {
	return s.sessions.Delete(ctx, sid, keyPendingPayment)
}
