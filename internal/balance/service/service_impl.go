package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
	"github.com/smallbiznis/unitledger/internal/clock"
	"github.com/smallbiznis/unitledger/internal/events"
	ledgerdomain "github.com/smallbiznis/unitledger/internal/ledger/domain"
	"github.com/smallbiznis/unitledger/internal/observability"
	"github.com/smallbiznis/unitledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errConcurrentReplay marks a journal insert that lost a race against another
// request carrying the same reference. The transaction is rolled back and the
// operation resolves to the winner's entry.
var errConcurrentReplay = errors.New("concurrent_replay")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Balances balancedomain.Repository
	Entries  ledgerdomain.Repository
	Outbox   *events.Outbox         `optional:"true"`
	Metrics  *observability.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	balances balancedomain.Repository
	entries  ledgerdomain.Repository
	outbox   *events.Outbox
	metrics  *observability.Metrics
}

func NewService(p Params) balancedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("balance.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		balances: p.Balances,
		entries:  p.Entries,
		outbox:   p.Outbox,
		metrics:  p.Metrics,
	}
}

// CheckBalance implements domain.Service. It lazily provisions a zero
// balance but never mutates an existing one.
func (s *Service) CheckBalance(ctx context.Context, req balancedomain.CheckBalanceRequest) (balancedomain.CheckBalanceResponse, error) {
	sub := strings.TrimSpace(req.Sub)
	if sub == "" {
		return balancedomain.CheckBalanceResponse{}, balancedomain.ErrInvalidSub
	}
	if req.Units <= 0 {
		return balancedomain.CheckBalanceResponse{}, balancedomain.ErrInvalidUnits
	}

	balance, err := s.balances.GetOrCreate(ctx, s.db, sub)
	if err != nil {
		return balancedomain.CheckBalanceResponse{}, err
	}

	return balancedomain.CheckBalanceResponse{
		Allowed: balance.BalanceUnits >= req.Units,
		Balance: balance.BalanceUnits,
	}, nil
}

// GetBalance implements domain.Service.
func (s *Service) GetBalance(ctx context.Context, sub string) (int64, error) {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return 0, balancedomain.ErrInvalidSub
	}
	balance, err := s.balances.GetOrCreate(ctx, s.db, sub)
	if err != nil {
		return 0, err
	}
	return balance.BalanceUnits, nil
}

// Debit implements domain.Service. The journal lookup, the guarded
// decrement and the journal insert run in one transaction; the unique index
// on (sub, ref, direction) turns any remaining race into a replay.
func (s *Service) Debit(ctx context.Context, req balancedomain.DebitRequest) (balancedomain.MutationResponse, error) {
	sub := strings.TrimSpace(req.Sub)
	ref := strings.TrimSpace(req.Ref)
	if sub == "" {
		return balancedomain.MutationResponse{}, balancedomain.ErrInvalidSub
	}
	if req.Units <= 0 {
		return balancedomain.MutationResponse{}, balancedomain.ErrInvalidUnits
	}
	if ref == "" {
		return balancedomain.MutationResponse{}, balancedomain.ErrInvalidRef
	}

	var resp balancedomain.MutationResponse
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.entries.FindByRef(ctx, tx, sub, ref, ledgerdomain.DirectionDebit)
		if err != nil {
			return err
		}
		if existing != nil {
			balance, err := s.balances.FindBySub(ctx, tx, sub)
			if err != nil {
				return err
			}
			resp = replayResponse(balance, existing)
			return nil
		}

		balance, err := s.balances.GetOrCreate(ctx, tx, sub)
		if err != nil {
			return err
		}

		applied, err := s.balances.SubtractUnits(ctx, tx, sub, req.Units)
		if err != nil {
			return err
		}
		if !applied {
			return &balancedomain.InsufficientFundsError{
				Required:  req.Units,
				Available: balance.BalanceUnits,
			}
		}

		entry := &ledgerdomain.Entry{
			ID:        s.genID.Generate(),
			Sub:       sub,
			Ref:       ref,
			Direction: ledgerdomain.DirectionDebit,
			Units:     req.Units,
			Reason:    req.Reason,
			CreatedAt: s.clock.Now(),
		}
		if err := s.entries.Insert(ctx, tx, entry); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errConcurrentReplay
			}
			return err
		}

		// Re-read after the guarded decrement; the pre-update row can be
		// stale when another transaction commits between the read and the
		// update.
		updated, err := s.balances.FindBySub(ctx, tx, sub)
		if err != nil {
			return err
		}
		if updated == nil {
			return gorm.ErrRecordNotFound
		}

		resp = balancedomain.MutationResponse{
			Balance: updated.BalanceUnits,
			EntryID: entry.ID,
		}
		s.stageEvent(ctx, tx, events.Event{
			Sub:       sub,
			Type:      events.EventDebitProcessed,
			DedupeKey: "debit:" + sub + ":" + ref,
			Payload: map[string]any{
				"units":          req.Units,
				"ref":            ref,
				"reason":         req.Reason,
				"balance_before": updated.BalanceUnits + req.Units,
				"balance_after":  updated.BalanceUnits,
				"tx_id":          entry.ID.String(),
			},
		})
		return nil
	})

	if errors.Is(txErr, errConcurrentReplay) {
		return s.resolveReplay(ctx, sub, ref, ledgerdomain.DirectionDebit)
	}
	if txErr != nil {
		var insufficient *balancedomain.InsufficientFundsError
		if errors.As(txErr, &insufficient) {
			s.metrics.RecordLedgerOperation("debit", "insufficient_funds")
			if s.outbox != nil {
				s.outbox.Publish(ctx, events.Event{
					Sub:  sub,
					Type: events.EventInsufficientFunds,
					Payload: map[string]any{
						"required":  insufficient.Required,
						"available": insufficient.Available,
						"ref":       ref,
						"reason":    req.Reason,
					},
				})
			}
		}
		return balancedomain.MutationResponse{}, txErr
	}

	s.metrics.RecordLedgerOperation("debit", outcomeLabel(resp.Replayed))
	return resp, nil
}

// Credit implements domain.Service. Credits never fail for insufficient
// funds and carry no upper bound.
func (s *Service) Credit(ctx context.Context, req balancedomain.CreditRequest) (balancedomain.MutationResponse, error) {
	sub := strings.TrimSpace(req.Sub)
	ref := strings.TrimSpace(req.Ref)
	if sub == "" {
		return balancedomain.MutationResponse{}, balancedomain.ErrInvalidSub
	}
	if req.Units <= 0 {
		return balancedomain.MutationResponse{}, balancedomain.ErrInvalidUnits
	}
	if ref == "" {
		return balancedomain.MutationResponse{}, balancedomain.ErrInvalidRef
	}

	var resp balancedomain.MutationResponse
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.entries.FindByRef(ctx, tx, sub, ref, ledgerdomain.DirectionCredit)
		if err != nil {
			return err
		}
		if existing != nil {
			balance, err := s.balances.FindBySub(ctx, tx, sub)
			if err != nil {
				return err
			}
			resp = replayResponse(balance, existing)
			return nil
		}

		if _, err := s.balances.GetOrCreate(ctx, tx, sub); err != nil {
			return err
		}
		if err := s.balances.AddUnits(ctx, tx, sub, req.Units); err != nil {
			return err
		}

		entry := &ledgerdomain.Entry{
			ID:        s.genID.Generate(),
			Sub:       sub,
			Ref:       ref,
			Direction: ledgerdomain.DirectionCredit,
			Units:     req.Units,
			Reason:    req.Reason,
			CreatedAt: s.clock.Now(),
		}
		if source := strings.TrimSpace(req.SourceService); source != "" {
			entry.SourceService = &source
		}
		if err := s.entries.Insert(ctx, tx, entry); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errConcurrentReplay
			}
			return err
		}

		// Same staleness hazard as the debit path.
		updated, err := s.balances.FindBySub(ctx, tx, sub)
		if err != nil {
			return err
		}
		if updated == nil {
			return gorm.ErrRecordNotFound
		}

		resp = balancedomain.MutationResponse{
			Balance: updated.BalanceUnits,
			EntryID: entry.ID,
		}
		s.stageEvent(ctx, tx, events.Event{
			Sub:       sub,
			Type:      events.EventCreditProcessed,
			DedupeKey: "credit:" + sub + ":" + ref,
			Payload: map[string]any{
				"units":          req.Units,
				"ref":            ref,
				"reason":         req.Reason,
				"source_service": req.SourceService,
				"balance_before": updated.BalanceUnits - req.Units,
				"balance_after":  updated.BalanceUnits,
				"tx_id":          entry.ID.String(),
			},
		})
		return nil
	})

	if errors.Is(txErr, errConcurrentReplay) {
		return s.resolveReplay(ctx, sub, ref, ledgerdomain.DirectionCredit)
	}
	if txErr != nil {
		return balancedomain.MutationResponse{}, txErr
	}

	s.metrics.RecordLedgerOperation("credit", outcomeLabel(resp.Replayed))
	return resp, nil
}

// resolveReplay re-reads the winning journal entry and the current balance
// after a unique-constraint race, outside the rolled-back transaction.
func (s *Service) resolveReplay(ctx context.Context, sub, ref string, direction ledgerdomain.Direction) (balancedomain.MutationResponse, error) {
	entry, err := s.entries.FindByRef(ctx, s.db, sub, ref, direction)
	if err != nil {
		return balancedomain.MutationResponse{}, err
	}
	if entry == nil {
		return balancedomain.MutationResponse{}, errConcurrentReplay
	}
	balance, err := s.balances.FindBySub(ctx, s.db, sub)
	if err != nil {
		return balancedomain.MutationResponse{}, err
	}
	s.metrics.RecordLedgerOperation(string(direction), "replay")
	return replayResponse(balance, entry), nil
}

func (s *Service) stageEvent(ctx context.Context, tx *gorm.DB, evt events.Event) {
	if s.outbox == nil {
		return
	}
	// Event staging must never fail the ledger transaction.
	if err := s.outbox.PublishTx(ctx, tx, evt); err != nil {
		s.log.Warn("failed to stage billing event",
			zap.String("event_type", evt.Type),
			zap.String("sub", evt.Sub),
			zap.Error(err),
		)
	}
}

func replayResponse(balance *balancedomain.UserBalance, entry *ledgerdomain.Entry) balancedomain.MutationResponse {
	resp := balancedomain.MutationResponse{EntryID: entry.ID, Replayed: true}
	if balance != nil {
		resp.Balance = balance.BalanceUnits
	}
	return resp
}

func outcomeLabel(replayed bool) string {
	if replayed {
		return "replay"
	}
	return "ok"
}
