package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	"github.com/smallbiznis/cooptariff/internal/clock"
	obscontext "github.com/smallbiznis/cooptariff/internal/observability/context"
	"github.com/smallbiznis/cooptariff/internal/observability/logger"
	"github.com/smallbiznis/cooptariff/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, event auditdomain.Event) error {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	entityType := strings.TrimSpace(event.EntityType)
	if entityType == "" {
		return auditdomain.ErrInvalidEntity
	}
	if event.EntityID == 0 {
		return auditdomain.ErrInvalidEntityID
	}
	if tx == nil {
		tx = s.db
	}

	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = obscontext.ActorTypeSystem
	}

	entry := auditdomain.LedgerEvent{
		ID:         s.genID.Generate(),
		EntityType: entityType,
		EntityID:   event.EntityID,
		Action:     action,
		RateBefore: event.RateBefore,
		RateAfter:  event.RateAfter,
		ActorType:  actorType,
		ActorID:    normalize(actorID),
		RequestID:  normalize(obscontext.RequestIDFromContext(ctx)),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if len(event.Metadata) > 0 {
		entry.Metadata = datatypes.JSONMap(event.Metadata)
	}

	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		s.log.Warn("failed to write ledger event", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) Publish(ctx context.Context, events ...auditdomain.Event) {
	log := logger.WithContext(ctx, s.log)
	for _, event := range events {
		fields := []zap.Field{
			zap.String("entity_type", event.EntityType),
			zap.String("entity_id", event.EntityID.String()),
		}
		if event.RateBefore != nil {
			fields = append(fields, zap.String("rate_before", event.RateBefore.StringFixed(4)))
		}
		if event.RateAfter != nil {
			fields = append(fields, zap.String("rate_after", event.RateAfter.StringFixed(4)))
		}
		log.Info("ledger."+strings.TrimSpace(event.Action), fields...)
	}
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	filter := auditdomain.ListFilter{
		EntityType: strings.TrimSpace(req.EntityType),
		Action:     strings.TrimSpace(req.Action),
		Limit:      req.Limit(),
	}

	if raw := strings.TrimSpace(req.EntityID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidEntityID
		}
		filter.EntityID = id
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListResponse{}, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	page, info := pagination.BuildCursorPageInfo(items, filter.Limit, func(item auditdomain.LedgerEvent) string {
		return item.ID.String()
	})
	if page == nil {
		page = []auditdomain.LedgerEvent{}
	}
	return auditdomain.ListResponse{PageInfo: info, Events: page}, nil
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
