package audit

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
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
}

// Recorder appends audit rows. Recording is best effort and never fails the
// caller's request.
type Recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewRecorder(p Params) *Recorder {
	return &Recorder{
		db:    p.DB,
		log:   p.Log.Named("audit"),
		genID: p.GenID,
	}
}

func (r *Recorder) Record(ctx context.Context, actor, action, sub string, detail map[string]any) {
	payload := datatypes.JSONMap(detail)
	if payload == nil {
		payload = datatypes.JSONMap{}
	}
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (id, actor, action, sub, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.genID.Generate(),
		actor,
		action,
		sub,
		payload,
		time.Now().UTC(),
	).Error
	if err != nil {
		r.log.Warn("failed to record audit log",
			zap.String("action", action),
			zap.String("sub", sub),
			zap.Error(err),
		)
	}
}

var Module = fx.Module("audit",
	fx.Provide(NewRecorder),
)
