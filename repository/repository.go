package repository

import (
	"context"
	"reflect"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/BaSui01/datalayer/config"
	"github.com/BaSui01/datalayer/database"
	"github.com/BaSui01/datalayer/internal/telemetry"
	"github.com/BaSui01/datalayer/types"
)

// =============================================================================
// 📚 通用仓储
// =============================================================================

// SessionProvider 提供作用域会话与当前配置，*database.Manager 即满足
type SessionProvider interface {
	WithSession(ctx context.Context, fn func(*database.Session) error) error
	Settings() config.Settings
}

// Ordered 由声明了自然排序的实体实现，返回排序列名。
// 未实现时 GetAll 按主键升序。
type Ordered interface {
	OrderBy() string
}

// Repository 是实体类型 T（主键类型 ID）上的通用 CRUD。
// 每个写操作在一个事务中执行，失败时整体回滚。
type Repository[T any, ID comparable] struct {
	sessions   SessionProvider
	sess       *database.Session
	validators []Validator[T]
	logger     *zap.Logger
}

// New 创建仓储，每次调用各自获取并释放会话
func New[T any, ID comparable](sessions SessionProvider) *Repository[T, ID] {
	return &Repository[T, ID]{
		sessions: sessions,
		logger:   zap.NewNop(),
	}
}

// WithValidator 追加领域校验钩子，在基础校验之后按注册顺序执行
func (r *Repository[T, ID]) WithValidator(v Validator[T]) *Repository[T, ID] {
	r.validators = append(r.validators, v)
	return r
}

// WithLogger 设置日志
func (r *Repository[T, ID]) WithLogger(logger *zap.Logger) *Repository[T, ID] {
	if logger != nil {
		r.logger = logger.With(zap.String("component", "repository"))
	}
	return r
}

// On 返回绑定到调用方会话的仓储副本，操作不再各自获取会话。
// 会话仍归调用方所有，由调用方释放。
func (r *Repository[T, ID]) On(sess *database.Session) *Repository[T, ID] {
	bound := *r
	bound.sess = sess
	bound.validators = append([]Validator[T](nil), r.validators...)
	return &bound
}

// withSession 在 repository.<op> span 内执行 fn，绑定会话时复用之
func (r *Repository[T, ID]) withSession(ctx context.Context, op string, fn func(context.Context, *database.Session) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "repository."+op,
		trace.WithAttributes(
			attribute.String("datalayer.entity", entityName[T]()),
			attribute.Bool("datalayer.bound_session", r.sess != nil),
		),
	)
	defer span.End()

	var err error
	if r.sess != nil {
		err = fn(ctx, r.sess)
	} else {
		err = r.sessions.WithSession(ctx, func(s *database.Session) error {
			return fn(ctx, s)
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// =============================================================================
// 🎯 CRUD
// =============================================================================

// Create 校验并插入实体，返回带生成主键的持久化实体。
// 校验失败返回 VALIDATION，唯一键/外键冲突返回 CONSTRAINT。
func (r *Repository[T, ID]) Create(ctx context.Context, data T) (T, error) {
	var zero T
	if err := r.validate(ctx, &data); err != nil {
		return zero, err
	}

	err := r.withSession(ctx, "create", func(ctx context.Context, s *database.Session) error {
		return s.RunTx(ctx, "create", func(tx *gorm.DB) error {
			return tx.Create(&data).Error
		})
	})
	if err != nil {
		return zero, err
	}

	r.logger.Debug("entity created", zap.String("entity", entityName[T]()))
	return data, nil
}

// Get 按主键查找；不存在时返回 false 且 error 为 nil
func (r *Repository[T, ID]) Get(ctx context.Context, id ID) (T, bool, error) {
	var out T
	var found bool

	err := r.withSession(ctx, "get", func(ctx context.Context, s *database.Session) error {
		return s.Run(ctx, "get", func(db *gorm.DB) error {
			res := db.Where(primaryKeyEq(id)).Limit(1).Find(&out)
			found = res.RowsAffected > 0
			return res.Error
		})
	})
	if err != nil || !found {
		var zero T
		return zero, false, err
	}
	return out, true, nil
}

// GetAll 按偏移分页返回实体。skip 必须 >= 0，limit 必须 > 0，
// limit 超过 MaxPageSize 时截断为 MaxPageSize。
func (r *Repository[T, ID]) GetAll(ctx context.Context, skip, limit int) ([]T, error) {
	if skip < 0 {
		return nil, types.Errorf(types.ErrValidation, "skip must be >= 0, got %d", skip).WithField("skip")
	}
	if limit <= 0 {
		return nil, types.Errorf(types.ErrValidation, "limit must be > 0, got %d", limit).WithField("limit")
	}
	if maxPage := r.maxPageSize(); limit > maxPage {
		limit = maxPage
	}

	out := make([]T, 0, min(limit, 64))
	err := r.withSession(ctx, "get_all", func(ctx context.Context, s *database.Session) error {
		return s.Run(ctx, "get_all", func(db *gorm.DB) error {
			return db.Clauses(orderBy[T]()).Offset(skip).Limit(limit).Find(&out).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update 将 patch 合并到现有实体并整体校验后保存。
// patch 的键可以是字段名或列名；未知字段与主键返回 VALIDATION。
// 实体不存在时返回 false 且 error 为 nil。校验失败时实体保持原状。
func (r *Repository[T, ID]) Update(ctx context.Context, id ID, patch map[string]any) (T, bool, error) {
	var entity T
	var found bool

	err := r.withSession(ctx, "update", func(ctx context.Context, s *database.Session) error {
		return s.RunTx(ctx, "update", func(tx *gorm.DB) error {
			res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where(primaryKeyEq(id)).Limit(1).Find(&entity)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			found = true

			if err := merge(ctx, tx, &entity, patch); err != nil {
				return err
			}
			if err := r.validate(ctx, &entity); err != nil {
				return err
			}
			return tx.Save(&entity).Error
		})
	})

	if err != nil || !found {
		var zero T
		return zero, false, err
	}
	return entity, true, nil
}

// Delete 按主键删除，返回是否确有记录被删除
func (r *Repository[T, ID]) Delete(ctx context.Context, id ID) (bool, error) {
	var deleted bool

	err := r.withSession(ctx, "delete", func(ctx context.Context, s *database.Session) error {
		return s.RunTx(ctx, "delete", func(tx *gorm.DB) error {
			res := tx.Where(primaryKeyEq(id)).Delete(new(T))
			deleted = res.RowsAffected > 0
			return res.Error
		})
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Count 统计满足等值过滤条件的实体数；filter 为空时统计全部。
// 过滤键可以是字段名或列名，未知键返回 VALIDATION。
func (r *Repository[T, ID]) Count(ctx context.Context, filter map[string]any) (int64, error) {
	var n int64

	err := r.withSession(ctx, "count", func(ctx context.Context, s *database.Session) error {
		return s.Run(ctx, "count", func(db *gorm.DB) error {
			q := db.Model(new(T))
			if len(filter) > 0 {
				where, err := columns[T](db, filter)
				if err != nil {
					return err
				}
				q = q.Where(where)
			}
			return q.Count(&n).Error
		})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (r *Repository[T, ID]) maxPageSize() int {
	if n := r.sessions.Settings().MaxPageSize; n > 0 {
		return n
	}
	return config.DefaultMaxPageSize
}

func primaryKeyEq(id any) clause.Expression {
	return clause.Eq{
		Column: clause.Column{Table: clause.CurrentTable, Name: clause.PrimaryKey},
		Value:  id,
	}
}

// orderBy 自然排序列在前，主键作为稳定的次序
func orderBy[T any]() clause.OrderBy {
	pk := clause.OrderByColumn{Column: clause.Column{Table: clause.CurrentTable, Name: clause.PrimaryKey}}

	var zero T
	var col string
	if o, ok := any(zero).(Ordered); ok {
		col = o.OrderBy()
	} else if o, ok := any(&zero).(Ordered); ok {
		col = o.OrderBy()
	}
	if col == "" {
		return clause.OrderBy{Columns: []clause.OrderByColumn{pk}}
	}
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Table: clause.CurrentTable, Name: col}},
		pk,
	}}
}

func parseSchema[T any](db *gorm.DB) (*schema.Schema, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(new(T)); err != nil {
		return nil, err
	}
	return stmt.Schema, nil
}

// merge 按 schema 将 patch 写入 entity；键按字典序处理，错误信息稳定
func merge[T any](ctx context.Context, db *gorm.DB, entity *T, patch map[string]any) error {
	sch, err := parseSchema[T](db)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rv := reflect.ValueOf(entity).Elem()
	for _, key := range keys {
		field := sch.LookUpField(key)
		if field == nil || field.DBName == "" {
			return types.Errorf(types.ErrValidation, "unknown field %q", key).WithField(key)
		}
		if field.PrimaryKey {
			return types.Errorf(types.ErrValidation, "primary key %q cannot be updated", key).WithField(key)
		}
		if err := field.Set(ctx, rv, patch[key]); err != nil {
			return types.Errorf(types.ErrValidation, "invalid value for %q", key).
				WithField(key).WithCause(err)
		}
	}
	return nil
}

// columns 将过滤键映射为列名
func columns[T any](db *gorm.DB, filter map[string]any) (map[string]any, error) {
	sch, err := parseSchema[T](db)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(filter))
	for key, v := range filter {
		field := sch.LookUpField(key)
		if field == nil || field.DBName == "" {
			return nil, types.Errorf(types.ErrValidation, "unknown filter field %q", key).WithField(key)
		}
		out[field.DBName] = v
	}
	return out, nil
}

func entityName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().Name()
}
